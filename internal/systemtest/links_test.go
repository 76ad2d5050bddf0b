package systemtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ndajr/shortlink/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type response struct {
	status   int
	location string
	body     map[string]any
}

func call(t *testing.T, method, url string, body any) response {
	t.Helper()
	res, err := callE(method, url, body)
	require.NoError(t, err)
	return res
}

// callE is safe to use from goroutines other than the test's.
func callE(method, url string, body any) (response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return response{}, err
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := noRedirectClient.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	out := response{status: resp.StatusCode, location: resp.Header.Get("Location")}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&out.body); err != nil {
			return response{}, err
		}
	}
	return out, nil
}

func shorten(t *testing.T, b backend, longURL, customCode string) response {
	t.Helper()
	body := map[string]string{"longUrl": longURL}
	if customCode != "" {
		body["customCode"] = customCode
	}
	return call(t, http.MethodPost, b.baseURL+"/api/shorten", body)
}

func codeFrom(t *testing.T, b backend, res response) string {
	t.Helper()
	shortURL, ok := res.body["shortUrl"].(string)
	require.True(t, ok, res.body)
	require.True(t, strings.HasPrefix(shortURL, b.baseURL+"/"), shortURL)
	return strings.TrimPrefix(shortURL, b.baseURL+"/")
}

// uniq keeps tests independent of each other and of earlier runs.
func uniq(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano())
}

func TestLinks(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			testLinks(t, b)
		})
	}
}

func testLinks(t *testing.T, b backend) {
	ctx := context.Background()

	tests := []struct {
		name   string
		assert func(t *testing.T)
	}{
		{
			name: "Shorten/generated_then_reused",
			assert: func(t *testing.T) {
				longURL := "https://example.com/" + uniq("page")
				first := shorten(t, b, longURL, "")
				require.Equal(t, http.StatusCreated, first.status)
				code := codeFrom(t, b, first)
				require.Len(t, code, core.GeneratedCodeLength)

				second := shorten(t, b, longURL, "")
				require.Equal(t, http.StatusOK, second.status)
				require.Equal(t, code, codeFrom(t, b, second))

				redirect := call(t, http.MethodGet, b.baseURL+"/"+code, nil)
				require.Equal(t, http.StatusFound, redirect.status)
				require.Equal(t, longURL, redirect.location)

				link, err := b.store.FindByCode(ctx, code)
				require.NoError(t, err)
				require.EqualValues(t, 1, link.Clicks)
				require.False(t, link.Custom)
			},
		},
		{
			name: "Shorten/custom_code_conflict",
			assert: func(t *testing.T) {
				code := uniq("c")[:15]
				res := shorten(t, b, "https://example.com", code)
				require.Equal(t, http.StatusCreated, res.status)
				require.Equal(t, code, codeFrom(t, b, res))

				res = shorten(t, b, "https://example.com/other", code)
				require.Equal(t, http.StatusConflict, res.status)
				require.NotEmpty(t, res.body["error"])
			},
		},
		{
			name: "Shorten/concurrent_custom_claims",
			assert: func(t *testing.T) {
				code := uniq("r")[:15]
				const n = 10
				statuses := make(chan int, n)
				var wg sync.WaitGroup
				for i := 0; i < n; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						res, err := callE(http.MethodPost, b.baseURL+"/api/shorten", map[string]string{
							"longUrl":    fmt.Sprintf("https://example.com/%d", i),
							"customCode": code,
						})
						if assert.NoError(t, err) {
							statuses <- res.status
						}
					}(i)
				}
				wg.Wait()
				close(statuses)

				created := 0
				for s := range statuses {
					if s == http.StatusCreated {
						created++
						continue
					}
					assert.Equal(t, http.StatusConflict, s)
				}
				require.Equal(t, 1, created)
			},
		},
		{
			name: "Shorten/invalid_input",
			assert: func(t *testing.T) {
				for _, body := range []map[string]string{
					{},
					{"longUrl": "not a url"},
					{"longUrl": "http://example.com/has space"},
					{"longUrl": "https://" + strings.Repeat("a", core.MaxURLLength)},
					{"longUrl": "https://example.com", "customCode": "ab"},
					{"longUrl": "https://example.com", "customCode": "has space"},
					{"longUrl": "https://example.com", "customCode": "toolongcodeexceeding15"},
				} {
					res := call(t, http.MethodPost, b.baseURL+"/api/shorten", body)
					require.Equal(t, http.StatusBadRequest, res.status, body)
				}
			},
		},
		{
			name: "Redirect/not_found",
			assert: func(t *testing.T) {
				res := call(t, http.MethodGet, b.baseURL+"/nope-"+uniq("")[10:], nil)
				require.Equal(t, http.StatusNotFound, res.status)
				require.Equal(t, core.ErrNotFound.Error(), res.body["error"])
			},
		},
		{
			name: "Redirect/concurrent_clicks",
			assert: func(t *testing.T) {
				code := codeFrom(t, b, shorten(t, b, "https://example.com/"+uniq("hot"), ""))
				const n = 40
				var wg sync.WaitGroup
				for i := 0; i < n; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						res, err := callE(http.MethodGet, b.baseURL+"/"+code, nil)
						if assert.NoError(t, err) {
							assert.Equal(t, http.StatusFound, res.status)
						}
					}()
				}
				wg.Wait()

				res := call(t, http.MethodGet, b.baseURL+"/api/links/"+code, nil)
				require.Equal(t, http.StatusOK, res.status)
				require.EqualValues(t, n, res.body["clicks"])
			},
		},
		{
			name: "Healthz/serving",
			assert: func(t *testing.T) {
				res := call(t, http.MethodGet, b.baseURL+"/healthz", nil)
				require.Equal(t, http.StatusOK, res.status)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.assert)
	}
	b.svc.Wait()
}
