package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ndajr/shortlink/internal/core"
)

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

type shortenResult struct {
	ShortURL string `json:"shortUrl"`
}

// apiError is a non-2xx response of the API.
type apiError struct {
	Status  int
	Message string `json:"error"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

func (e *apiError) notFound() bool {
	return e.Status == http.StatusNotFound
}

func asAPIError(err error) (*apiError, bool) {
	var apiErr *apiError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

func (c *client) shorten(ctx context.Context, longURL, customCode string) (shortenResult, error) {
	body, err := json.Marshal(map[string]string{"longUrl": longURL, "customCode": customCode})
	if err != nil {
		return shortenResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/shorten", bytes.NewReader(body))
	if err != nil {
		return shortenResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var res shortenResult
	if err := c.do(req, &res); err != nil {
		return shortenResult{}, err
	}
	return res, nil
}

func (c *client) link(ctx context.Context, shortCode string) (core.Link, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/links/"+url.PathEscape(shortCode), nil)
	if err != nil {
		return core.Link{}, err
	}

	var link core.Link
	if err := c.do(req, &link); err != nil {
		return core.Link{}, err
	}
	return link, nil
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach server, make sure it is running: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		if decodeErr := json.NewDecoder(resp.Body).Decode(apiErr); decodeErr != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}
