package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLongURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "https", url: "https://example.com/page"},
		{name: "http with query", url: "http://example.com/a?b=c#d"},
		{name: "empty", url: "", wantErr: true},
		{name: "blank", url: "   ", wantErr: true},
		{name: "not a url", url: "not a url", wantErr: true},
		{name: "without scheme", url: "google.com", wantErr: true},
		{name: "scheme without host", url: "https://", wantErr: true},
		{name: "unsupported scheme", url: "javascript:alert(1)", wantErr: true},
		{name: "too long", url: "https://" + strings.Repeat("a", MaxURLLength), wantErr: true},
		{name: "percent escapes", url: "https://example.com/a%20b?q=%C3%A9&x=[1]"},
		{name: "space in path", url: "http://example.com/has space", wantErr: true},
		{name: "angle brackets", url: "https://example.com/<script>", wantErr: true},
		{name: "double quote", url: `http://example.com/a"b`, wantErr: true},
		{name: "bad percent escape", url: "https://example.com/?q=%zz", wantErr: true},
		{name: "truncated percent escape", url: "https://example.com/a%2", wantErr: true},
		{name: "non ascii", url: "https://example.com/café", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLongURL(tt.url)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidateCustomCode(t *testing.T) {
	valid := []string{"abc", "my-link", "My_Link_2024", "aaaaaaaaaaaaaaa"}
	for _, code := range valid {
		assert.NoError(t, ValidateCustomCode(code), code)
	}

	invalid := []string{"", "ab", "has space", "toolongcodeexceeding15", "emoji🙂", "slash/code", "dot.code"}
	for _, code := range invalid {
		assert.ErrorIs(t, ValidateCustomCode(code), ErrInvalidInput, code)
	}
}

func TestGenerateShortCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		code, err := GenerateShortCode()
		require.NoError(t, err)
		require.Len(t, code, GeneratedCodeLength)
		for _, r := range code {
			require.True(t, strings.ContainsRune(CodeAlphabet, r), "unexpected rune %q in %q", r, code)
		}
		seen[code] = struct{}{}
	}
	// 64^8 possible codes, a repeat within 1000 draws would point at a broken source.
	require.Len(t, seen, 1000)
}

func TestReuseQuery(t *testing.T) {
	generated := Link{ShortCode: "Ab3_x-9Z"}
	customEight := Link{ShortCode: "promo-24", Custom: true}
	customShort := Link{ShortCode: "my-link", Custom: true}

	shape := ReuseByShape.Query()
	assert.True(t, shape.Matches(generated))
	assert.True(t, shape.Matches(customEight), "shape matching cannot tell an 8 char custom code apart")
	assert.False(t, shape.Matches(customShort))

	flag := ReuseByFlag.Query()
	assert.True(t, flag.Matches(generated))
	assert.False(t, flag.Matches(customEight))
	assert.False(t, flag.Matches(customShort))
}

func TestParseReuseMatch(t *testing.T) {
	m, err := ParseReuseMatch("")
	require.NoError(t, err)
	assert.Equal(t, ReuseByShape, m)

	m, err = ParseReuseMatch(" FLAG ")
	require.NoError(t, err)
	assert.Equal(t, ReuseByFlag, m)

	_, err = ParseReuseMatch("regex")
	require.Error(t, err)
}
