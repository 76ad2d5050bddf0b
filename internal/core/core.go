package core

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Link is the persisted mapping from a short code to its target URL.
type Link struct {
	ShortCode string    `db:"short_code" json:"shortCode" bson:"shortCode"`
	LongURL   string    `db:"long_url" json:"longUrl" bson:"longUrl"`
	Custom    bool      `db:"custom" json:"custom" bson:"custom"`
	Clicks    int64     `db:"clicks" json:"clicks" bson:"clicks"`
	CreatedAt time.Time `db:"created_at" json:"createdAt" bson:"createdAt"`
}

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("short code already in use")
	ErrNotFound     = errors.New("short url not found")
	ErrStorage      = errors.New("storage error")

	// ErrDuplicateCode is returned by link stores when an insert hits an existing short code.
	ErrDuplicateCode = errors.New("duplicate short code")
	// ErrCacheMiss is returned by the lookup cache when a code is not cached.
	ErrCacheMiss = errors.New("cache miss")
)

// MaxURLLength is the maximum accepted length of a long URL.
const MaxURLLength = 2083

const (
	// CodeAlphabet is the set of characters generated codes are drawn from.
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
	// GeneratedCodeLength is the fixed length of every generated short code.
	GeneratedCodeLength = 8
)

var customCodeRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,15}$`)

// uriCharsRe accepts only RFC 3986 unreserved and reserved characters and well formed percent escapes.
var uriCharsRe = regexp.MustCompile(`^(?:[A-Za-z0-9\-._~:/?#\[\]@!$&'()*+,;=]|%[0-9A-Fa-f]{2})+$`)

// ReuseMatch selects which existing records may be handed out again for a long URL.
type ReuseMatch string

const (
	// ReuseByShape reuses any record whose code has the generated length.
	ReuseByShape ReuseMatch = "shape"
	// ReuseByFlag additionally requires the record not to be custom.
	ReuseByFlag ReuseMatch = "flag"
)

// ParseReuseMatch validates a configured reuse mode.
func ParseReuseMatch(s string) (ReuseMatch, error) {
	switch m := ReuseMatch(strings.ToLower(strings.TrimSpace(s))); m {
	case ReuseByShape, ReuseByFlag:
		return m, nil
	case "":
		return ReuseByShape, nil
	default:
		return "", fmt.Errorf("unknown reuse match %q", s)
	}
}

// ReuseQuery narrows the lookup of a reusable generated code.
type ReuseQuery struct {
	CodeLength    int
	ExcludeCustom bool
}

// Query returns the store query for the reuse mode.
func (m ReuseMatch) Query() ReuseQuery {
	return ReuseQuery{
		CodeLength:    GeneratedCodeLength,
		ExcludeCustom: m == ReuseByFlag,
	}
}

// Matches reports whether l may be reused under q.
func (q ReuseQuery) Matches(l Link) bool {
	if len(l.ShortCode) != q.CodeLength {
		return false
	}
	return !q.ExcludeCustom || !l.Custom
}

// ValidateLongURL checks that raw is an absolute http(s) URL with a host.
func ValidateLongURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: longUrl is required", ErrInvalidInput)
	}
	if len(raw) > MaxURLLength {
		return fmt.Errorf("%w: url exceeds maximum length of %d characters", ErrInvalidInput, MaxURLLength)
	}

	if !uriCharsRe.MatchString(raw) {
		return fmt.Errorf("%w: invalid long URL", ErrInvalidInput)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid long URL", ErrInvalidInput)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("%w: invalid long URL", ErrInvalidInput)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: only http and https urls are accepted", ErrInvalidInput)
	}
	return nil
}

// ValidateCustomCode checks a caller supplied short code.
func ValidateCustomCode(code string) error {
	if !customCodeRe.MatchString(code) {
		return fmt.Errorf("%w: invalid customCode format, must be 3-15 alphanumeric characters, underscores, or hyphens", ErrInvalidInput)
	}
	return nil
}

// CodeGenerator produces candidate short codes.
type CodeGenerator interface {
	Generate() (string, error)
}

// RandomGenerator draws fixed length codes from CodeAlphabet using crypto/rand.
type RandomGenerator struct{}

func (RandomGenerator) Generate() (string, error) {
	return GenerateShortCode()
}

// GenerateShortCode creates a random, URL-friendly string.
func GenerateShortCode() (string, error) {
	n := big.NewInt(int64(len(CodeAlphabet)))
	result := make([]byte, GeneratedCodeLength)
	for i := range result {
		num, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("generateShortCode: %w", err)
		}
		result[i] = CodeAlphabet[num.Int64()]
	}
	return string(result), nil
}
