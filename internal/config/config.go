// Package config resolves the service settings. Values are applied in order:
// defaults, an optional .env file, the process environment, then command line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/ndajr/shortlink/internal/core"
)

const (
	envDatabaseURL  = "DATABASE_URL"
	envMongoURI     = "MONGO_URI"
	envPort         = "PORT"
	envBaseURL      = "BASE_URL"
	envGrpcEndpoint = "GRPC_ENDPOINT"
	envReuseMatch   = "REUSE_MATCH"
	envStrictClicks = "STRICT_CLICKS"
	envLogLevel     = "LOG_LEVEL"
)

const (
	envRedisAddr      = "REDIS_ADDR"
	envRedisURLTTL    = "REDIS_URL_TTL"
	envRedisURLPrefix = "REDIS_URL_PREFIX"
	envRedisPoolSize  = "REDIS_POOL_SIZE"
)

const (
	defaultDBAddress    = "postgres://localhost:5432/shortlink?sslmode=disable"
	defaultPort         = 3000
	defaultGrpcEndpoint = "localhost:3001"
	defaultURLTTL       = time.Hour
	defaultURLPrefix    = "link"
	defaultPoolSize     = 10
)

// StoreDriver names the link store backend selected by the DSN scheme.
type StoreDriver string

const (
	DriverPostgres StoreDriver = "postgres"
	DriverMongo    StoreDriver = "mongodb"
	DriverMemory   StoreDriver = "memory"
)

type AppSettings struct {
	Port         int
	BaseURL      string
	GrpcEndpoint string
	DBAddress    string
	ReuseMatch   core.ReuseMatch
	StrictClicks bool
	LogLevel     slog.Level
}

// HTTPAddr is the listen address of the HTTP server.
func (s AppSettings) HTTPAddr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// StoreDriver returns the backend implied by the DSN scheme.
func (s AppSettings) StoreDriver() (StoreDriver, error) {
	u, err := url.Parse(s.DBAddress)
	if err != nil {
		return "", fmt.Errorf("config: invalid db address: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return DriverPostgres, nil
	case "mongodb", "mongodb+srv":
		return DriverMongo, nil
	case "memory":
		return DriverMemory, nil
	default:
		return "", fmt.Errorf("config: unsupported db scheme %q", u.Scheme)
	}
}

// Redis holds the redirect cache settings. An empty Addr disables the cache.
type Redis struct {
	Addr      string
	UrlPrefix string
	PoolSize  int
	UrlTTL    time.Duration
}

func (r Redis) Enabled() bool {
	return r.Addr != ""
}

// Load reads .env (if present), the environment through getenv and the flags in args.
func Load(args []string, getenv func(string) string) (AppSettings, Redis, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return AppSettings{}, Redis{}, fmt.Errorf("config: failed to load .env: %w", err)
	}
	return parse(args, getenv)
}

func parse(args []string, getenv func(string) string) (AppSettings, Redis, error) {
	env := envReader{getenv: getenv}

	app := AppSettings{
		Port:         env.int(envPort, defaultPort),
		BaseURL:      env.string(envBaseURL, ""),
		GrpcEndpoint: env.string(envGrpcEndpoint, defaultGrpcEndpoint),
		DBAddress:    env.string(envDatabaseURL, env.string(envMongoURI, defaultDBAddress)),
		StrictClicks: env.bool(envStrictClicks, false),
	}
	rdb := Redis{
		Addr:      env.string(envRedisAddr, ""),
		UrlPrefix: env.string(envRedisURLPrefix, defaultURLPrefix),
		PoolSize:  env.int(envRedisPoolSize, defaultPoolSize),
		UrlTTL:    env.duration(envRedisURLTTL, defaultURLTTL),
	}
	reuse := env.string(envReuseMatch, string(core.ReuseByShape))
	logLevel := env.string(envLogLevel, "info")
	if env.err != nil {
		return AppSettings{}, Redis{}, env.err
	}

	fs := flag.NewFlagSet("shortlink-server", flag.ContinueOnError)
	fs.StringVar(&app.DBAddress, "db-addr", app.DBAddress, "link store DSN (postgres://, mongodb:// or memory://)")
	fs.IntVar(&app.Port, "port", app.Port, "HTTP listen port")
	fs.StringVar(&app.BaseURL, "base-url", app.BaseURL, "public base URL used to build short URLs")
	fs.StringVar(&app.GrpcEndpoint, "grpc-endpoint", app.GrpcEndpoint, "gRPC health endpoint")
	fs.StringVar(&rdb.Addr, "redis-addr", rdb.Addr, "redis address, empty disables the cache")
	fs.DurationVar(&rdb.UrlTTL, "redis-url-ttl", rdb.UrlTTL, "sliding TTL of cached links")
	fs.StringVar(&reuse, "reuse-match", reuse, "reuse matching mode: shape or flag")
	fs.BoolVar(&app.StrictClicks, "strict-clicks", app.StrictClicks, "fail redirects when the click counter cannot be updated")
	fs.StringVar(&logLevel, "log-level", logLevel, "log level: debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return AppSettings{}, Redis{}, fmt.Errorf("config: %w", err)
	}

	var err error
	if app.ReuseMatch, err = core.ParseReuseMatch(reuse); err != nil {
		return AppSettings{}, Redis{}, fmt.Errorf("config: %w", err)
	}
	if err = app.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return AppSettings{}, Redis{}, fmt.Errorf("config: invalid log level %q: %w", logLevel, err)
	}
	if app.Port <= 0 || app.Port > 65535 {
		return AppSettings{}, Redis{}, fmt.Errorf("config: invalid port %d", app.Port)
	}
	if app.BaseURL == "" {
		app.BaseURL = fmt.Sprintf("http://localhost:%d", app.Port)
	}
	app.BaseURL = strings.TrimRight(app.BaseURL, "/")
	if _, err = app.StoreDriver(); err != nil {
		return AppSettings{}, Redis{}, err
	}
	return app, rdb, nil
}

// envReader keeps the first parse error so callers can check once.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) string(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v := e.string(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *envReader) bool(key string, def bool) bool {
	v := e.string(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.string(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: invalid %s: %w", key, err)
	}
}
