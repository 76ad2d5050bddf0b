// Package systemtest runs the HTTP API end to end against real Postgres, Redis
// and MongoDB containers. Set SHORTLINK_SYSTEMTEST=1 to enable it.
package systemtest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ndajr/shortlink/internal/cachestore"
	"github.com/ndajr/shortlink/internal/config"
	"github.com/ndajr/shortlink/internal/datastore"
	"github.com/ndajr/shortlink/internal/httpserver"
	"github.com/ndajr/shortlink/internal/mongostore"
	"github.com/ndajr/shortlink/internal/rpcserver"
	"github.com/ndajr/shortlink/internal/shortener"
	"github.com/prometheus/client_golang/prometheus"
	tc "github.com/testcontainers/testcontainers-go"
	tcmongodb "github.com/testcontainers/testcontainers-go/modules/mongodb"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

const enableEnv = "SHORTLINK_SYSTEMTEST"

// backend is one running stack under test.
type backend struct {
	name    string
	baseURL string
	store   shortener.LinkStore
	svc     *shortener.Service
}

var backends []backend

func TestMain(m *testing.M) {
	if os.Getenv(enableEnv) != "1" {
		fmt.Printf("skipping system tests, set %s=1 to run them\n", enableEnv)
		os.Exit(0)
	}
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	pgDSN, stopPG, err := startPostgres(ctx)
	if err != nil {
		logger.Error("postgres container failed to start", "error", err)
		return 1
	}
	defer stopPG()

	redisAddr, stopRedis, err := startRedis(ctx)
	if err != nil {
		logger.Error("redis container failed to start", "error", err)
		return 1
	}
	defer stopRedis()

	mongoURI, stopMongo, err := startMongo(ctx)
	if err != nil {
		logger.Error("mongodb container failed to start", "error", err)
		return 1
	}
	defer stopMongo()

	// Postgres with the redis cache in front.
	pgReg := prometheus.NewRegistry()
	db, err := datastore.NewStore(ctx, logger, pgReg, pgDSN)
	if err != nil {
		logger.Error("datastore was unable to start", "error", err)
		return 1
	}
	defer db.Close()

	cache, err := cachestore.NewCache(ctx, logger, pgReg, config.Redis{
		Addr:      redisAddr,
		UrlPrefix: "systemtest",
		PoolSize:  10,
		UrlTTL:    time.Minute,
	})
	if err != nil {
		logger.Error("cache was unable to start", "error", err)
		return 1
	}
	defer cache.Close()

	pg, err := startBackend(ctx, &wg, logger, "postgres", pgReg, db, cache)
	if err != nil {
		logger.Error("postgres backend failed to start", "error", err)
		return 1
	}
	defer pg.close()

	mongoStore, err := mongostore.NewStore(ctx, logger, mongoURI+"/shortlink_systemtest")
	if err != nil {
		logger.Error("mongostore was unable to start", "error", err)
		return 1
	}
	defer mongoStore.Close()

	mg, err := startBackend(ctx, &wg, logger, "mongodb", prometheus.NewRegistry(), mongoStore, nil)
	if err != nil {
		logger.Error("mongodb backend failed to start", "error", err)
		return 1
	}
	defer mg.close()

	backends = []backend{pg.backend, mg.backend}
	return m.Run()
}

type runningBackend struct {
	backend
	srv *httptest.Server
}

func (r runningBackend) close() {
	r.srv.Close()
	r.svc.Wait()
}

type pingStore interface {
	shortener.LinkStore
	rpcserver.Pinger
}

func startBackend(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, name string, reg *prometheus.Registry, store pingStore, cache *cachestore.Cache) (runningBackend, error) {
	opts := shortener.Options{
		Logger:        logger,
		ReservedCodes: httpserver.ReservedCodes(),
	}
	var cachePinger rpcserver.Pinger
	if cache != nil {
		opts.Cache = cache
		cachePinger = cache
	}
	svc := shortener.NewService(store, opts)

	grpcSrv := rpcserver.NewServer(logger, store, cachePinger)
	if err := grpcSrv.Run(ctx, "127.0.0.1:0", wg); err != nil {
		return runningBackend{}, err
	}

	srv := httptest.NewUnstartedServer(nil)
	httpSrv, err := httpserver.NewServer(logger, svc, httpserver.Options{
		BaseURL:    "http://" + srv.Listener.Addr().String(),
		Healthz:    grpcSrv.GatewayMux(),
		Registerer: reg,
	})
	if err != nil {
		return runningBackend{}, err
	}
	srv.Config.Handler = httpSrv.Handler()
	srv.Start()

	return runningBackend{
		backend: backend{name: name, baseURL: srv.URL, store: store, svc: svc},
		srv:     srv,
	}, nil
}

func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("shortlink"),
		tcpostgres.WithUsername("shortlink"),
		tcpostgres.WithPassword("shortlink"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return "", nil, err
	}
	stop := func() { _ = tc.TerminateContainer(container) }

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		stop()
		return "", nil, err
	}
	return dsn, stop, nil
}

func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, err
	}
	stop := func() { _ = tc.TerminateContainer(container) }

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		stop()
		return "", nil, err
	}
	return endpoint, stop, nil
}

func startMongo(ctx context.Context) (string, func(), error) {
	container, err := tcmongodb.Run(ctx, "mongo:6")
	if err != nil {
		return "", nil, err
	}
	stop := func() { _ = tc.TerminateContainer(container) }

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		stop()
		return "", nil, err
	}
	return uri, stop, nil
}

// noRedirectClient returns redirects to the caller instead of following them.
var noRedirectClient = &http.Client{
	Timeout: 10 * time.Second,
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}
