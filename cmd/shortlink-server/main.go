package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ndajr/shortlink/internal/cachestore"
	"github.com/ndajr/shortlink/internal/config"
	"github.com/ndajr/shortlink/internal/datastore"
	"github.com/ndajr/shortlink/internal/httpserver"
	"github.com/ndajr/shortlink/internal/memstore"
	"github.com/ndajr/shortlink/internal/mongostore"
	"github.com/ndajr/shortlink/internal/rpcserver"
	"github.com/ndajr/shortlink/internal/shortener"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	version   = "dev"
	gitCommit = "none"
)

type linkStore interface {
	shortener.LinkStore
	rpcserver.Pinger
	Close()
}

func main() {
	appCfg, redisCfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatal(err)
	}

	ctx, shutdown := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer shutdown()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: appCfg.LogLevel}))
	logger.Info("starting shortlink service", "version", version, "commit", gitCommit)

	if err := run(ctx, logger, appCfg, redisCfg); err != nil {
		logger.Error("shortlink service failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, appCfg config.AppSettings, redisCfg config.Redis) error {
	db, err := openStore(ctx, logger, appCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to datastore: %w", err)
	}
	defer db.Close()

	svcOpts := shortener.Options{
		Logger:        logger,
		ReuseMatch:    appCfg.ReuseMatch,
		StrictClicks:  appCfg.StrictClicks,
		ReservedCodes: httpserver.ReservedCodes(),
	}
	var cachePinger rpcserver.Pinger
	if redisCfg.Enabled() {
		cache, err := cachestore.NewCache(ctx, logger, prometheus.DefaultRegisterer, redisCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to cache: %w", err)
		}
		defer cache.Close()
		svcOpts.Cache = cache
		cachePinger = cache
	} else {
		logger.Info("redis address not set, running without cache")
	}

	svc := shortener.NewService(db, svcOpts)
	defer svc.Wait()

	var wg sync.WaitGroup

	grpcSrv := rpcserver.NewServer(logger, db, cachePinger)
	if err := grpcSrv.Run(ctx, appCfg.GrpcEndpoint, &wg); err != nil {
		return fmt.Errorf("failed to run gRPC server: %w", err)
	}

	httpSrv, err := httpserver.NewServer(logger, svc, httpserver.Options{
		Addr:    appCfg.HTTPAddr(),
		BaseURL: appCfg.BaseURL,
		Healthz: grpcSrv.GatewayMux(),
		Metrics: promhttp.Handler(),
	})
	if err != nil {
		return err
	}
	if err := httpSrv.Run(ctx, &wg); err != nil {
		return fmt.Errorf("failed to run HTTP server: %w", err)
	}

	<-ctx.Done()
	logger.Info("powering down shortlink service")
	wg.Wait()
	return nil
}

func openStore(ctx context.Context, logger *slog.Logger, appCfg config.AppSettings) (linkStore, error) {
	driver, err := appCfg.StoreDriver()
	if err != nil {
		return nil, err
	}
	logger.Info("opening link store", "driver", driver)

	switch driver {
	case config.DriverPostgres:
		return datastore.NewStore(ctx, logger, prometheus.DefaultRegisterer, appCfg.DBAddress)
	case config.DriverMongo:
		return mongostore.NewStore(ctx, logger, appCfg.DBAddress)
	case config.DriverMemory:
		logger.Warn("using the in-memory link store, links are lost on restart")
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}
