// Package cachestore keeps the short code to long URL mapping in Redis so hot
// redirects skip the link store.
package cachestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ndajr/shortlink/internal/config"
	"github.com/ndajr/shortlink/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// cacheConnectTimeout is the timeout for establishing redis connection.
const cacheConnectTimeout = 15 * time.Second

type Cache struct {
	rdb     *redis.Client
	metrics Metrics
	logger  *slog.Logger
	cfg     config.Redis
}

func NewCache(ctx context.Context, logger *slog.Logger, reg prometheus.Registerer, cfg config.Redis) (*Cache, error) {
	if !cfg.Enabled() {
		return nil, errors.New("cache: missing redis address")
	}
	ctx, cancel := context.WithTimeout(ctx, cacheConnectTimeout)
	defer cancel()

	metrics, err := NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to register metrics: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		PoolSize: cfg.PoolSize,
	})

	c := &Cache{
		rdb:     rdb,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
	}

	if err := c.waitReady(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: failed to ping redis: %w", err)
	}

	// Best effort: popular links should survive eviction once maxmemory is reached.
	// Needs maxmemory to be set on the server to have any effect.
	if err := rdb.ConfigSet(ctx, "maxmemory-policy", "allkeys-lfu").Err(); err != nil {
		logger.Warn("could not set redis maxmemory-policy to allkeys-lfu, ensure it is configured on the server", "error", err)
	}
	logger.Info("successfully connected to redis", "addr", cfg.Addr)

	return c, nil
}

func (c *Cache) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(time.Second * 1)
	defer ticker.Stop()

	for {
		err := c.rdb.Ping(ctx).Err()
		if err == nil {
			return nil
		}

		c.logger.Warn("unable to establish connection, retrying...", "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("redis connection timed out or was cancelled: %w (last error: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// Ping checks the connection once.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetURL retrieves the long URL of shortCode. It returns core.ErrCacheMiss if the key does not exist.
func (c *Cache) GetURL(ctx context.Context, shortCode string) (string, error) {
	// GETEX resets the TTL on every read, so frequently used links stay cached.
	// Requires Redis 6.2+.
	val, err := c.rdb.GetEx(ctx, c.toInternalKey(shortCode), c.cfg.UrlTTL).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.metrics.Misses.WithLabelValues(c.cfg.UrlPrefix).Inc()
			return "", core.ErrCacheMiss
		}
		c.metrics.Errors.WithLabelValues(c.cfg.UrlPrefix, "get").Inc()
		return "", fmt.Errorf("cache: GetURL: %w", err)
	}
	c.metrics.Hits.WithLabelValues(c.cfg.UrlPrefix).Inc()
	return val, nil
}

// SetURL caches longURL under shortCode. Links are immutable so an overwrite is harmless.
func (c *Cache) SetURL(ctx context.Context, shortCode, longURL string) error {
	if err := c.rdb.Set(ctx, c.toInternalKey(shortCode), longURL, c.cfg.UrlTTL).Err(); err != nil {
		c.metrics.Errors.WithLabelValues(c.cfg.UrlPrefix, "set").Inc()
		return fmt.Errorf("cache: SetURL: %w", err)
	}
	return nil
}

func (c *Cache) toInternalKey(s string) string {
	return fmt.Sprintf("%s:%s", c.cfg.UrlPrefix, s)
}

func (c *Cache) Close() {
	_ = c.rdb.Close()
}
