package rpcserver

import (
	"context"
	"log/slog"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var _ healthpb.HealthServer = (*HealthService)(nil)

// Pinger is a dependency whose availability decides the service health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthService struct {
	healthpb.UnimplementedHealthServer
	logger *slog.Logger
	store  Pinger
	cache  Pinger
}

// NewHealthService reports SERVING while store, and cache when not nil, answer a ping.
func NewHealthService(logger *slog.Logger, store Pinger, cache Pinger) *HealthService {
	return &HealthService{
		logger: logger,
		store:  store,
		cache:  cache,
	}
}

func (h *HealthService) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if dep, err := h.down(ctx); err != nil {
		h.logger.Warn("health check failed", "dependency", dep, "error", err)
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func (h *HealthService) down(ctx context.Context) (string, error) {
	if err := h.store.Ping(ctx); err != nil {
		return "store", err
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			return "redis", err
		}
	}
	return "", nil
}
