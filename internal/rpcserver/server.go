// Package rpcserver runs the gRPC health service and the gateway mux that
// exposes it over HTTP as /healthz.
package rpcserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Server struct {
	logger     *slog.Logger
	grpcServer *grpc.Server
	gwmux      *runtime.ServeMux
	addr       net.Addr

	Health *HealthService
}

// NewServer builds the gRPC server. cache may be nil when caching is disabled.
func NewServer(logger *slog.Logger, store Pinger, cache Pinger) *Server {
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	)

	srv := &Server{
		logger:     logger,
		grpcServer: grpcServer,
		Health:     NewHealthService(logger, store, cache),
	}

	srv.registerServices(grpcServer)
	grpc_prometheus.Register(grpcServer)
	return srv
}

func (s *Server) registerServices(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.Health)
}

// Run starts serving on address and builds the gateway mux. Both are torn down
// once ctx is done; wg tracks the shutdown goroutines.
func (s *Server) Run(ctx context.Context, address string, wg *sync.WaitGroup) error {
	conn, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("rpcserver: listen on %s: %w", address, err)
	}
	s.addr = conn.Addr()

	go func() {
		s.logger.Info("starting shortlink gRPC service", "addr", s.addr.String())
		if serveErr := s.grpcServer.Serve(conn); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			s.logger.Error("gRPC server failed to serve", "error", serveErr)
		}
	}()

	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	gwConn, err := grpc.NewClient(s.addr.String(), opts...)
	if err != nil {
		s.grpcServer.Stop()
		return fmt.Errorf("rpcserver: gateway client: %w", err)
	}

	s.gwmux = runtime.NewServeMux(
		runtime.WithErrorHandler(NewCustomHTTPErrorHandler(s.logger)),
		runtime.WithHealthzEndpoint(healthpb.NewHealthClient(gwConn)),
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		s.logger.Info("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		s.logger.Info("gRPC gateway client shutting down")
		if closeErr := gwConn.Close(); closeErr != nil {
			s.logger.Error("gRPC gateway client shutdown failed", "error", closeErr)
		}
	}()

	return nil
}

// GatewayMux returns the gateway mux built by Run, or nil before Run.
func (s *Server) GatewayMux() *runtime.ServeMux {
	return s.gwmux
}

// Addr returns the bound listen address after Run.
func (s *Server) Addr() net.Addr {
	return s.addr
}
