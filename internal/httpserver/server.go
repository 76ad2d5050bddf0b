// Package httpserver exposes the link service over HTTP: the JSON API, the
// redirect endpoint, API docs, metrics and health.
package httpserver

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ndajr/shortlink/internal/core"
	"github.com/ndajr/shortlink/internal/shortener"
	"github.com/prometheus/client_golang/prometheus"
	swaggerui "github.com/swaggest/swgui/v5emb"
)

const (
	docsURL    = "/api/docs/"
	openAPIURL = "/api/openapi.json"

	healthzPath = "healthz"
	metricsPath = "metrics"

	shutdownTimeout = 5 * time.Second
	// maxBodyBytes caps the shorten request body, well above MaxURLLength.
	maxBodyBytes = 16 << 10
)

//go:embed apidocs/openapi.json
var openAPIJSON []byte

// ReservedCodes are single segment paths served by the server itself, which
// therefore cannot be claimed as custom short codes.
func ReservedCodes() []string {
	return []string{healthzPath, metricsPath}
}

// LinkService is the link logic the handlers delegate to.
type LinkService interface {
	Shorten(ctx context.Context, longURL, customCode string) (shortener.Result, error)
	Resolve(ctx context.Context, shortCode string) (string, error)
	Lookup(ctx context.Context, shortCode string) (core.Link, error)
}

type Options struct {
	// Addr is the listen address, e.g. ":3000".
	Addr string
	// BaseURL prefixes short codes in shorten responses.
	BaseURL string
	// Healthz serves GET /healthz when set.
	Healthz http.Handler
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// Registerer receives the HTTP request metrics. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

type Server struct {
	server  *http.Server
	logger  *slog.Logger
	svc     LinkService
	baseURL string
}

func NewServer(logger *slog.Logger, svc LinkService, opts Options) (*Server, error) {
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	m, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("httpserver: failed to register metrics: %w", err)
	}

	s := &Server{
		logger:  logger,
		svc:     svc,
		baseURL: opts.BaseURL,
	}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.recoverer(s.accessLog(s.routes(m, opts))),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(m metrics, opts Options) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("POST /api/shorten", m.instrument("shorten", http.HandlerFunc(s.shortenHandler)))
	mux.Handle("GET /api/links/{shortCode}", m.instrument("link", http.HandlerFunc(s.linkHandler)))
	mux.Handle("GET /{shortCode}", m.instrument("redirect", http.HandlerFunc(s.redirectHandler)))

	mux.HandleFunc("GET "+openAPIURL, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(openAPIJSON); err != nil {
			s.logger.Error("failed to respond with openapi.json content", "error", err)
		}
	})
	mux.Handle("GET "+docsURL, swaggerui.New("Shortlink API", openAPIURL, docsURL))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, docsURL, http.StatusFound)
	})

	if opts.Healthz != nil {
		mux.Handle("GET /"+healthzPath, opts.Healthz)
	}
	if opts.Metrics != nil {
		mux.Handle("GET /"+metricsPath, opts.Metrics)
	}
	return mux
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts listening and serving. The server shuts down gracefully once ctx
// is done; wg tracks the shutdown.
func (s *Server) Run(ctx context.Context, wg *sync.WaitGroup) error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	go func() {
		s.logger.Info("starting shortlink http service", "addr", lis.Addr().String())
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed to serve", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server graceful shutdown failed", "error", err)
		}
	}()

	return nil
}
