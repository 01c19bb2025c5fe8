// Package api serves the obfuscation HTTP API: request validation, the
// temporary file pipeline around the engine, and JSON error translation.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/klauspost/compress/gzhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/obfuscator-api/pkg/artifact"
	"github.com/polisai/obfuscator-api/pkg/config"
	"github.com/polisai/obfuscator-api/pkg/obfuscator"
	"github.com/polisai/obfuscator-api/pkg/upload"
)

// Route patterns served by the API.
const (
	RouteHealth        = "GET /health"
	RoutePresets       = "GET /presets"
	RouteObfuscate     = "POST /obfuscate"
	RouteObfuscateText = "POST /obfuscate-text"
)

// Server is the HTTP front-end. It holds no global state; several servers
// may run in one process.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *Metrics
	artifacts *artifact.Manager
	invoker   *obfuscator.Invoker
	validator *upload.Validator

	handler    http.Handler
	httpServer *http.Server
	mu         sync.Mutex
	stopOnce   sync.Once
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer wires the pipeline around engine. A nil cfg selects
// config.Default().
func NewServer(cfg *config.Config, engine obfuscator.Engine, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}

	artifacts, err := artifact.NewManager(cfg.Artifacts.Dir, s.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare artifact directory: %w", err)
	}
	s.artifacts = artifacts

	s.invoker = obfuscator.NewInvoker(engine, obfuscator.InvokerConfig{
		Timeout: cfg.Engine.Timeout,
		Logger:  s.logger,
		Metrics: s.metrics,
	})
	s.validator = upload.NewValidator(cfg.Limits.MaxSourceBytes)
	s.handler = s.buildHandler()

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Artifacts returns the temporary file manager.
func (s *Server) Artifacts() *artifact.Manager {
	return s.artifacts
}

// Routes lists the route patterns in registration order.
func (s *Server) Routes() []string {
	routes := []string{RouteHealth, RoutePresets, RouteObfuscate, RouteObfuscateText}
	if s.cfg.Metrics.Enabled {
		routes = append(routes, "GET "+s.cfg.Metrics.Path)
	}
	return routes
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc(RouteHealth, s.handleHealth)
	mux.HandleFunc(RoutePresets, s.handlePresets)
	mux.HandleFunc(RouteObfuscate, s.handleObfuscateFile)
	mux.HandleFunc(RouteObfuscateText, s.handleObfuscateText)

	if s.cfg.Metrics.Enabled {
		mux.Handle("GET "+s.cfg.Metrics.Path, s.metrics.Handler())
	}

	mux.HandleFunc("/", s.handleNotFound)
}

// buildHandler applies the middleware chain, outermost first: tracing,
// compression, request ID, metrics, access log, CORS, panic recovery.
func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)

	var h http.Handler = mux
	h = recoverMiddleware(s.logger, s.metrics, h)
	h = corsMiddleware(s.cfg.CORS.AllowedOrigins, s.logger, h)
	h = accessLogMiddleware(s.logger, h)
	h = s.metrics.Middleware(s.cfg.Metrics.Path, h)
	h = requestIDMiddleware(h)
	h = gzhttp.GzipHandler(h)
	h = otelhttp.NewHandler(h, "obfuscator-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + endpointName(r.URL.Path, s.cfg.Metrics.Path)
		}),
	)
	return h
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called. It returns nil after
// a graceful stop.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("HTTP server starting",
		"addr", ln.Addr().String(),
		"artifact_dir", s.artifacts.Dir(),
		"engine_timeout", s.invoker.Timeout(),
		"max_source_bytes", s.validator.MaxBytes,
	)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down, waiting for in-flight requests
// until ctx expires. In-flight pipelines still release their artifacts.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		srv := s.httpServer
		s.mu.Unlock()

		s.logger.Info("Stopping HTTP server")
		if srv != nil {
			if stopErr := srv.Shutdown(ctx); stopErr != nil {
				s.logger.Error("Failed to shut down HTTP server", "error", stopErr)
				err = stopErr
			}
		}
		if active := s.artifacts.Active(); active > 0 {
			s.logger.Warn("Artifacts still active at shutdown", "count", active)
		}
	})
	return err
}
