// Package server wires the chi router and its middleware chain around the
// pipeline handler (spec §4.8), and owns the HTTP listener's lifecycle —
// graceful shutdown on SIGTERM/SIGINT (spec §5).
//
// Grounded on the teacher's internal/server/server.go middleware-chain
// shape (request id -> logging -> timeout -> recoverer -> otelhttp),
// generalized by inserting the rate-limit-header writer between logging
// and timeout, and replacing the teacher's inline auth middleware slot
// with the pipeline itself (this gateway's AuthN/AuthZ live inside the
// pipeline, not as separate chi middleware, since they need the matched
// route's metadata to decide).
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server owns the chi router and the underlying http.Server lifecycle.
type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	http   *http.Server
}

// New builds a Server that dispatches every request to handler (the
// pipeline) behind the standard middleware chain. corsAllowedOrigins is an
// explicit origin allowlist, "*" to allow any origin, or empty to mount no
// CORS middleware at all.
func New(port int, logger *slog.Logger, handler http.Handler, corsAllowedOrigins []string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(RateLimitHeaderMiddleware)
	if len(corsAllowedOrigins) > 0 {
		r.Use(CORSMiddleware(corsAllowedOrigins))
	}
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "riftgate-gateway")
	})

	r.Handle("/*", handler)

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
	}
}

// Start begins listening. It returns only once the listener stops, either
// from an error or after Shutdown closes it (in which case the returned
// error is nil).
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: s.Router,
	}
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests up to ctx's deadline, then closes the
// listener. Safe to call before Start returns.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("shutting down server")
	return s.http.Shutdown(ctx)
}
