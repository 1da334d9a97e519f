package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/picolabs/picogate/internal/admin"
	"github.com/picolabs/picogate/internal/appstore"
	"github.com/picolabs/picogate/internal/config"
	"github.com/picolabs/picogate/internal/pipeline"
	"github.com/picolabs/picogate/internal/routing"
	"github.com/picolabs/picogate/internal/store"
	"github.com/picolabs/picogate/internal/tracing"
	"github.com/picolabs/picogate/internal/version"
)

// Server binds the verification, admin and chain surfaces to one chi
// router. Only the verification, admin and health endpoints bypass the
// pipeline; every other path, the search endpoint included, runs the
// full chain.
type Server struct {
	router  chi.Router
	httpSrv *http.Server
	logger  zerolog.Logger
}

// NewServer assembles the router. appstoreHandler and adminHandler own
// their reserved prefixes; chain handles everything else.
func NewServer(
	cfg *config.Config,
	chain *pipeline.Chain,
	appstoreHandler *appstore.Handler,
	adminHandler *admin.Handler,
	registry *routing.Registry,
	db *store.Store,
	logger zerolog.Logger,
) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Tracing.Enabled {
		r.Use(tracing.HTTPMiddleware)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "version": version.Version})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, map[string]string{"status": "ready"})
	})
	r.Get("/v1/models", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"models": registry.ListModels()})
	})

	r.Post("/appstore", appstoreHandler.ServeHTTP)
	adminHandler.Mount(r)

	// Everything else, search included, goes through the pipeline so
	// authentication and the usage limiter cover it.
	r.NotFound(chain.ServeHTTP)

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	srv := &Server{
		router: r,
		logger: logger,
		httpSrv: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		},
	}
	return srv
}

// Router exposes the chi router for tests and additional mounting.
func (s *Server) Router() chi.Router {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpSrv.Addr
}

// Start listens for plain HTTP connections. Blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("gateway listening")
	return s.httpSrv.ListenAndServe()
}

// StartTLS listens for HTTPS connections. Blocks until shutdown.
func (s *Server) StartTLS(certFile, keyFile string) error {
	s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("gateway listening (TLS)")
	if err := s.httpSrv.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server (TLS): %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
