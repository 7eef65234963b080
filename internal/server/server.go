// Package server is the HTTP shell: it maps FeatureServer/MapServer paths
// onto the service and writes JSON responses.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/koustreak/featureserv/internal/config"
	"github.com/koustreak/featureserv/internal/format"
	"github.com/koustreak/featureserv/internal/logger"
	"github.com/koustreak/featureserv/internal/metadata"
	"github.com/koustreak/featureserv/internal/query"
	"github.com/koustreak/featureserv/internal/service"
)

// Backend is what the handlers need from the service layer.
type Backend interface {
	Discovery(ctx context.Context, t service.Target, baseURL string) (*service.Discovery, error)
	ServiceInfo(ctx context.Context, t service.Target, kind metadata.ServerKind) (*metadata.ServiceInfo, error)
	LayerInfo(ctx context.Context, t service.Target, kind metadata.ServerKind, layer string) (*metadata.LayerInfo, error)
	Query(ctx context.Context, t service.Target, layer string, req query.Request) (any, error)
	RelatedRecords(ctx context.Context, t service.Target, layer string, req query.Request) (*format.RelatedRecords, error)
	Estimates(ctx context.Context, t service.Target, layer string, req query.Request) (*service.Estimates, error)
	Identify(ctx context.Context, t service.Target) (*service.Identify, error)
}

// Server owns the router and the listening http.Server.
type Server struct {
	cfg     config.ServerConfig
	backend Backend
	log     *logger.Logger
	router  chi.Router
}

// New builds the server and its routes.
func New(cfg config.ServerConfig, backend Backend, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{cfg: cfg, backend: backend, log: log}
	s.router = s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/{id}", s.discovery)
	for _, kind := range []metadata.ServerKind{metadata.FeatureServer, metadata.MapServer} {
		r.Route("/{id}/"+string(kind), func(r chi.Router) {
			r.Get("/", s.serviceInfo(kind))
			r.Post("/", s.serviceInfo(kind))
			r.Get("/identify", s.identify)
			r.Post("/identify", s.identify)
			r.Get("/{layer}", s.layerInfo(kind))
			r.Post("/{layer}", s.layerInfo(kind))
			r.Get("/{layer}/{method}", s.layerMethod(kind))
			r.Post("/{layer}/{method}", s.layerMethod(kind))
		})
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
