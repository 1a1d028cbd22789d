package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/vidsum/internal/config"
	"github.com/snarg/vidsum/internal/metrics"
	"github.com/snarg/vidsum/internal/pipeline"
)

// ServerOptions holds the components the HTTP server exposes.
type ServerOptions struct {
	Runner Runner
	Slot   *pipeline.Slot
	Events EventSource // nil disables the event stream
	Health HealthOptions
	// ArtifactURL returns a direct link to the stored artifact ("" if none).
	ArtifactURL func(r *http.Request) string
	// OpenAPI is served at /api/v1/openapi.yaml when set.
	OpenAPI []byte
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, opts ServerOptions, log zerolog.Logger) *Server {
	r := NewRouter(cfg, opts, log)
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// NewRouter builds the route tree. Exposed for tests.
func NewRouter(cfg *config.Config, opts ServerOptions, log zerolog.Logger) chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORSWithOrigins(cfg.CORSOriginList()))
	r.Use(metrics.InstrumentHandler)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint, no auth
		r.Get("/health", NewHealthHandler(opts.Health).ServeHTTP)
		if len(opts.OpenAPI) > 0 {
			r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/yaml")
				w.Write(opts.OpenAPI)
			})
		}

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			NewSummariesHandler(opts.Runner, cfg.MaxUploadMB, log).Routes(r)
			NewSummaryHandler(opts.Slot, opts.ArtifactURL, cfg.TempDir, log).Routes(r)
			NewEventsHandler(opts.Events, cfg.CORSOriginList()).Routes(r)
		})
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
