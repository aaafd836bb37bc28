// Package server exposes the engine over HTTP: structure management,
// record CRUD and a server-sent event stream of change events.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/stratahq/strata/internal/notify"
	"github.com/stratahq/strata/internal/record"
	"github.com/stratahq/strata/internal/registry"
)

// Server is the HTTP front end.
type Server struct {
	addr     string
	registry *registry.Registry
	records  *record.Store
	notifier *notify.Notifier
	logger   *slog.Logger
}

// Config holds the server's collaborators.
type Config struct {
	Addr     string
	Registry *registry.Registry
	Records  *record.Store
	Notifier *notify.Notifier
	Logger   *slog.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     cfg.Addr,
		registry: cfg.Registry,
		records:  cfg.Records,
		notifier: cfg.Notifier,
		logger:   logger,
	}
}

// Router builds the chi router. Exposed separately so tests can drive the
// handlers through httptest without a listener.
func (s *Server) Router() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/structures", func(r chi.Router) {
		r.Get("/", s.handleListStructures)
		r.Post("/", s.handleDefineStructure)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.handleGetStructure)
			r.Put("/", s.handleUpdateStructure)
			r.Delete("/", s.handleDropStructure)
			r.Post("/vacuum", s.handleVacuumStructure)
			r.Get("/events", s.handleEvents)

			r.Route("/records", func(r chi.Router) {
				r.Get("/", s.handleListRecords)
				r.Post("/", s.handleCreateRecord)
				r.Get("/{id}", s.handleGetRecord)
				r.Patch("/{id}", s.handleUpdateRecord)
				r.Delete("/{id}", s.handleDeleteRecord)
			})
		})
	})

	return r
}

// Serve runs the server until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
	}

	eg.Go(func() error {
		s.logger.Info("listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
