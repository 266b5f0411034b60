// Package controlapi is the daemon's HTTP surface (spec component C12): job
// lifecycle endpoints and the SSE progress stream. It is grounded on the
// teacher's chi-based internal/web/server.go and routes.go, generalized
// from photo-library CRUD down to the narrower job-control surface spec
// 4.12/§6 names; the teacher's session/auth middleware and PhotoPrism
// client plumbing have no counterpart here since this tool has no remote
// account to authenticate against.
package controlapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tomas/slidemanager-daemon/internal/eventbus"
	"github.com/tomas/slidemanager-daemon/internal/jobmanager"
	"github.com/tomas/slidemanager-daemon/internal/logging"
	"github.com/tomas/slidemanager-daemon/internal/store"
)

// Server wraps the chi router and http.Server for one library root's
// control API.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer builds the control API router for one Manager/Store/EventBus
// triple and binds it to addr.
func NewServer(addr string, mgr *jobmanager.Manager, s *store.Store, bus *eventbus.Bus, log *logging.Logger, libraryRoot string) *Server {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Use(CORS())

	h := &handler{mgr: mgr, store: s, bus: bus, log: log, libraryRoot: libraryRoot}

	r.Get("/healthz", h.healthCheck)
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/index", h.startJob)
		r.Get("/", h.listJobs)
		r.Get("/{id}", h.getJob)
		r.Get("/{id}/events", h.streamEvents)
		r.Post("/{id}/pause", h.pauseJob)
		r.Post("/{id}/resume", h.resumeJob)
		r.Post("/{id}/cancel", h.cancelJob)
	})

	return &Server{
		router: r,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute, // long timeout to keep the SSE stream open
			IdleTimeout:  60 * time.Second,
		},
	}
}

// ListenAndServe starts the HTTP server, blocking until it stops.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the chi router for tests.
func (s *Server) Router() *chi.Mux { return s.router }
