package status

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/andresmejia3/rollcall/internal/dispatch"
	"github.com/andresmejia3/rollcall/internal/event"
	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/andresmejia3/rollcall/internal/tracker"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

var log = event.Log

// Tracker is the read side of the consensus tracker.
type Tracker interface {
	Snapshot() []tracker.SlotView
	CurrentDay() time.Time
	ConfirmedToday() []string
}

// Dispatcher reports side-effect counters.
type Dispatcher interface {
	Stats() dispatch.Stats
}

// Sources groups what the API reads from. Dispatcher and Ledger may be nil.
type Sources struct {
	Tracker    Tracker
	Dispatcher Dispatcher
	Ledger     ledger.Reader
	Location   *time.Location
	Started    time.Time
}

// Server serves a read-only JSON view of the live session.
type Server struct {
	src        Sources
	router     *chi.Mux
	httpServer *http.Server
}

func NewServer(addr string, src Sources) *Server {
	if src.Location == nil {
		src.Location = time.Local
	}
	if src.Started.IsZero() {
		src.Started = time.Now()
	}

	r := chi.NewRouter()
	s := &Server{src: src, router: r}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(30 * time.Second))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/slots", s.slots)
		r.Get("/today", s.today)
		r.Get("/dispatch", s.dispatch)
		r.Get("/ledger/{date}", s.ledgerSection)
	})
}

// Start blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) Start() error {
	log.Infof("status: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start status server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("status: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
