// ABOUTME: Development backend speaking the generation HTTP/SSE contract over a chi router.
// ABOUTME: Runs simulated generation jobs in memory so the client can be exercised without the real service.
package devserver

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	DefaultAddr      = "127.0.0.1:8787"
	DefaultStepDelay = 700 * time.Millisecond
	DefaultPassword  = "kiwi"
	DevUserID        = "dev-user"
)

// Config configures the development backend.
type Config struct {
	Addr string

	// Token is the bearer token every API route requires. Empty disables auth.
	Token string
	// Password is accepted by /auth/login for any user name.
	Password string

	// StepDelay paces the simulated job between snapshots.
	StepDelay time.Duration
	// Heartbeat, when positive, writes SSE comments on idle streams.
	Heartbeat time.Duration

	Logger *log.Logger
}

// Server is an http.Handler.
type Server struct {
	cfg     Config
	store   *Store
	metrics *metrics
	logger  *log.Logger
	router  chi.Router

	ctx    context.Context
	cancel context.CancelFunc
	jobs   sync.WaitGroup
}

// New builds a Server. Close stops its jobs.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Password == "" {
		cfg.Password = DefaultPassword
	}
	if cfg.StepDelay <= 0 {
		cfg.StepDelay = DefaultStepDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		store:   NewStore(),
		metrics: newMetrics(),
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	s.router = s.buildRouter()
	return s
}

// Store exposes the in-memory state, mostly for tests.
func (s *Server) Store() *Store { return s.store }

// ServeHTTP delegates to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx ends. Streams are long-lived, so there is
// no write timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		// request contexts end with the server so open streams return on shutdown
		BaseContext: func(net.Listener) context.Context { return s.ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Close()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close stops every running job and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.jobs.Wait()
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.handler())
	r.Post("/auth/login", s.handleLogin)
	r.Get("/preview/{appID}", s.handlePreview)
	r.Get("/manage/{appID}", s.handlePreview)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)

		r.Route("/generate", func(r chi.Router) {
			r.Post("/", s.handleGenerate)
			r.Get("/reconnect", s.handleReconnect)
			r.Post("/retry", s.handleRetry)
			r.Post("/cancel", s.handleCancel)
			r.Post("/revert", s.handleRevert)
			r.Post("/history", s.handleHistory)
		})

		r.Route("/app", func(r chi.Router) {
			r.Post("/", s.handleSaveApplication)
			r.Post("/search", s.handleSearchApplications)
			r.Get("/{appID}", s.handleGetApplication)
			r.Delete("/{appID}", s.handleDeleteApplication)
		})
	})
	return r
}

// startJob runs the simulated pipeline for id in the background.
func (s *Server) startJob(id string, attempt int) {
	ctx, stop := context.WithCancel(s.ctx)
	s.store.setStop(id, stop)
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer stop()
		s.runJob(ctx, id, attempt)
	}()
}
