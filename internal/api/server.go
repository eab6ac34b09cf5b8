// Package api serves the funnel over HTTP: opportunity reads, manual stage
// changes, human assessments, analytics and on-demand discovery runs.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/funnel"
	"github.com/sells-group/grant-funnel/internal/metrics"
	"github.com/sells-group/grant-funnel/internal/pipeline"
	"github.com/sells-group/grant-funnel/internal/store"
)

// Runner executes one discovery run.
type Runner interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (*pipeline.Report, error)
}

// Deps are the collaborators of the API server.
type Deps struct {
	Store   store.Store
	Machine *funnel.Machine
	Runner  Runner
	Metrics *metrics.Metrics

	Server  config.ServerConfig
	Cascade config.CascadeConfig

	// BaseContext scopes asynchronous discovery runs. Defaults to
	// context.Background().
	BaseContext context.Context
}

// Server is the HTTP API.
type Server struct {
	store   store.Store
	machine *funnel.Machine
	runner  Runner
	metrics *metrics.Metrics
	auth    *Authenticator
	cascade config.CascadeConfig
	origins []string
	base    context.Context

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

// New creates a Server.
func New(d Deps) *Server {
	base := d.BaseContext
	if base == nil {
		base = context.Background()
	}
	return &Server{
		store:   d.Store,
		machine: d.Machine,
		runner:  d.Runner,
		metrics: d.Metrics,
		auth:    NewAuthenticator(d.Server.JWTSecret),
		cascade: d.Cascade,
		origins: d.Server.CORSOrigins,
		base:    base,
		running: make(map[string]bool),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/profiles/{profile}", func(r chi.Router) {
		r.Get("/opportunities", s.listOpportunities)
		r.Get("/opportunities/{id}", s.getOpportunity)
		r.Get("/analytics", s.getAnalytics)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Post("/opportunities/{id}/promote", s.promote)
			r.Post("/opportunities/{id}/demote", s.demote)
			r.Post("/opportunities/{id}/stage", s.setStage)
			r.Post("/opportunities/{id}/assessment", s.assess)
			r.Post("/analytics/refresh", s.refreshAnalytics)
			r.Post("/discover", s.discover)
		})
	})
	return r
}

// Wait blocks until asynchronous discovery runs have finished or the
// timeout elapses. It reports whether all runs finished.
func (s *Server) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
