// Package server exposes the drift and catalog engines over HTTP. Handlers
// validate at the boundary and delegate; no business logic lives here.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sentinel-group/catalog-sentinel/internal/agents"
	"github.com/sentinel-group/catalog-sentinel/internal/catalog"
	"github.com/sentinel-group/catalog-sentinel/internal/drift"
	"github.com/sentinel-group/catalog-sentinel/internal/jobs"
	"github.com/sentinel-group/catalog-sentinel/internal/store"
	"github.com/sentinel-group/catalog-sentinel/internal/workflow"
)

// Server holds handler dependencies.
type Server struct {
	store     store.Store
	drift     *drift.Engine
	baselines *drift.BaselineManager
	catalog   *catalog.Engine
	workflows *workflow.Engine
	health    *agents.HealthCache
	jobs      *jobs.Registry
	router    *chi.Mux
}

// Options carries the server's collaborators. health may be nil when no
// responder backends are configured.
type Options struct {
	Store       store.Store
	Drift       *drift.Engine
	Baselines   *drift.BaselineManager
	Catalog     *catalog.Engine
	Workflows   *workflow.Engine
	Health      *agents.HealthCache
	Jobs        *jobs.Registry
	CORSOrigins []string
}

// New creates an HTTP server with all routes configured.
func New(opts Options) *Server {
	if opts.Jobs == nil {
		opts.Jobs = jobs.NewRegistry(0)
	}
	s := &Server{
		store:     opts.Store,
		drift:     opts.Drift,
		baselines: opts.Baselines,
		catalog:   opts.Catalog,
		workflows: opts.Workflows,
		health:    opts.Health,
		jobs:      opts.Jobs,
		router:    chi.NewRouter(),
	}
	s.setupMiddleware(opts.CORSOrigins)
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware(origins []string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/health/detailed", s.handleHealthDetailed)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/drift", func(r chi.Router) {
			r.Post("/decisions", s.handleIngestDecision)
			r.Post("/decisions/bulk", s.handleIngestDecisionsBulk)
			r.Post("/check/{algorithm}", s.handleDriftCheck)
			r.Post("/baseline/{algorithm}", s.handleRecomputeBaseline)
			r.Get("/incidents", s.handleListIncidents)
			r.Get("/incidents/{id}", s.handleGetIncident)
			r.Post("/incidents/{id}/resolve", s.handleResolveIncident)
			r.Get("/metrics", s.handleDriftMetrics)
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Post("/products", s.handleProcessProduct)
			r.Post("/products/bulk", s.handleProcessProductsBulk)
			r.Get("/products", s.handleSearchProducts)
			r.Get("/products/{id}/findability", s.handleFindabilityReport)
			r.Post("/schema-registry/{category}/rebuild", s.handleRebuildRegistry)
			r.Get("/schema-registry/{category}", s.handleGetRegistry)
			r.Get("/metrics", s.handleCatalogMetrics)
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/history", s.handleWorkflowHistory)
			r.Get("/stats", s.handleWorkflowStats)
		})

		r.Get("/agents/status", s.handleAgentsStatus)
		r.Get("/jobs/{id}", s.handleGetJob)
	})
}
