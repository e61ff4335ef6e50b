// Package server exposes the plugin lifecycle API over HTTP. Routes are
// tenant-scoped through the tenancy middleware; the tenant never appears
// in a path segment.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/aistack/plugin-registry/pkg/cache"
	"github.com/aistack/plugin-registry/pkg/ledger"
	"github.com/aistack/plugin-registry/pkg/lifecycle"
	"github.com/aistack/plugin-registry/pkg/registry"
	"github.com/aistack/plugin-registry/pkg/tasks"
	"github.com/aistack/plugin-registry/pkg/tenancy"
)

// BasePath is the API base path for the plugin lifecycle routes.
const BasePath = "/api/plugins/v1alpha1"

// Server wires the lifecycle controller, registry, ledger, and task
// tracker into an HTTP API.
type Server struct {
	controller  *lifecycle.Controller
	registry    *registry.Registry
	ledger      *ledger.Store
	tracker     *tasks.Tracker
	cache       *cache.Manager
	tenancyMode tenancy.Mode
	logger      *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithTenancyMode sets the tenancy mode. Defaults to ModeSingle.
func WithTenancyMode(mode tenancy.Mode) Option {
	return func(s *Server) {
		s.tenancyMode = mode
	}
}

// WithCache enables response caching for the registry and projection
// endpoints. A nil manager leaves caching off. Installs driven by the
// batch worker bypass the handlers, so cached entries may lag by up to
// the configured TTL.
func WithCache(m *cache.Manager) Option {
	return func(s *Server) {
		s.cache = m
	}
}

// New creates a Server. A nil logger falls back to slog.Default().
func New(controller *lifecycle.Controller, reg *registry.Registry, led *ledger.Store, tracker *tasks.Tracker, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		controller:  controller,
		registry:    reg,
		ledger:      led,
		tracker:     tracker,
		tenancyMode: tenancy.ModeSingle,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MountRoutes creates the HTTP router with all lifecycle routes mounted.
func (s *Server) MountRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", tenancy.TenantHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.healthHandler)

	r.Route(BasePath, func(api chi.Router) {
		api.Use(tenancy.NewMiddleware(s.tenancyMode))

		api.Post("/packages:preview", s.previewHandler)

		api.Get("/installations", s.listInstallationsHandler)
		api.Post("/installations", s.installHandler)
		api.Post("/installations:batch", s.batchInstallHandler)
		api.Get("/installations/{pluginId}", s.getInstallationHandler)
		api.Delete("/installations/{pluginId}", s.uninstallHandler)
		api.Post("/installations/{pluginId}:enable", s.enableHandler)
		api.Post("/installations/{pluginId}:disable", s.disableHandler)

		api.Get("/tasks", s.listTasksHandler)
		api.Get("/tasks/{taskId}", s.getTaskHandler)

		if s.cache != nil {
			api.With(s.cache.ProjectionMiddleware()).Get("/providers", s.providersHandler)
			api.With(s.cache.ProjectionMiddleware()).Get("/tools", s.toolsHandler)
			api.With(s.cache.RegistryMiddleware()).Get("/registry", s.registryHandler)
			api.With(s.cache.RegistryMiddleware()).Get("/registry:stats", s.registryStatsHandler)
		} else {
			api.Get("/providers", s.providersHandler)
			api.Get("/tools", s.toolsHandler)
			api.Get("/registry", s.registryHandler)
			api.Get("/registry:stats", s.registryStatsHandler)
		}
	})

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
