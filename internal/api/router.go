package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stratumkit/stratum/internal/api/handlers"
	mw "github.com/stratumkit/stratum/internal/api/middleware"
	"github.com/stratumkit/stratum/internal/config"
	"github.com/stratumkit/stratum/internal/domain"
	"github.com/stratumkit/stratum/internal/ratelimit"
	"github.com/stratumkit/stratum/internal/service"
	"github.com/stratumkit/stratum/internal/store"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router  *chi.Mux
	Cleanup *service.CleanupService
}

func NewApp(db *pgxpool.Pool, logger *zap.Logger) *App {
	// Stores
	scope := store.NewScope(db, logger)
	tenantStore := store.NewTenantStore(db)
	orgStore := store.NewOrganizationStore(scope)
	projectStore := store.NewProjectStore(scope)
	membershipStore := store.NewMembershipStore(scope)
	rateLimitStore := store.NewRateLimitStore(db, logger)

	// Limit policy; a missing file means nothing is limited.
	rules, err := config.LoadLimits(config.LimitsFile())
	if err != nil {
		logger.Warn("limits policy not loaded", zap.String("path", config.LimitsFile()), zap.Error(err))
	} else if len(rules) > 0 {
		logger.Info("limits policy loaded", zap.Int("rules", len(rules)))
	}

	// Services
	tenantSvc := service.NewTenantService(tenantStore, logger)
	authzSvc := service.NewAuthzService(membershipStore, logger)
	orgSvc := service.NewOrganizationService(orgStore, authzSvc, logger)
	projectSvc := service.NewProjectService(projectStore, tenantStore, authzSvc, logger)
	membershipSvc := service.NewMembershipService(membershipStore, tenantStore, authzSvc, logger)
	rateLimitSvc := service.NewRateLimitService(rateLimitStore, rules, logger)

	cleanupSvc := service.NewCleanupService(rateLimitStore, logger)
	cleanupSvc.SetInterval(config.CleanupInterval())
	cleanupSvc.SetRetention(config.CleanupRetention())

	// Edge limiter: shared counters in Redis when an address is configured,
	// per-instance token buckets otherwise.
	var edge ratelimit.Limiter
	if addr := config.RedisAddr(); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.RedisPassword(),
			DB:       config.RedisDB(),
		})
		edge = ratelimit.NewRedis(client, "edge:", int(config.RateLimitRPS())+config.RateLimitBurst(), time.Second)
		logger.Info("edge rate limiter using redis", zap.String("addr", addr))
	} else {
		edge = ratelimit.NewLocal(config.RateLimitRPS(), config.RateLimitBurst())
	}

	auth := mw.NewAuthenticator(tenantSvc, []byte(config.JWTSecret()), logger)

	// Handlers
	tenantHandler := handlers.NewTenantHandler(tenantSvc)
	orgHandler := handlers.NewOrganizationHandler(orgSvc)
	projectHandler := handlers.NewProjectHandler(projectSvc)
	membershipHandler := handlers.NewMembershipHandler(membershipSvc)
	rateLimitHandler := handlers.NewRateLimitHandler(rateLimitSvc)

	r := chi.NewRouter()

	app := &App{
		Router:  r,
		Cleanup: cleanupSvc,
	}

	// Global middleware (order matters)
	r.Use(mw.RequestID)                   // Generate/extract request ID first
	r.Use(middleware.RealIP)              // Extract real IP
	r.Use(mw.Metrics)                     // Collect metrics
	r.Use(mw.Logging(logger))             // Log all requests
	r.Use(middleware.Recoverer)           // Recover from panics
	r.Use(mw.EdgeRateLimit(edge, logger)) // Pre-auth flood protection

	// Health (no auth)
	r.Get("/health", healthHandler(db))

	// Prometheus metrics (no auth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Tenant creation (no auth, bootstrap endpoint)
	r.Post("/v1/tenants", tenantHandler.Create)

	// Authenticated routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Use(mw.APIRateLimit(rateLimitSvc, "api_request", logger))

		r.Get("/tenant", tenantHandler.Current)

		// Organizations
		r.Route("/organizations", func(r chi.Router) {
			r.Post("/", orgHandler.Create)
			r.Get("/", orgHandler.List)
			r.Route("/{orgID}", func(r chi.Router) {
				r.Get("/", orgHandler.GetByID)
				r.Put("/", orgHandler.Update)
				r.Delete("/", orgHandler.Delete)

				r.Route("/projects", func(r chi.Router) {
					r.Post("/", projectHandler.Create)
					r.Post("/batch", projectHandler.BatchCreate)
					r.Get("/", projectHandler.List)
				})

				r.Route("/members", func(r chi.Router) {
					r.Post("/", membershipHandler.Add)
					r.Get("/", membershipHandler.List)
				})
			})
		})

		// Projects addressed directly; the owning organization comes from
		// the stored row
		r.Route("/projects/{id}", func(r chi.Router) {
			r.Get("/", projectHandler.GetByID)
			r.Put("/", projectHandler.Update)
			r.Delete("/", projectHandler.Delete)
			r.Post("/restore", projectHandler.Restore)
		})

		// Memberships addressed directly
		r.Route("/members/{id}", func(r chi.Router) {
			r.Get("/", membershipHandler.GetByID)
			r.Put("/role", membershipHandler.UpdateRole)
			r.Put("/status", membershipHandler.UpdateStatus)
			r.Delete("/", membershipHandler.Remove)
		})

		// Operator surface
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireSuperAdmin)

			r.Post("/tenants/{id}/suspend", tenantHandler.Suspend)
			r.Post("/tenants/{id}/activate", tenantHandler.Activate)

			r.Route("/ratelimits", func(r chi.Router) {
				r.Get("/rules", rateLimitHandler.Rules)
				r.Get("/status", rateLimitHandler.Status)
				r.Delete("/{id}", rateLimitHandler.Reset)
				r.Post("/reset-identifier", rateLimitHandler.ResetIdentifier)
				r.Post("/reset-organization", rateLimitHandler.ResetOrganization)
			})
		})
	})

	return app
}

// NewRouter returns just the chi.Mux for callers that manage lifecycles
// themselves.
func NewRouter(db *pgxpool.Pool, logger *zap.Logger) *chi.Mux {
	return NewApp(db, logger).Router
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// Ensure stores and limiters satisfy interfaces at compile time.
var (
	_ domain.TenantStore       = (*store.TenantStore)(nil)
	_ domain.OrganizationStore = (*store.OrganizationStore)(nil)
	_ domain.ProjectStore      = (*store.ProjectStore)(nil)
	_ domain.MembershipStore   = (*store.MembershipStore)(nil)
	_ domain.RateLimitStore    = (*store.RateLimitStore)(nil)
	_ ratelimit.Limiter        = (*ratelimit.Local)(nil)
	_ ratelimit.Limiter        = (*ratelimit.Redis)(nil)
)
