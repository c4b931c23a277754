package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labstock/labstock-backend/api/controllers"
	"github.com/labstock/labstock-backend/api/middleware"
	"github.com/labstock/labstock-backend/internal/inventory"
	"github.com/labstock/labstock-backend/internal/notifications"
	"github.com/labstock/labstock-backend/internal/requests"
	"github.com/labstock/labstock-backend/internal/stats"
	"github.com/labstock/labstock-backend/pkg/config"
	"github.com/labstock/labstock-backend/pkg/enums"
	"github.com/labstock/labstock-backend/pkg/logger"
	"github.com/labstock/labstock-backend/pkg/metrics"
	"github.com/labstock/labstock-backend/pkg/redis"
)

// RedisBackend is the slice of pkg/redis.Client the router uses. A nil
// backend disables idempotency and rate limiting and drops the redis
// readiness probe.
type RedisBackend interface {
	redis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

// Deps bundles everything the router mounts. Gatherer and HTTPMetrics may be
// nil, in which case /metrics is not exposed and request metrics are skipped.
type Deps struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      controllers.Pinger
	Redis   RedisBackend
	Metrics *metrics.HTTPMetrics

	Gatherer prometheus.Gatherer

	Inventory     inventory.Service
	Requests      requests.Service
	Notifications notifications.Service
	Stats         stats.Service
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.Metrics),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": deps.DB,
			"redis":    pingerOrNil(deps.Redis),
		}))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(logg))
		if deps.Redis != nil {
			r.Use(middleware.Idempotency(deps.Redis, logg))
			r.Use(middleware.RateLimit(deps.Redis, logg))
		}

		r.Route("/components", func(r chi.Router) {
			r.Get("/", controllers.ListComponents(deps.Inventory, logg))
			r.Get("/categories", controllers.ListCategories(deps.Inventory, logg))
			r.With(middleware.RequireRole(logg, enums.RoleStaff, enums.RoleAdmin)).
				Post("/", controllers.IntakeComponent(deps.Inventory, logg))
			r.With(middleware.RequireRole(logg, enums.RoleStaff, enums.RoleAdmin)).
				Patch("/{componentId}/quantity", controllers.SetComponentQuantity(deps.Inventory, logg))
			r.With(middleware.RequireRole(logg, enums.RoleAdmin)).
				Delete("/{componentId}", controllers.DeleteComponent(deps.Inventory, logg))
		})

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", controllers.SubmitRequest(deps.Requests, logg))
			r.Get("/", controllers.ListRequests(deps.Requests, logg))
			r.With(middleware.RequireReviewer(logg)).
				Post("/{requestId}/approve", controllers.ApproveRequest(deps.Requests, logg))
			r.With(middleware.RequireReviewer(logg)).
				Post("/{requestId}/reject", controllers.RejectRequest(deps.Requests, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
			r.Get("/stats", controllers.AdminStats(deps.Stats, logg))
		})
	})

	return r
}

func pingerOrNil(backend RedisBackend) controllers.Pinger {
	if backend == nil {
		return nil
	}
	return backend
}
