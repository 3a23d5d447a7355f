package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/metrics"
	"github.com/lalithlochan/courier/internal/redis"
)

const requestTimeout = 30 * time.Second

// NewRouter mounts every route. limiter may be nil.
func NewRouter(h *Handler, limiter *redis.RateLimiter, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Post("/events/orders", h.CreateOrderEvent)
			r.Post("/events/orders/payment-status", h.PaymentStatusEvent)
			r.Post("/events/orders/status", h.OrderStatusEvent)
		})

		r.Route("/suppliers/{supplierID}", func(r chi.Router) {
			r.Use(RateLimitMiddleware(limiter, logger, SupplierKeyFunc))

			// The websocket outlives the request timeout.
			r.Get("/live", h.Live)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout))

				r.Get("/preferences", h.GetPreferences)
				r.Put("/preferences", h.UpdatePreferences)
				r.Post("/push-token", h.RegisterPushToken)
				r.Get("/email-deliveries", h.ListEmailDeliveries)
				r.Post("/email-deliveries/{deliveryID}/retry", h.RetryEmailDelivery)

				r.Route("/notifications", func(r chi.Router) {
					r.Get("/", h.ListNotifications)
					r.Get("/page", h.PageNotifications)
					r.Get("/search", h.SearchNotifications)
					r.Get("/unread-count", h.UnreadCount)
					r.Get("/stats", h.Stats)
					r.Post("/read", h.MarkManyRead)
					r.Post("/read-all", h.MarkAllRead)
					r.Post("/delete", h.DeleteMany)
					r.Post("/system", h.CreateSystemNotification)
					r.Post("/product", h.CreateProductNotification)

					r.Get("/{id}", h.GetNotification)
					r.Post("/{id}/read", h.MarkRead)
					r.Post("/{id}/archive", h.Archive)
					r.Post("/{id}/click", h.Click)
					r.Delete("/{id}", h.Delete)
				})
			})
		})
	})

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	return r
}
