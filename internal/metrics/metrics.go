package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_notifications_created_total",
			Help: "Notifications persisted by type and priority",
		},
		[]string{"type", "priority"},
	)

	notificationMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_notification_mutations_total",
			Help: "Store mutations by operation and result",
		},
		[]string{"op", "result"},
	)

	transitionsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_transitions_dropped_total",
			Help: "Domain events that produced no notification, by kind",
		},
		[]string{"kind"},
	)

	emailsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_emails_dispatched_total",
			Help: "Email side-channel sends by provider and status",
		},
		[]string{"provider", "status"},
	)

	smsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_sms_dispatched_total",
			Help: "SMS side-channel sends by status",
		},
		[]string{"status"},
	)

	emailLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_email_latency_seconds",
			Help:    "Email provider round-trip time",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	displays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_push_displays_total",
			Help: "Platform notification display attempts by outcome",
		},
		[]string{"outcome"},
	)

	liveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_live_subscriptions",
			Help: "Currently active live notification subscriptions",
		},
	)

	eventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_events_consumed_total",
			Help: "Order events consumed by source and result",
		},
		[]string{"source", "result"},
	)

	eventReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_event_replays_total",
			Help: "Redelivered events skipped by the idempotency guard",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"supplier_id"},
	)

	retentionDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_retention_deleted_total",
			Help: "Notifications removed by the retention sweep",
		},
		[]string{"reason"},
	)

	deliveryRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_email_delivery_retries_total",
			Help: "Email delivery retry outcomes",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordNotificationCreated counts a persisted notification.
func RecordNotificationCreated(typ, priority string) {
	notificationsCreated.WithLabelValues(typ, priority).Inc()
}

// RecordMutation counts a store mutation. result is "ok" or "error".
func RecordMutation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	notificationMutations.WithLabelValues(op, result).Inc()
}

// RecordTransitionDropped counts an event the factory filtered out.
func RecordTransitionDropped(kind string) {
	transitionsDropped.WithLabelValues(kind).Inc()
}

// RecordEmail records one email send and its latency.
func RecordEmail(provider, status string, latency time.Duration) {
	emailsDispatched.WithLabelValues(provider, status).Inc()
	emailLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordSMS records one SMS send.
func RecordSMS(status string) {
	smsDispatched.WithLabelValues(status).Inc()
}

// RecordDisplay records a platform display attempt.
func RecordDisplay(outcome string) {
	displays.WithLabelValues(outcome).Inc()
}

// IncLiveSubscriptions and DecLiveSubscriptions track open subscriptions.
func IncLiveSubscriptions() { liveSubscriptions.Inc() }

func DecLiveSubscriptions() { liveSubscriptions.Dec() }

// RecordEventConsumed counts an ingested order event.
func RecordEventConsumed(source, result string) {
	eventsConsumed.WithLabelValues(source, result).Inc()
}

// RecordEventReplay counts an event skipped as already processed.
func RecordEventReplay() {
	eventReplays.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(supplierID string) {
	rateLimitRejections.WithLabelValues(supplierID).Inc()
}

// RecordRetention adds removed notifications for a sweep reason ("age" or "expired").
func RecordRetention(reason string, n int64) {
	retentionDeleted.WithLabelValues(reason).Add(float64(n))
}

// RecordDeliveryRetry counts a retry worker outcome.
func RecordDeliveryRetry(result string) {
	deliveryRetries.WithLabelValues(result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Middleware returns HTTP middleware that records request metrics. Paths are
// labelled with the chi route pattern so supplier ids do not explode
// cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		RecordRequest(r.Method, path, wrapped.status, time.Since(start))
	})
}
