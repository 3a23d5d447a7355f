// Package api is the HTTP surface of the notification service: order event
// ingest, the supplier notification endpoints and the live dashboard
// websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/notification"
	"github.com/lalithlochan/courier/internal/pipeline"
	"github.com/lalithlochan/courier/internal/push"
	"github.com/lalithlochan/courier/internal/realtime"
)

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// EventProcessor ingests order events. *pipeline.Pipeline implements it.
type EventProcessor interface {
	Process(ctx context.Context, source string, ev pipeline.Event) (*pipeline.Result, error)
}

// PreferenceStore reads and writes supplier preferences.
type PreferenceStore interface {
	Get(ctx context.Context, supplierID string) (*notification.Preferences, error)
	Update(ctx context.Context, p *notification.Preferences) error
}

// TokenRegistrar turns a device token into a push endpoint.
type TokenRegistrar interface {
	RequestToken(ctx context.Context, deviceToken, supplierID string) (string, error)
}

// EndpointRegistry remembers a supplier's push endpoints.
type EndpointRegistry interface {
	Add(ctx context.Context, supplierID, arn string) error
}

// LiveSubscriber opens live views. *realtime.Manager implements it.
type LiveSubscriber interface {
	Subscribe(ctx context.Context, recipientID string, onUpdate func(realtime.Snapshot), opts ...realtime.Option) (*realtime.Subscription, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler holds dependencies for API handlers
type Handler struct {
	logger     *zap.Logger
	store      notification.Store
	events     EventProcessor
	prefs      PreferenceStore
	tokens     TokenRegistrar
	endpoints  EndpointRegistry
	live       LiveSubscriber
	deliveries DeliveryStore
	hub        *push.Hub
	bridge     *push.Bridge
	checks     map[string]HealthCheck
	upgrader   websocket.Upgrader
	now        func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithEvents enables the order event endpoints.
func WithEvents(p EventProcessor) Option {
	return func(h *Handler) { h.events = p }
}

// WithPreferences enables the preferences endpoints.
func WithPreferences(p PreferenceStore) Option {
	return func(h *Handler) { h.prefs = p }
}

// WithPushTokens enables push token registration.
func WithPushTokens(tokens TokenRegistrar, endpoints EndpointRegistry) Option {
	return func(h *Handler) { h.tokens, h.endpoints = tokens, endpoints }
}

// WithLive enables the dashboard websocket.
func WithLive(live LiveSubscriber, hub *push.Hub, bridge *push.Bridge) Option {
	return func(h *Handler) { h.live, h.hub, h.bridge = live, hub, bridge }
}

// WithDeliveries enables the email delivery log endpoints.
func WithDeliveries(d DeliveryStore) Option {
	return func(h *Handler) { h.deliveries = d }
}

// WithHealthCheck adds a named dependency to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) { h.checks[name] = check }
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, store notification.Store, opts ...Option) *Handler {
	h := &Handler{
		logger: logger,
		store:  store,
		checks: make(map[string]HealthCheck),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	h.writeJSON(w, status, map[string]any{"status": overall, "dependencies": deps})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// writeStoreError maps store sentinels to problem responses.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error, title string) {
	switch {
	case errors.Is(err, notification.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
	case errors.Is(err, notification.ErrPartialBatch):
		h.writeError(w, http.StatusConflict, "partial_batch", title, err.Error())
	case errors.Is(err, notification.ErrInvalidNotification),
		errors.Is(err, notification.ErrInvalidCursor),
		errors.Is(err, notification.ErrInvalidPreferences):
		h.writeError(w, http.StatusBadRequest, "invalid_request", title, err.Error())
	case errors.Is(err, notification.ErrStoreUnavailable):
		h.logger.Error(title, zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "store_unavailable", title, "")
	default:
		h.logger.Error(title, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", title, "")
	}
}
