package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/pipeline"
	"github.com/lalithlochan/courier/internal/redis"
)

// CreateOrderEvent handles POST /v1/events/orders
func (h *Handler) CreateOrderEvent(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, pipeline.EventOrderCreated)
}

// PaymentStatusEvent handles POST /v1/events/orders/payment-status
func (h *Handler) PaymentStatusEvent(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, pipeline.EventPaymentStatus)
}

// OrderStatusEvent handles POST /v1/events/orders/status
func (h *Handler) OrderStatusEvent(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, pipeline.EventOrderStatus)
}

// ingest runs one event through the pipeline. The event id doubles as the
// idempotency key; the Idempotency-Key header is used when the body has
// none.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request, eventType string) {
	if h.events == nil {
		h.writeError(w, http.StatusNotImplemented, "not_configured", "Event ingest is not configured", "")
		return
	}

	var ev pipeline.Event
	if !h.decode(w, r, &ev) {
		return
	}
	ev.Type = eventType
	if ev.ID == "" {
		ev.ID = r.Header.Get("Idempotency-Key")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = h.now().UTC()
	}

	res, err := h.events.Process(r.Context(), "http", ev)
	switch {
	case errors.Is(err, pipeline.ErrInvalidEvent):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid order event", err.Error())
		return
	case errors.Is(err, redis.ErrDuplicateRequest):
		h.writeError(w, http.StatusConflict, "duplicate_request",
			"Event is already being processed",
			"Another request with this event id is in progress")
		return
	case err != nil:
		h.logger.Error("order event failed",
			zap.Error(err),
			zap.String("event_id", ev.ID),
			zap.String("type", eventType),
		)
		h.writeStoreError(w, err, "Failed to process order event")
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		w.Header().Set("X-Idempotency-Replayed", "true")
		status = http.StatusOK
	}
	if res.Dropped {
		status = http.StatusOK
	}
	h.writeJSON(w, status, res)
}
