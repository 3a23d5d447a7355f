package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/db"
)

// DeliveryStore is the email delivery log as seen by the API.
type DeliveryStore interface {
	Get(ctx context.Context, id uuid.UUID) (*db.EmailDelivery, error)
	ListBySupplier(ctx context.Context, supplierID, status string, limit, offset int) ([]*db.EmailDelivery, error)
	Requeue(ctx context.Context, id uuid.UUID) error
}

// DeliveryListResponse is a page of the email delivery log.
type DeliveryListResponse struct {
	Deliveries []*db.EmailDelivery `json:"deliveries"`
	Limit      int                 `json:"limit"`
	Offset     int                 `json:"offset"`
}

// ListEmailDeliveries handles GET /v1/suppliers/{supplierID}/email-deliveries
func (h *Handler) ListEmailDeliveries(w http.ResponseWriter, r *http.Request) {
	if h.deliveries == nil {
		h.writeError(w, http.StatusNotImplemented, "not_configured", "Email delivery log is not configured", "")
		return
	}

	q := r.URL.Query()
	status := q.Get("status")
	switch status {
	case "", db.StatusPending, db.StatusSent, db.StatusFailed, db.StatusDeadLettered:
	default:
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status", "unknown delivery status "+status)
		return
	}

	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid limit", "limit must be a positive integer")
			return
		}
		limit = min(n, 100)
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid offset", "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	list, err := h.deliveries.ListBySupplier(r.Context(), supplierID(r), status, limit, offset)
	if err != nil {
		h.logger.Error("failed to list email deliveries", zap.String("supplier_id", supplierID(r)), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list email deliveries", "")
		return
	}
	if list == nil {
		list = []*db.EmailDelivery{}
	}
	h.writeJSON(w, http.StatusOK, DeliveryListResponse{Deliveries: list, Limit: limit, Offset: offset})
}

// RetryEmailDelivery handles POST /v1/suppliers/{supplierID}/email-deliveries/{deliveryID}/retry
func (h *Handler) RetryEmailDelivery(w http.ResponseWriter, r *http.Request) {
	if h.deliveries == nil {
		h.writeError(w, http.StatusNotImplemented, "not_configured", "Email delivery log is not configured", "")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "deliveryID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid delivery id", err.Error())
		return
	}

	d, err := h.deliveries.Get(r.Context(), id)
	switch {
	case errors.Is(err, db.ErrDeliveryNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Email delivery not found", "")
		return
	case err != nil:
		h.logger.Error("failed to get email delivery", zap.String("delivery_id", id.String()), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to get email delivery", "")
		return
	}
	// Other suppliers' deliveries do not exist for this caller.
	if d.SupplierID != supplierID(r) {
		h.writeError(w, http.StatusNotFound, "not_found", "Email delivery not found", "")
		return
	}
	if d.Status != db.StatusDeadLettered {
		h.writeError(w, http.StatusConflict, "invalid_state", "Email delivery is not dead-lettered", "status is "+d.Status)
		return
	}

	if err := h.deliveries.Requeue(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrDeliveryNotFound) {
			h.writeError(w, http.StatusConflict, "invalid_state", "Email delivery is not dead-lettered", "")
			return
		}
		h.logger.Error("failed to requeue email delivery", zap.String("delivery_id", id.String()), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to requeue email delivery", "")
		return
	}

	h.logger.Info("email delivery requeued by supplier",
		zap.String("supplier_id", d.SupplierID),
		zap.String("delivery_id", id.String()),
	)
	w.WriteHeader(http.StatusAccepted)
}
