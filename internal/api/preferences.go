package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/notification"
)

// PushTokenRequest registers a device for mobile push.
type PushTokenRequest struct {
	DeviceToken string `json:"deviceToken"`
}

// PushTokenResponse carries the push endpoint, empty when push is not
// configured.
type PushTokenResponse struct {
	Token string `json:"token"`
}

// GetPreferences handles GET /v1/suppliers/{supplierID}/preferences
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	if h.prefs == nil {
		h.writeError(w, http.StatusNotImplemented, "not_configured", "Preferences are not configured", "")
		return
	}
	p, err := h.prefs.Get(r.Context(), supplierID(r))
	if err != nil {
		h.writeStoreError(w, err, "Failed to load preferences")
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// UpdatePreferences handles PUT /v1/suppliers/{supplierID}/preferences
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	if h.prefs == nil {
		h.writeError(w, http.StatusNotImplemented, "not_configured", "Preferences are not configured", "")
		return
	}
	var p notification.Preferences
	if !h.decode(w, r, &p) {
		return
	}
	p.SupplierID = supplierID(r)
	if p.DigestFrequency == "" {
		p.DigestFrequency = notification.DigestInstant
	}

	if err := h.prefs.Update(r.Context(), &p); err != nil {
		h.writeStoreError(w, err, "Failed to update preferences")
		return
	}
	h.logger.Info("preferences updated", zap.String("supplier_id", p.SupplierID))
	h.writeJSON(w, http.StatusOK, &p)
}

// RegisterPushToken handles POST /v1/suppliers/{supplierID}/push-token
func (h *Handler) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	var req PushTokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.DeviceToken == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "deviceToken is required")
		return
	}
	if h.tokens == nil {
		h.writeJSON(w, http.StatusOK, PushTokenResponse{})
		return
	}

	id := supplierID(r)
	arn, err := h.tokens.RequestToken(r.Context(), req.DeviceToken, id)
	if err != nil {
		h.logger.Error("push token registration failed", zap.String("supplier_id", id), zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "push_unavailable", "Failed to register push token", "")
		return
	}
	if arn == "" {
		h.writeJSON(w, http.StatusOK, PushTokenResponse{})
		return
	}

	if h.endpoints != nil {
		if err := h.endpoints.Add(r.Context(), id, arn); err != nil {
			h.logger.Error("failed to store push endpoint", zap.String("supplier_id", id), zap.Error(err))
			h.writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Failed to store push endpoint", "")
			return
		}
	}
	h.writeJSON(w, http.StatusCreated, PushTokenResponse{Token: arn})
}
