package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/notification"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListResponse is a filtered and sorted view of a supplier's notifications.
type ListResponse struct {
	Notifications []*notification.Notification `json:"notifications"`
	Total         int                          `json:"total"`
	UnreadCount   int                          `json:"unreadCount"`
}

// PageResponse is one page of the paginated fetch.
type PageResponse struct {
	Items      []*notification.Notification `json:"items"`
	NextCursor string                       `json:"nextCursor,omitempty"`
}

// BatchRequest names notifications for an all-or-nothing mutation.
type BatchRequest struct {
	IDs []string `json:"ids"`
}

// CreateRequest is the body of the system and product endpoints.
type CreateRequest struct {
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	ProductID  string            `json:"productId,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func supplierID(r *http.Request) string {
	return chi.URLParam(r, "supplierID")
}

// parseFilter reads the view filter from the query string.
func parseFilter(r *http.Request) (notification.Filter, error) {
	q := r.URL.Query()
	f := notification.Filter{
		Type:       notification.Type(q.Get("type")),
		SubType:    q.Get("subType"),
		Priority:   notification.Priority(q.Get("priority")),
		SearchTerm: q.Get("search"),
	}

	var err error
	if f.IsRead, err = optionalBool(q.Get("isRead")); err != nil {
		return f, err
	}
	if f.IsArchived, err = optionalBool(q.Get("isArchived")); err != nil {
		return f, err
	}
	if f.DateFrom, err = optionalTime(q.Get("dateFrom")); err != nil {
		return f, err
	}
	if f.DateTo, err = optionalTime(q.Get("dateTo")); err != nil {
		return f, err
	}
	return f, nil
}

func optionalBool(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func optionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListNotifications handles GET /v1/suppliers/{supplierID}/notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid filter", err.Error())
		return
	}

	// Equality filters run in the store; the rest is evaluated in memory.
	list, err := h.store.Query(r.Context(), supplierID(r), notification.StoreFilter{
		Type:       f.Type,
		IsRead:     f.IsRead,
		IsArchived: f.IsArchived,
	})
	if err != nil {
		h.writeStoreError(w, err, "Failed to list notifications")
		return
	}

	view := notification.View(list, f, notification.ParseSortKey(r.URL.Query().Get("sort")))
	h.writeJSON(w, http.StatusOK, ListResponse{
		Notifications: view,
		Total:         len(view),
		UnreadCount:   notification.UnreadCount(view),
	})
}

// PageNotifications handles GET /v1/suppliers/{supplierID}/notifications/page
func (h *Handler) PageNotifications(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid limit", "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxPageSize)
	}

	cursor, err := notification.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid cursor", err.Error())
		return
	}

	page, err := h.store.ListByRecipient(r.Context(), supplierID(r), limit, cursor)
	if err != nil {
		h.writeStoreError(w, err, "Failed to list notifications")
		return
	}
	h.writeJSON(w, http.StatusOK, PageResponse{Items: page.Items, NextCursor: page.Next.Encode()})
}

// SearchNotifications handles GET /v1/suppliers/{supplierID}/notifications/search
func (h *Handler) SearchNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t := notification.Type(q.Get("type"))
	if t != "" && !t.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid type", "unknown notification type")
		return
	}

	list, err := h.store.Search(r.Context(), supplierID(r), q.Get("q"), t)
	if err != nil {
		h.writeStoreError(w, err, "Failed to search notifications")
		return
	}
	h.writeJSON(w, http.StatusOK, ListResponse{
		Notifications: list,
		Total:         len(list),
		UnreadCount:   notification.UnreadCount(list),
	})
}

// UnreadCount handles GET /v1/suppliers/{supplierID}/notifications/unread-count
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.CountUnread(r.Context(), supplierID(r))
	if err != nil {
		h.writeStoreError(w, err, "Failed to count unread notifications")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"unreadCount": count})
}

// Stats handles GET /v1/suppliers/{supplierID}/notifications/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.Query(r.Context(), supplierID(r), notification.StoreFilter{})
	if err != nil {
		h.writeStoreError(w, err, "Failed to compute statistics")
		return
	}
	h.writeJSON(w, http.StatusOK, notification.ComputeStats(list, h.now()))
}

// GetNotification handles GET /v1/suppliers/{supplierID}/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Get(r.Context(), supplierID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "Failed to get notification")
		return
	}
	h.writeJSON(w, http.StatusOK, n)
}

// MarkManyRead handles POST /v1/suppliers/{supplierID}/notifications/read
func (h *Handler) MarkManyRead(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids := notification.UniqueIDs(req.IDs)
	if err := h.store.MarkManyRead(r.Context(), supplierID(r), ids); err != nil {
		h.writeStoreError(w, err, "Failed to mark notifications read")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"updated": len(ids)})
}

// MarkAllRead handles POST /v1/suppliers/{supplierID}/notifications/read-all
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.MarkAllRead(r.Context(), supplierID(r))
	if err != nil {
		h.writeStoreError(w, err, "Failed to mark notifications read")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// DeleteMany handles POST /v1/suppliers/{supplierID}/notifications/delete
func (h *Handler) DeleteMany(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids := notification.UniqueIDs(req.IDs)
	if err := h.store.DeleteMany(r.Context(), supplierID(r), ids); err != nil {
		h.writeStoreError(w, err, "Failed to delete notifications")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"deleted": len(ids)})
}

// CreateSystemNotification handles POST /v1/suppliers/{supplierID}/notifications/system
func (h *Handler) CreateSystemNotification(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Title == "" || req.Message == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "title and message are required")
		return
	}
	h.create(w, r, notification.SystemNotification(supplierID(r), req.Title, req.Message, req.Attributes))
}

// CreateProductNotification handles POST /v1/suppliers/{supplierID}/notifications/product
func (h *Handler) CreateProductNotification(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Title == "" || req.Message == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "title and message are required")
		return
	}
	h.create(w, r, notification.ProductNotification(supplierID(r), req.Title, req.Message, req.ProductID, req.Attributes))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, n *notification.Notification) {
	id, err := h.store.Create(r.Context(), n)
	if err != nil {
		h.writeStoreError(w, err, "Failed to create notification")
		return
	}
	h.logger.Info("notification created",
		zap.String("id", id),
		zap.String("supplier_id", n.FournisseurID),
		zap.String("type", string(n.Type)),
	)
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// mutate runs a single-notification store mutation.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, title string, fn func(ctx context.Context, recipientID, id string) error) {
	if err := fn(r.Context(), supplierID(r), chi.URLParam(r, "id")); err != nil {
		h.writeStoreError(w, err, title)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkRead handles POST /v1/suppliers/{supplierID}/notifications/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "Failed to mark notification read", h.store.MarkRead)
}

// Archive handles POST /v1/suppliers/{supplierID}/notifications/{id}/archive
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "Failed to archive notification", h.store.MarkArchived)
}

// Click handles POST /v1/suppliers/{supplierID}/notifications/{id}/click
func (h *Handler) Click(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "Failed to record click", h.store.RecordClick)
}

// Delete handles DELETE /v1/suppliers/{supplierID}/notifications/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "Failed to delete notification", h.store.Delete)
}
