package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/db"
	"github.com/lalithlochan/courier/internal/memstore"
)

type fakeDeliveries struct {
	rows     map[uuid.UUID]*db.EmailDelivery
	requeued []uuid.UUID
	status   string
	limit    int
}

func (f *fakeDeliveries) Get(_ context.Context, id uuid.UUID) (*db.EmailDelivery, error) {
	d, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", db.ErrDeliveryNotFound, id)
	}
	return d, nil
}

func (f *fakeDeliveries) ListBySupplier(_ context.Context, supplierID, status string, limit, _ int) ([]*db.EmailDelivery, error) {
	f.status, f.limit = status, limit
	var out []*db.EmailDelivery
	for _, d := range f.rows {
		if d.SupplierID == supplierID && (status == "" || d.Status == status) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDeliveries) Requeue(_ context.Context, id uuid.UUID) error {
	f.requeued = append(f.requeued, id)
	f.rows[id].Status = db.StatusFailed
	return nil
}

func newDeliveryRouter(f *fakeDeliveries) http.Handler {
	h := NewHandler(zap.NewNop(), memstore.New(), WithDeliveries(f))
	return NewRouter(h, nil, zap.NewNop())
}

func TestListEmailDeliveries(t *testing.T) {
	dead := &db.EmailDelivery{ID: uuid.New(), SupplierID: "sup-1", Status: db.StatusDeadLettered}
	f := &fakeDeliveries{rows: map[uuid.UUID]*db.EmailDelivery{
		dead.ID:    dead,
		uuid.New(): {SupplierID: "sup-1", Status: db.StatusSent},
		uuid.New(): {SupplierID: "sup-2", Status: db.StatusDeadLettered},
	}}
	router := newDeliveryRouter(f)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/suppliers/sup-1/email-deliveries?status=dead_lettered&limit=500", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp DeliveryListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Deliveries) != 1 || resp.Deliveries[0].ID != dead.ID {
		t.Fatalf("expected only the dead-lettered delivery, got %+v", resp.Deliveries)
	}
	if f.limit != 100 || resp.Limit != 100 {
		t.Fatalf("limit should be capped at 100, got %d", f.limit)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/suppliers/sup-1/email-deliveries?status=lost", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestRetryEmailDelivery(t *testing.T) {
	dead := &db.EmailDelivery{ID: uuid.New(), SupplierID: "sup-1", Status: db.StatusDeadLettered}
	sent := &db.EmailDelivery{ID: uuid.New(), SupplierID: "sup-1", Status: db.StatusSent}
	f := &fakeDeliveries{rows: map[uuid.UUID]*db.EmailDelivery{dead.ID: dead, sent.ID: sent}}
	router := newDeliveryRouter(f)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"other supplier", "/v1/suppliers/sup-2/email-deliveries/" + dead.ID.String() + "/retry", http.StatusNotFound},
		{"unknown id", "/v1/suppliers/sup-1/email-deliveries/" + uuid.NewString() + "/retry", http.StatusNotFound},
		{"malformed id", "/v1/suppliers/sup-1/email-deliveries/abc/retry", http.StatusBadRequest},
		{"not dead-lettered", "/v1/suppliers/sup-1/email-deliveries/" + sent.ID.String() + "/retry", http.StatusConflict},
		{"requeued", "/v1/suppliers/sup-1/email-deliveries/" + dead.ID.String() + "/retry", http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, nil))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}

	if len(f.requeued) != 1 || f.requeued[0] != dead.ID {
		t.Fatalf("expected one requeue of %s, got %v", dead.ID, f.requeued)
	}
}

func TestEmailDeliveries_NotConfigured(t *testing.T) {
	router := NewRouter(NewHandler(zap.NewNop(), memstore.New()), nil, zap.NewNop())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/suppliers/sup-1/email-deliveries", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}
