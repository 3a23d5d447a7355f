package mongostore

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/notification"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func toDoc(t *testing.T, n *notification.Notification) bson.D {
	t.Helper()
	raw, err := bson.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return d
}

func stored(id string, age time.Duration) *notification.Notification {
	return &notification.Notification{
		ID:            id,
		Type:          notification.TypeSystem,
		Title:         "title " + id,
		Priority:      notification.PriorityLow,
		FournisseurID: "sup-1",
		CreatedAt:     base.Add(-age),
	}
}

func ns(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func newStore(mt *mtest.T) *Store {
	return New(mt.Coll, zap.NewNop(), WithoutTransactions(), WithClock(func() time.Time { return base }))
}

func TestStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("create assigns id and createdAt", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		s := newStore(mt)

		n := notification.SystemNotification("sup-1", "Maintenance", "Ce soir", nil)
		id, err := s.Create(context.Background(), n)
		if err != nil || id == "" {
			t.Fatalf("unexpected result %q, %v", id, err)
		}
		if n.ID != id || !n.CreatedAt.Equal(base) {
			t.Fatalf("caller record not updated: %+v", n)
		}
	})

	mt.Run("create rejects invalid records before writing", func(mt *mtest.T) {
		s := newStore(mt)
		_, err := s.Create(context.Background(), &notification.Notification{Type: notification.TypeSystem})
		if !errors.Is(err, notification.ErrInvalidNotification) {
			t.Fatalf("expected ErrInvalidNotification, got %v", err)
		}
	})

	mt.Run("get", func(mt *mtest.T) {
		s := newStore(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, toDoc(t, stored("n-1", 0))))

		n, err := s.Get(context.Background(), "sup-1", "n-1")
		if err != nil || n.ID != "n-1" || n.Title != "title n-1" {
			t.Fatalf("unexpected result %+v, %v", n, err)
		}

		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch))
		if _, err := s.Get(context.Background(), "sup-1", "missing"); !errors.Is(err, notification.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	mt.Run("list pages newest first", func(mt *mtest.T) {
		s := newStore(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch,
			toDoc(t, stored("c", 0)),
			toDoc(t, stored("b", time.Minute)),
			toDoc(t, stored("a", 2*time.Minute)),
		))

		page, err := s.ListByRecipient(context.Background(), "sup-1", 2, nil)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(page.Items) != 2 || page.Next == nil || page.Next.ID != "b" {
			t.Fatalf("unexpected page %+v", page)
		}
	})

	mt.Run("transitions", func(mt *mtest.T) {
		s := newStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))
		if err := s.MarkRead(context.Background(), "sup-1", "n-1"); err != nil {
			t.Fatalf("mark read failed: %v", err)
		}

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))
		if err := s.RecordClick(context.Background(), "sup-2", "n-1"); !errors.Is(err, notification.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	mt.Run("partial batch applies nothing", func(mt *mtest.T) {
		s := newStore(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bson.D{{Key: "n", Value: int32(1)}}))

		err := s.DeleteMany(context.Background(), "sup-1", []string{"n-1", "n-2"})
		if !errors.Is(err, notification.ErrPartialBatch) {
			t.Fatalf("expected ErrPartialBatch, got %v", err)
		}
		for _, ev := range mt.GetAllStartedEvents() {
			if ev.CommandName == "delete" {
				t.Fatal("delete must not be sent for a partial batch")
			}
		}
	})

	mt.Run("complete batch", func(mt *mtest.T) {
		s := newStore(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bson.D{{Key: "n", Value: int32(2)}}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}, bson.E{Key: "nModified", Value: 2}),
		)
		if err := s.MarkManyRead(context.Background(), "sup-1", []string{"n-1", "n-2", "n-1"}); err != nil {
			t.Fatalf("batch failed: %v", err)
		}
	})

	mt.Run("transactional batch commits", func(mt *mtest.T) {
		s := New(mt.Coll, zap.NewNop(), WithClock(func() time.Time { return base }))
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bson.D{{Key: "n", Value: int32(2)}}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}, bson.E{Key: "nModified", Value: 2}),
			mtest.CreateSuccessResponse(),
		)
		if err := s.MarkManyRead(context.Background(), "sup-1", []string{"n-1", "n-2"}); err != nil {
			t.Fatalf("batch failed: %v", err)
		}

		var updated bool
		for _, ev := range mt.GetAllStartedEvents() {
			if ev.CommandName == "update" {
				updated = true
			}
		}
		if !updated {
			t.Fatal("expected the update inside the transaction")
		}
	})

	mt.Run("transactional partial batch aborts", func(mt *mtest.T) {
		s := New(mt.Coll, zap.NewNop(), WithClock(func() time.Time { return base }))
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bson.D{{Key: "n", Value: int32(1)}}),
			mtest.CreateSuccessResponse(),
		)

		err := s.DeleteMany(context.Background(), "sup-1", []string{"n-1", "n-2"})
		if !errors.Is(err, notification.ErrPartialBatch) {
			t.Fatalf("expected ErrPartialBatch, got %v", err)
		}
		for _, ev := range mt.GetAllStartedEvents() {
			if ev.CommandName == "delete" || ev.CommandName == "commitTransaction" {
				t.Fatalf("unexpected %s for a partial batch", ev.CommandName)
			}
		}
	})

	mt.Run("count unread", func(mt *mtest.T) {
		s := newStore(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bson.D{{Key: "n", Value: int32(4)}}))
		n, err := s.CountUnread(context.Background(), "sup-1")
		if err != nil || n != 4 {
			t.Fatalf("expected 4 unread, got %d, %v", n, err)
		}
	})

	mt.Run("server errors surface as unavailable", func(mt *mtest.T) {
		s := newStore(mt)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "boom"}))
		if _, err := s.MarkAllRead(context.Background(), "sup-1"); !errors.Is(err, notification.ErrStoreUnavailable) {
			t.Fatalf("expected ErrStoreUnavailable, got %v", err)
		}
	})
}

func TestStoreFilter(t *testing.T) {
	read := false
	from := base.Add(-time.Hour)
	f := storeFilter("sup-1", notification.StoreFilter{Type: notification.TypeOrder, IsRead: &read, From: &from})

	if f["fournisseurId"] != "sup-1" || f["type"] != notification.TypeOrder || f["isRead"] != false {
		t.Fatalf("unexpected filter %v", f)
	}
	created, ok := f["createdAt"].(bson.M)
	if !ok || created["$gte"] != from {
		t.Fatalf("unexpected createdAt range %v", f["createdAt"])
	}
	if _, ok := created["$lte"]; ok {
		t.Fatal("unset upper bound must not be sent")
	}
	if _, ok := f["isArchived"]; ok {
		t.Fatal("unset archive filter must not be sent")
	}
}

func TestSetOnce(t *testing.T) {
	p := setOnce(base, "clicked", "clickedAt", "actionTaken", "actionTakenAt")
	set := p[0][0].Value.(bson.D)
	if len(set) != 4 {
		t.Fatalf("expected 4 fields, got %v", set)
	}
	stamp := set[1].Value.(bson.M)["$ifNull"].(bson.A)
	if stamp[0] != "$clickedAt" || stamp[1] != base {
		t.Fatalf("stamp must keep the first value, got %v", stamp)
	}
}

func TestWatchPipeline(t *testing.T) {
	p := watchPipeline("sup-1")
	match := p[0][0].Value.(bson.M)["$or"].(bson.A)
	if match[0].(bson.M)["fullDocument.fournisseurId"] != "sup-1" {
		t.Fatalf("unexpected match %v", match)
	}
	if match[1].(bson.M)["operationType"] != "delete" {
		t.Fatalf("deletes must be matched, got %v", match)
	}
}
