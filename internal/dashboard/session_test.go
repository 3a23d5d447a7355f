package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/memstore"
	"github.com/lalithlochan/courier/internal/notification"
	"github.com/lalithlochan/courier/internal/realtime"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// failingStore rejects every mutation.
type failingStore struct {
	*memstore.Store
}

var errDown = errors.New("store down")

func (failingStore) MarkRead(context.Context, string, string) error { return errDown }

func (failingStore) Delete(context.Context, string, string) error { return errDown }

func (failingStore) MarkAllRead(context.Context, string) (int64, error) { return 0, errDown }

func newStore() *memstore.Store {
	return memstore.New(memstore.WithClock(func() time.Time { return base.Add(-time.Hour) }))
}

func seed(t *testing.T, store *memstore.Store, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := store.Create(context.Background(), notification.SystemNotification("sup-1", "Maintenance", "Fenêtre de maintenance", nil))
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func newSession(t *testing.T, store notification.Store) *Session {
	t.Helper()
	s := NewSession(store, "sup-1", zap.NewNop())
	s.now = func() time.Time { return base }
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return s
}

func TestSession_LoadComputesAggregates(t *testing.T) {
	store := newStore()
	seed(t, store, 3)
	s := newSession(t, store)

	v := s.View()
	if len(v.Notifications) != 3 || v.UnreadCount != 3 {
		t.Fatalf("expected 3 unread notifications, got %d / %d", len(v.Notifications), v.UnreadCount)
	}
	if v.Stats.Total != 3 || v.Stats.Recent != 3 {
		t.Fatalf("unexpected stats %+v", v.Stats)
	}
}

func TestSession_MutationsApplyAfterStoreConfirms(t *testing.T) {
	store := newStore()
	ids := seed(t, store, 3)
	s := newSession(t, store)
	ctx := context.Background()

	if err := s.MarkRead(ctx, ids[0]); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	if err := s.MarkRead(ctx, ids[0]); err != nil {
		t.Fatalf("second mark read failed: %v", err)
	}
	if got := s.View().UnreadCount; got != 2 {
		t.Fatalf("expected 2 unread, got %d", got)
	}

	if err := s.Delete(ctx, ids[1]); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	v := s.View()
	if len(v.Notifications) != 2 || v.UnreadCount != 1 {
		t.Fatalf("expected 2 left with 1 unread, got %d / %d", len(v.Notifications), v.UnreadCount)
	}

	if err := s.Click(ctx, ids[2]); err != nil {
		t.Fatalf("click failed: %v", err)
	}
	if v := s.View(); v.Stats.Clicked != 1 || v.Stats.ClickThroughRate != 50 {
		t.Fatalf("unexpected stats after click %+v", v.Stats)
	}

	if err := s.MarkAllRead(ctx); err != nil {
		t.Fatalf("mark all read failed: %v", err)
	}
	if got := s.View().UnreadCount; got != 0 {
		t.Fatalf("expected 0 unread, got %d", got)
	}
}

func TestSession_FailureIsRetainedAndStateUntouched(t *testing.T) {
	mem := newStore()
	ids := seed(t, mem, 2)
	s := newSession(t, failingStore{mem})
	ctx := context.Background()

	if err := s.MarkRead(ctx, ids[0]); !errors.Is(err, errDown) {
		t.Fatalf("expected store error, got %v", err)
	}
	v := s.View()
	if v.UnreadCount != 2 || v.Error == "" {
		t.Fatalf("failed command must not change state and must retain the error, got %+v", v)
	}

	s.ClearError()
	if s.Err() != "" {
		t.Fatal("ClearError should drop the error")
	}

	if err := s.Delete(ctx, ids[0]); err == nil {
		t.Fatal("expected delete to fail")
	}
	s.SetSearch("maintenance")
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if s.Err() != "" {
		t.Fatal("a successful operation should clear the error")
	}
}

func TestSession_FilterSearchSort(t *testing.T) {
	store := newStore()
	seed(t, store, 2)
	if _, err := store.Create(context.Background(), notification.ProductNotification("sup-1", "Stock bas", "Olives presque épuisées", "p-1", nil)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	s := newSession(t, store)

	s.SetSearch("OLIVES")
	if got := len(s.View().Notifications); got != 1 {
		t.Fatalf("expected 1 search match, got %d", got)
	}

	s.SetFilter(notification.Filter{Type: notification.TypeSystem})
	if v := s.View(); len(v.Notifications) != 0 || v.Filter.SearchTerm != "OLIVES" {
		t.Fatalf("filter should keep the search term, got %+v", v.Filter)
	}

	s.SetSearch("")
	s.SetSort(notification.SortType)
	v := s.View()
	if len(v.Notifications) != 2 || v.Sort != notification.SortType {
		t.Fatalf("expected 2 system notifications sorted by type, got %d", len(v.Notifications))
	}
	if v.Stats.Total != 3 {
		t.Fatalf("stats cover the whole partition, got %d", v.Stats.Total)
	}
}

func currentSnapshot(t *testing.T, store notification.Store, window int) realtime.Snapshot {
	t.Helper()
	ctx := context.Background()
	page, err := store.ListByRecipient(ctx, "sup-1", window, nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	count, err := store.CountUnread(ctx, "sup-1")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return realtime.Snapshot{Notifications: page.Items, UnreadCount: count, Complete: page.Next == nil}
}

func TestSession_ApplyMergesSnapshot(t *testing.T) {
	store := newStore()
	ids := seed(t, store, 2)
	s := newSession(t, store)
	ctx := context.Background()

	if err := store.MarkRead(ctx, "sup-1", ids[0]); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	fresh := &notification.Notification{ID: "new-1", Type: notification.TypeSystem, FournisseurID: "sup-1", CreatedAt: base}
	snap := currentSnapshot(t, store, 50)
	snap.Notifications = append([]*notification.Notification{fresh}, snap.Notifications...)
	snap.UnreadCount = 2

	s.Apply(snap)

	v := s.View()
	if len(v.Notifications) != 3 || v.UnreadCount != 2 {
		t.Fatalf("expected 3 notifications with 2 unread, got %d / %d", len(v.Notifications), v.UnreadCount)
	}
	if v.Notifications[0].ID != "new-1" {
		t.Fatalf("expected newest first, got %s", v.Notifications[0].ID)
	}
	for _, n := range v.Notifications {
		if n.ID == ids[0] && !n.IsRead {
			t.Fatal("snapshot copy should replace the local one")
		}
	}
}

func TestSession_ApplyDropsNotificationsDeletedElsewhere(t *testing.T) {
	store := newStore()
	ids := seed(t, store, 2)
	s := newSession(t, store)

	if err := store.Delete(context.Background(), "sup-1", ids[0]); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	s.Apply(currentSnapshot(t, store, 50))

	v := s.View()
	if len(v.Notifications) != 1 || v.Notifications[0].ID != ids[1] {
		t.Fatalf("deleted notification still shown: %d items", len(v.Notifications))
	}
	if v.UnreadCount != 1 || v.Stats.Total != 1 || v.Stats.Unread != 1 {
		t.Fatalf("aggregates disagree with the snapshot: unread=%d stats=%+v", v.UnreadCount, v.Stats)
	}
}

func TestSession_ApplyKeepsItemsOlderThanWindow(t *testing.T) {
	store := newStore()
	seed(t, store, 3)
	s := newSession(t, store)

	snap := currentSnapshot(t, store, 2)
	if snap.Complete {
		t.Fatal("a two-item window over three notifications is not complete")
	}
	older := s.View().Notifications[2]

	// Drop the newest one from the window as if it had been deleted.
	removed := snap.Notifications[0]
	snap.Notifications = snap.Notifications[1:]
	s.Apply(snap)

	v := s.View()
	if len(v.Notifications) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(v.Notifications))
	}
	var sawOlder bool
	for _, n := range v.Notifications {
		if n.ID == removed.ID {
			t.Fatal("notification missing from the window should be dropped")
		}
		if n.ID == older.ID {
			sawOlder = true
		}
	}
	if !sawOlder {
		t.Fatal("notification older than the window should be kept")
	}
}

func TestSession_MarkAllReadClearsUnread(t *testing.T) {
	store := newStore()
	seed(t, store, 1)
	s := newSession(t, store)

	s.Apply(realtime.Snapshot{Notifications: s.View().Notifications, UnreadCount: 3})
	if err := s.MarkAllRead(context.Background()); err != nil {
		t.Fatalf("mark all read failed: %v", err)
	}
	if got := s.View().UnreadCount; got != 0 {
		t.Fatalf("expected 0 unread, got %d", got)
	}
}

func TestSession_CloseDiscardsLateResults(t *testing.T) {
	store := newStore()
	ids := seed(t, store, 1)
	s := newSession(t, store)
	s.Close()
	s.Close()

	if err := s.MarkRead(context.Background(), ids[0]); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	s.Apply(realtime.Snapshot{UnreadCount: 7})
	if v := s.View(); len(v.Notifications) != 0 || v.UnreadCount == 7 {
		t.Fatalf("closed session must not change, got %+v", v)
	}
}
