package push

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

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	permission Permission
	shown      []Display
	err        error
}

func (r *recordingNotifier) Permission(context.Context, string) Permission { return r.permission }

func (r *recordingNotifier) Show(_ context.Context, _ string, d Display) error {
	if r.err != nil {
		return r.err
	}
	r.shown = append(r.shown, d)
	return nil
}

type staticPrefs struct {
	prefs *notification.Preferences
	err   error
}

func (s staticPrefs) Get(context.Context, string) (*notification.Preferences, error) {
	return s.prefs, s.err
}

func arrived(id string, t notification.Type, age time.Duration, read bool) *notification.Notification {
	return &notification.Notification{
		ID:            id,
		Type:          t,
		Title:         "title " + id,
		FournisseurID: "sup-1",
		IsRead:        read,
		CreatedAt:     now.Add(-age),
	}
}

func newTestBridge(n PlatformNotifier, opts ...BridgeOption) *Bridge {
	opts = append([]BridgeOption{WithClock(func() time.Time { return now })}, opts...)
	return NewBridge(n, memstore.New(), zap.NewNop(), opts...)
}

func TestBridge_NewlyArrived(t *testing.T) {
	b := newTestBridge(Noop{})
	list := []*notification.Notification{
		arrived("fresh", notification.TypeOrder, 2*time.Second, false),
		arrived("read", notification.TypeOrder, 2*time.Second, true),
		arrived("old", notification.TypeOrder, 11*time.Second, false),
		arrived("edge", notification.TypeOrder, 10*time.Second, false),
		arrived("skewed", notification.TypeSystem, -time.Second, false),
	}

	got := b.NewlyArrived(list)
	if len(got) != 2 || got[0].ID != "fresh" || got[1].ID != "skewed" {
		ids := make([]string, len(got))
		for i, n := range got {
			ids[i] = n.ID
		}
		t.Fatalf("unexpected newly arrived set %v", ids)
	}
}

func TestBridge_Handle(t *testing.T) {
	r := &recordingNotifier{permission: PermissionGranted}
	b := newTestBridge(r)

	snap := realtime.Snapshot{Notifications: []*notification.Notification{
		arrived("o-1", notification.TypeOrder, time.Second, false),
		arrived("s-1", notification.TypeSystem, time.Second, false),
		arrived("old", notification.TypeSystem, time.Minute, false),
	}}
	if shown := b.Handle(context.Background(), "sup-1", snap); shown != 2 {
		t.Fatalf("expected 2 displays, got %d", shown)
	}

	order, system := r.shown[0], r.shown[1]
	if !order.RequireInteraction || order.AutoCloseMS != 0 {
		t.Fatalf("order display must require interaction, got %+v", order)
	}
	if system.RequireInteraction || system.AutoCloseMS != 10000 {
		t.Fatalf("system display must auto-close after 10s, got %+v", system)
	}
}

func TestBridge_PermissionDeniedSkipsSilently(t *testing.T) {
	for _, p := range []Permission{PermissionDenied, PermissionDefault} {
		r := &recordingNotifier{permission: p}
		b := newTestBridge(r)
		snap := realtime.Snapshot{Notifications: []*notification.Notification{
			arrived("o-1", notification.TypeOrder, time.Second, false),
		}}
		if shown := b.Handle(context.Background(), "sup-1", snap); shown != 0 || len(r.shown) != 0 {
			t.Fatalf("permission %s: expected no display", p)
		}
	}
}

func TestBridge_DedupSuppressesRedelivery(t *testing.T) {
	r := &recordingNotifier{permission: PermissionGranted}
	b := newTestBridge(r, WithDedup(NewMemoryDedup(time.Minute)))
	snap := realtime.Snapshot{Notifications: []*notification.Notification{
		arrived("o-1", notification.TypeOrder, time.Second, false),
	}}

	b.Handle(context.Background(), "sup-1", snap)
	b.Handle(context.Background(), "sup-1", snap)
	if len(r.shown) != 1 {
		t.Fatalf("expected one display across reconnects, got %d", len(r.shown))
	}
}

func TestBridge_Preferences(t *testing.T) {
	snap := realtime.Snapshot{Notifications: []*notification.Notification{
		arrived("o-1", notification.TypeOrder, time.Second, false),
		arrived("m-1", notification.TypeMarketing, time.Second, false),
	}}

	t.Run("push toggles", func(t *testing.T) {
		r := &recordingNotifier{permission: PermissionGranted}
		b := newTestBridge(r, WithPreferences(staticPrefs{prefs: notification.DefaultPreferences("sup-1")}))
		if shown := b.Handle(context.Background(), "sup-1", snap); shown != 1 || r.shown[0].NotificationID != "o-1" {
			t.Fatalf("marketing push is off by default, got %+v", r.shown)
		}
	})

	t.Run("quiet hours", func(t *testing.T) {
		prefs := notification.DefaultPreferences("sup-1")
		prefs.QuietHours = notification.QuietHours{Enabled: true, Start: "11:00", End: "13:00", Timezone: "UTC"}
		r := &recordingNotifier{permission: PermissionGranted}
		b := newTestBridge(r, WithPreferences(staticPrefs{prefs: prefs}))
		if shown := b.Handle(context.Background(), "sup-1", snap); shown != 0 {
			t.Fatalf("expected no display during quiet hours, got %d", shown)
		}
	})

	t.Run("lookup failure uses defaults", func(t *testing.T) {
		r := &recordingNotifier{permission: PermissionGranted}
		b := newTestBridge(r, WithPreferences(staticPrefs{err: errors.New("db down")}))
		if shown := b.Handle(context.Background(), "sup-1", snap); shown != 1 {
			t.Fatalf("expected defaults to apply, got %d", shown)
		}
	})
}

func TestBridge_ShowFailureIsContained(t *testing.T) {
	r := &recordingNotifier{permission: PermissionGranted, err: errors.New("socket closed")}
	b := newTestBridge(r)
	snap := realtime.Snapshot{Notifications: []*notification.Notification{
		arrived("o-1", notification.TypeOrder, time.Second, false),
	}}
	if shown := b.Handle(context.Background(), "sup-1", snap); shown != 0 {
		t.Fatalf("expected 0 shown, got %d", shown)
	}
}

func TestBridge_HandleClick(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	id, err := store.Create(ctx, notification.NewOrderNotification(notification.Order{
		ID: "ord-1", FournisseurID: "sup-1", UserName: "A", Total: 10,
	}))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	b := NewBridge(Noop{}, store, zap.NewNop())

	target, err := b.HandleClick(ctx, "sup-1", id)
	if err != nil || target != "/orders/ord-1" {
		t.Fatalf("unexpected target %q, %v", target, err)
	}
	got, _ := store.Get(ctx, "sup-1", id)
	if !got.Clicked || !got.ActionTaken {
		t.Fatal("expected click to be recorded")
	}

	if _, err := b.HandleClick(ctx, "sup-2", id); !errors.Is(err, notification.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another supplier, got %v", err)
	}
}

func TestFanout(t *testing.T) {
	denied := &recordingNotifier{permission: PermissionDenied}
	granted := &recordingNotifier{permission: PermissionGranted}
	f := Fanout{denied, granted}

	if f.Permission(context.Background(), "sup-1") != PermissionGranted {
		t.Fatal("expected granted when any notifier is granted")
	}
	if err := f.Show(context.Background(), "sup-1", Display{NotificationID: "n"}); err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if len(denied.shown) != 0 || len(granted.shown) != 1 {
		t.Fatal("only granted notifiers should display")
	}

	if err := (Fanout{denied}).Show(context.Background(), "sup-1", Display{}); !errors.Is(err, ErrNoAudience) {
		t.Fatalf("expected ErrNoAudience, got %v", err)
	}
}

func TestMemoryDedup_Expires(t *testing.T) {
	d := NewMemoryDedup(time.Minute)
	clock := now
	d.now = func() time.Time { return clock }
	ctx := context.Background()

	if first, _ := d.FirstSeen(ctx, "sup-1", "n-1"); !first {
		t.Fatal("expected first sighting")
	}
	if first, _ := d.FirstSeen(ctx, "sup-1", "n-1"); first {
		t.Fatal("expected duplicate")
	}
	if first, _ := d.FirstSeen(ctx, "sup-2", "n-1"); !first {
		t.Fatal("suppliers must not share dedup entries")
	}
	clock = clock.Add(time.Minute)
	if first, _ := d.FirstSeen(ctx, "sup-1", "n-1"); !first {
		t.Fatal("expected entry to expire")
	}
}
