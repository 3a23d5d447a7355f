package push

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/metrics"
	"github.com/lalithlochan/courier/internal/notification"
	"github.com/lalithlochan/courier/internal/realtime"
)

// NewArrivalWindow is how recent an unread notification must be to count as
// newly arrived.
const NewArrivalWindow = 10 * time.Second

// PreferenceSource loads a supplier's delivery preferences.
type PreferenceSource interface {
	Get(ctx context.Context, supplierID string) (*notification.Preferences, error)
}

// ClickStore is the part of the store click-through needs.
type ClickStore interface {
	Get(ctx context.Context, recipientID, id string) (*notification.Notification, error)
	RecordClick(ctx context.Context, recipientID, id string) error
}

// Bridge displays newly arrived notifications from live snapshots.
type Bridge struct {
	notifier PlatformNotifier
	clicks   ClickStore
	dedup    Deduper
	prefs    PreferenceSource
	window   time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithDedup suppresses repeated displays of the same notification, for
// example after a reconnect re-delivers the list.
func WithDedup(d Deduper) BridgeOption {
	return func(b *Bridge) { b.dedup = d }
}

// WithPreferences applies push toggles and quiet hours.
func WithPreferences(p PreferenceSource) BridgeOption {
	return func(b *Bridge) { b.prefs = p }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) { b.now = now }
}

// NewBridge creates a bridge showing displays through notifier.
func NewBridge(notifier PlatformNotifier, clicks ClickStore, logger *zap.Logger, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		notifier: notifier,
		clicks:   clicks,
		window:   NewArrivalWindow,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewlyArrived keeps unread notifications created within the arrival window.
func (b *Bridge) NewlyArrived(list []*notification.Notification) []*notification.Notification {
	now := b.now()
	var out []*notification.Notification
	for _, n := range list {
		if n.IsRead {
			continue
		}
		if now.Sub(n.CreatedAt) < b.window {
			out = append(out, n)
		}
	}
	return out
}

// Handle displays the newly arrived notifications of snap and returns how
// many were shown. Denied permission skips silently.
func (b *Bridge) Handle(ctx context.Context, supplierID string, snap realtime.Snapshot) int {
	fresh := b.NewlyArrived(snap.Notifications)
	if len(fresh) == 0 {
		return 0
	}

	if b.notifier.Permission(ctx, supplierID) != PermissionGranted {
		for range fresh {
			metrics.RecordDisplay("no_permission")
		}
		return 0
	}

	prefs := b.preferences(ctx, supplierID)
	if prefs.InQuietHours(b.now()) {
		for range fresh {
			metrics.RecordDisplay("quiet_hours")
		}
		return 0
	}

	shown := 0
	for _, n := range fresh {
		if !prefs.Enabled(n.Type, notification.ChannelPush) {
			metrics.RecordDisplay("disabled")
			continue
		}
		if !b.firstSeen(ctx, supplierID, n.ID) {
			metrics.RecordDisplay("duplicate")
			continue
		}
		if err := b.notifier.Show(ctx, supplierID, DisplayFor(n)); err != nil {
			metrics.RecordDisplay("failed")
			b.logger.Warn("display failed",
				zap.String("supplier_id", supplierID),
				zap.String("notification_id", n.ID),
				zap.Error(err),
			)
			continue
		}
		metrics.RecordDisplay("shown")
		shown++
	}
	return shown
}

func (b *Bridge) preferences(ctx context.Context, supplierID string) *notification.Preferences {
	if b.prefs == nil {
		return notification.DefaultPreferences(supplierID)
	}
	p, err := b.prefs.Get(ctx, supplierID)
	if err != nil {
		b.logger.Warn("using default preferences", zap.String("supplier_id", supplierID), zap.Error(err))
		return notification.DefaultPreferences(supplierID)
	}
	return p
}

// firstSeen fails open: a dedup outage may repeat a display but never hides
// one.
func (b *Bridge) firstSeen(ctx context.Context, supplierID, id string) bool {
	if b.dedup == nil {
		return true
	}
	first, err := b.dedup.FirstSeen(ctx, supplierID, id)
	if err != nil {
		b.logger.Warn("display dedup unavailable", zap.Error(err))
		return true
	}
	return first
}

// HandleClick records the click and returns where the dashboard should
// navigate.
func (b *Bridge) HandleClick(ctx context.Context, supplierID, notificationID string) (string, error) {
	n, err := b.clicks.Get(ctx, supplierID, notificationID)
	if err != nil {
		return "", fmt.Errorf("click %s: %w", notificationID, err)
	}
	if err := b.clicks.RecordClick(ctx, supplierID, notificationID); err != nil {
		return "", fmt.Errorf("click %s: %w", notificationID, err)
	}
	return n.Target(), nil
}
