// Package push turns newly arrived notifications into platform
// notifications: browser notifications over the dashboard websocket and
// mobile push through SNS.
package push

import (
	"context"
	"errors"
	"time"

	"github.com/lalithlochan/courier/internal/notification"
)

// ErrNoAudience is returned by Show when no client could receive the display.
var ErrNoAudience = errors.New("no client available for display")

// Permission mirrors the browser notification permission.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// ParsePermission maps a client-reported value, defaulting to
// PermissionDefault.
func ParsePermission(s string) Permission {
	switch Permission(s) {
	case PermissionGranted, PermissionDenied:
		return Permission(s)
	default:
		return PermissionDefault
	}
}

// Display is one system notification as shown by the platform.
type Display struct {
	NotificationID string            `json:"notificationId"`
	Type           notification.Type `json:"type"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	// Tag lets the platform replace an earlier display of the same record.
	Tag                string `json:"tag"`
	Target             string `json:"target"`
	RequireInteraction bool   `json:"requireInteraction"`
	// AutoCloseMS is zero when RequireInteraction is set.
	AutoCloseMS int64 `json:"autoCloseMs,omitempty"`
}

// AutoCloseAfter is how long non-order displays stay on screen.
const AutoCloseAfter = 10 * time.Second

// DisplayFor builds the display for n. Order notifications stay until the
// supplier dismisses them; everything else auto-closes.
func DisplayFor(n *notification.Notification) Display {
	d := Display{
		NotificationID: n.ID,
		Type:           n.Type,
		Title:          n.Title,
		Body:           n.Message,
		Tag:            "notification-" + n.ID,
		Target:         n.Target(),
	}
	if n.Type == notification.TypeOrder {
		d.RequireInteraction = true
	} else {
		d.AutoCloseMS = AutoCloseAfter.Milliseconds()
	}
	return d
}

// PlatformNotifier is the capability to show system notifications to a
// supplier.
type PlatformNotifier interface {
	Permission(ctx context.Context, supplierID string) Permission
	Show(ctx context.Context, supplierID string, d Display) error
}

// Noop never shows anything. Used headless and in tests.
type Noop struct{}

func (Noop) Permission(context.Context, string) Permission { return PermissionDenied }

func (Noop) Show(context.Context, string, Display) error { return nil }

// Fanout shows a display on every notifier that has permission.
type Fanout []PlatformNotifier

func (f Fanout) Permission(ctx context.Context, supplierID string) Permission {
	result := PermissionDenied
	for _, n := range f {
		switch n.Permission(ctx, supplierID) {
		case PermissionGranted:
			return PermissionGranted
		case PermissionDefault:
			result = PermissionDefault
		}
	}
	return result
}

func (f Fanout) Show(ctx context.Context, supplierID string, d Display) error {
	var errs []error
	shown := 0
	for _, n := range f {
		if n.Permission(ctx, supplierID) != PermissionGranted {
			continue
		}
		if err := n.Show(ctx, supplierID, d); err != nil {
			errs = append(errs, err)
			continue
		}
		shown++
	}
	if shown > 0 {
		return nil
	}
	if len(errs) == 0 {
		return ErrNoAudience
	}
	return errors.Join(errs...)
}
