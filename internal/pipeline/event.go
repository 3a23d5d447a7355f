// Package pipeline turns order events into supplier notifications and drives
// the email and SMS side channels for them.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/lalithlochan/courier/internal/notification"
)

// Event types emitted by the order-management subsystem.
const (
	EventOrderCreated  = "order.created"
	EventPaymentStatus = "order.payment_status"
	EventOrderStatus   = "order.status"
)

// ErrInvalidEvent is returned for events that cannot be processed at all.
var ErrInvalidEvent = errors.New("invalid order event")

// Event is one order lifecycle event. ID makes redelivery idempotent.
type Event struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Order      notification.Order `json:"order"`
	OldStatus  string             `json:"oldStatus,omitempty"`
	NewStatus  string             `json:"newStatus,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// Validate checks the fields every event type needs.
func (e Event) Validate() error {
	if e.Order.ID == "" {
		return fmt.Errorf("%w: missing order id", ErrInvalidEvent)
	}
	if e.Order.FournisseurID == "" {
		return fmt.Errorf("%w: missing supplier id", ErrInvalidEvent)
	}
	switch e.Type {
	case EventOrderCreated:
		return nil
	case EventPaymentStatus, EventOrderStatus:
		if e.NewStatus == "" {
			return fmt.Errorf("%w: %s without new status", ErrInvalidEvent, e.Type)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
}

// Result is what processing an event produced.
type Result struct {
	NotificationID string `json:"notificationId,omitempty"`
	// Dropped is set when the event was valid but maps to no notification.
	Dropped bool `json:"dropped,omitempty"`
	// Replayed is set when the event was already processed earlier.
	Replayed bool `json:"replayed,omitempty"`
}
