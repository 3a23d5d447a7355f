package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EmailDelivery is one row of the email delivery log. Message holds the
// rendered email so retries resend exactly what was first attempted.
type EmailDelivery struct {
	ID             uuid.UUID       `json:"id"`
	SupplierID     string          `json:"supplier_id"`
	NotificationID string          `json:"notification_id,omitempty"`
	OrderID        string          `json:"order_id"`
	OrderStatus    string          `json:"order_status"`
	Recipient      string          `json:"recipient"`
	Provider       string          `json:"provider"`
	Message        json.RawMessage `json:"message"`
	Status         string          `json:"status"`
	Attempt        int             `json:"attempt"`
	MessageID      *string         `json:"message_id,omitempty"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Status constants
const (
	StatusPending      = "pending"
	StatusSent         = "sent"
	StatusFailed       = "failed"
	StatusDeadLettered = "dead_lettered"
)
