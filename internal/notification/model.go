// Package notification holds the supplier notification model, the typed
// constructors for domain events, the store contract and the view engine
// (filtering, sorting and statistics) used by the dashboard.
package notification

import (
	"time"
)

// Type is the notification family. The base dashboard only emits order,
// payment, system and product notifications; the rest belong to the
// enhanced variant.
type Type string

const (
	TypeOrder     Type = "order"
	TypePayment   Type = "payment"
	TypeInventory Type = "inventory"
	TypeProduct   Type = "product"
	TypeAccount   Type = "account"
	TypeMarketing Type = "marketing"
	TypeSystem    Type = "system"
)

// AllTypes lists every known type in display order.
var AllTypes = []Type{
	TypeOrder, TypePayment, TypeInventory, TypeProduct,
	TypeAccount, TypeMarketing, TypeSystem,
}

// Valid reports whether t is a known notification type.
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Priority is derived from the type and payload when the record is built.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// Rank orders priorities: high=3, medium=2, low=1, unknown=0.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Notification is one document of the notifications collection.
//
// Title, Message and Type are fixed at creation. Read, archive and the
// delivery/interaction flags only ever move from false to true.
type Notification struct {
	ID            string   `bson:"_id,omitempty" json:"id"`
	Type          Type     `bson:"type" json:"type"`
	SubType       string   `bson:"subType,omitempty" json:"subType,omitempty"`
	Title         string   `bson:"title" json:"title"`
	Message       string   `bson:"message" json:"message"`
	Priority      Priority `bson:"priority" json:"priority"`
	FournisseurID string   `bson:"fournisseurId" json:"fournisseurId"`

	OrderID    string `bson:"orderId,omitempty" json:"orderId,omitempty"`
	ProductID  string `bson:"productId,omitempty" json:"productId,omitempty"`
	CustomerID string `bson:"customerId,omitempty" json:"customerId,omitempty"`
	CampaignID string `bson:"campaignId,omitempty" json:"campaignId,omitempty"`

	IsRead     bool       `bson:"isRead" json:"isRead"`
	ReadAt     *time.Time `bson:"readAt,omitempty" json:"readAt,omitempty"`
	IsArchived bool       `bson:"isArchived" json:"isArchived"`
	ArchivedAt *time.Time `bson:"archivedAt,omitempty" json:"archivedAt,omitempty"`

	Clicked       bool       `bson:"clicked" json:"clicked"`
	ClickedAt     *time.Time `bson:"clickedAt,omitempty" json:"clickedAt,omitempty"`
	ActionTaken   bool       `bson:"actionTaken" json:"actionTaken"`
	ActionTakenAt *time.Time `bson:"actionTakenAt,omitempty" json:"actionTakenAt,omitempty"`
	EmailSent     bool       `bson:"emailSent" json:"emailSent"`
	EmailSentAt   *time.Time `bson:"emailSentAt,omitempty" json:"emailSentAt,omitempty"`
	SMSSent       bool       `bson:"smsSent" json:"smsSent"`
	SMSSentAt     *time.Time `bson:"smsSentAt,omitempty" json:"smsSentAt,omitempty"`

	Data *Payload `bson:"data,omitempty" json:"data,omitempty"`

	CreatedAt time.Time  `bson:"createdAt" json:"createdAt"`
	ExpiresAt *time.Time `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
}

// Clone returns a deep enough copy for callers that mutate flags locally.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	if n.Data != nil {
		d := n.Data.clone()
		c.Data = &d
	}
	return &c
}

// Target is the dashboard route a click on this notification leads to.
func (n *Notification) Target() string {
	if n.OrderID != "" {
		return "/orders/" + n.OrderID
	}
	if n.ProductID != "" {
		return "/products/" + n.ProductID
	}
	return "/notifications"
}

// Expired reports whether the advisory expiry has passed at now.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !now.Before(*n.ExpiresAt)
}
