package notification

import (
	"fmt"
	"strings"
	"time"
)

// Order statuses emitted by the order-management subsystem.
const (
	OrderPending        = "pending"
	OrderConfirmed      = "confirmed"
	OrderPreparing      = "preparing"
	OrderOutForDelivery = "out_for_delivery"
	OrderDelivered      = "delivered"
	OrderCancelled      = "cancelled"
)

// Payment statuses that produce a notification. Anything else is ignored.
const (
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentPending  = "pending"
	PaymentRefunded = "refunded"
)

// Order is the upstream order as seen by the notification pipeline.
type Order struct {
	ID              string      `json:"id"`
	FournisseurID   string      `json:"fournisseurId"`
	UserID          string      `json:"userId"`
	UserName        string      `json:"userName"`
	UserEmail       string      `json:"userEmail"`
	UserPhone       string      `json:"userPhone,omitempty"`
	Total           float64     `json:"total"`
	Items           []OrderItem `json:"items"`
	PaymentMethod   string      `json:"paymentMethod"`
	PaymentStatus   string      `json:"paymentStatus"`
	Status          string      `json:"status"`
	DeliveryAddress Address     `json:"deliveryAddress"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// OrderItem is a line of an order.
type OrderItem struct {
	ProductID string  `bson:"productId" json:"productId"`
	Name      string  `bson:"name" json:"name"`
	Quantity  int     `bson:"quantity" json:"quantity"`
	Price     float64 `bson:"price" json:"price"`
}

// Address is a delivery address.
type Address struct {
	Street     string `bson:"street,omitempty" json:"street,omitempty"`
	City       string `bson:"city,omitempty" json:"city,omitempty"`
	PostalCode string `bson:"postalCode,omitempty" json:"postalCode,omitempty"`
	Country    string `bson:"country,omitempty" json:"country,omitempty"`
}

// Line joins the non-empty address parts with ", ".
func (a Address) Line() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Street, a.City, a.PostalCode, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// IsZero reports whether no address part is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ShortID is the order reference shown to humans: the last 8 characters,
// upper-cased.
func (o Order) ShortID() string {
	id := o.ID
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return strings.ToUpper(id)
}

// FormatAmount renders a money amount the way every template shows it.
func FormatAmount(v float64) string {
	return fmt.Sprintf("%.2f €", v)
}
