package notification

import (
	"fmt"
	"maps"
	"slices"
)

// Payload is the denormalized event snapshot stored with a notification.
// Exactly one variant is set and it must agree with the notification type:
// Order for order, Payment for payment, Product for product/inventory and
// Generic for every other type.
type Payload struct {
	Order   *OrderPayload   `bson:"order,omitempty" json:"order,omitempty"`
	Payment *PaymentPayload `bson:"payment,omitempty" json:"payment,omitempty"`
	Product *ProductPayload `bson:"product,omitempty" json:"product,omitempty"`
	Generic *GenericPayload `bson:"generic,omitempty" json:"generic,omitempty"`
}

// OrderPayload snapshots an order at the time of the event.
type OrderPayload struct {
	OrderID         string      `bson:"orderId" json:"orderId"`
	CustomerName    string      `bson:"customerName" json:"customerName"`
	CustomerEmail   string      `bson:"customerEmail,omitempty" json:"customerEmail,omitempty"`
	CustomerPhone   string      `bson:"customerPhone,omitempty" json:"customerPhone,omitempty"`
	Total           float64     `bson:"total" json:"total"`
	Items           []OrderItem `bson:"items,omitempty" json:"items,omitempty"`
	PaymentMethod   string      `bson:"paymentMethod,omitempty" json:"paymentMethod,omitempty"`
	PaymentStatus   string      `bson:"paymentStatus,omitempty" json:"paymentStatus,omitempty"`
	DeliveryAddress *Address    `bson:"deliveryAddress,omitempty" json:"deliveryAddress,omitempty"`
	OldStatus       string      `bson:"oldStatus,omitempty" json:"oldStatus,omitempty"`
	NewStatus       string      `bson:"newStatus,omitempty" json:"newStatus,omitempty"`
}

// PaymentPayload snapshots a payment status transition.
type PaymentPayload struct {
	OrderID          string  `bson:"orderId" json:"orderId"`
	CustomerName     string  `bson:"customerName" json:"customerName"`
	Total            float64 `bson:"total" json:"total"`
	PaymentMethod    string  `bson:"paymentMethod,omitempty" json:"paymentMethod,omitempty"`
	OldPaymentStatus string  `bson:"oldPaymentStatus" json:"oldPaymentStatus"`
	NewPaymentStatus string  `bson:"newPaymentStatus" json:"newPaymentStatus"`
}

// ProductPayload carries product alert context (stock levels, price changes).
type ProductPayload struct {
	ProductID  string            `bson:"productId,omitempty" json:"productId,omitempty"`
	Attributes map[string]string `bson:"attributes,omitempty" json:"attributes,omitempty"`
}

// GenericPayload carries free-form context for system, account and
// marketing notifications.
type GenericPayload struct {
	Attributes map[string]string `bson:"attributes,omitempty" json:"attributes,omitempty"`
}

// Validate checks that exactly one variant is set and that it matches t.
func (p *Payload) Validate(t Type) error {
	if p == nil {
		return nil
	}

	set := 0
	for _, present := range []bool{p.Order != nil, p.Payment != nil, p.Product != nil, p.Generic != nil} {
		if present {
			set++
		}
	}
	if set == 0 {
		return nil
	}
	if set > 1 {
		return fmt.Errorf("payload has %d variants set, want 1", set)
	}

	switch {
	case p.Order != nil && t != TypeOrder:
		return fmt.Errorf("order payload on %s notification", t)
	case p.Payment != nil && t != TypePayment:
		return fmt.Errorf("payment payload on %s notification", t)
	case p.Product != nil && t != TypeProduct && t != TypeInventory:
		return fmt.Errorf("product payload on %s notification", t)
	case p.Generic != nil && (t == TypeOrder || t == TypePayment):
		return fmt.Errorf("generic payload on %s notification", t)
	}
	return nil
}

func (p Payload) clone() Payload {
	c := p
	if p.Order != nil {
		o := *p.Order
		o.Items = slices.Clone(p.Order.Items)
		if p.Order.DeliveryAddress != nil {
			a := *p.Order.DeliveryAddress
			o.DeliveryAddress = &a
		}
		c.Order = &o
	}
	if p.Payment != nil {
		pay := *p.Payment
		c.Payment = &pay
	}
	if p.Product != nil {
		prod := *p.Product
		prod.Attributes = maps.Clone(p.Product.Attributes)
		c.Product = &prod
	}
	if p.Generic != nil {
		g := *p.Generic
		g.Attributes = maps.Clone(p.Generic.Attributes)
		c.Generic = &g
	}
	return c
}
