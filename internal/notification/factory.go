package notification

import (
	"fmt"
	"maps"
	"slices"
)

// The constructors below build complete records minus ID and CreatedAt,
// which the store assigns. None of them persist anything.

// NewOrderNotification announces a freshly placed order to its supplier.
func NewOrderNotification(order Order) *Notification {
	payload := &OrderPayload{
		OrderID:       order.ID,
		CustomerName:  order.UserName,
		CustomerEmail: order.UserEmail,
		CustomerPhone: order.UserPhone,
		Total:         order.Total,
		Items:         slices.Clone(order.Items),
		PaymentMethod: order.PaymentMethod,
		PaymentStatus: order.PaymentStatus,
		NewStatus:     order.Status,
	}
	if !order.DeliveryAddress.IsZero() {
		addr := order.DeliveryAddress
		payload.DeliveryAddress = &addr
	}

	return &Notification{
		Type:          TypeOrder,
		SubType:       "order_created",
		Title:         "Nouvelle commande reçue",
		Message:       fmt.Sprintf("Nouvelle commande #%s de %s pour un montant de %s.", order.ShortID(), customerName(order), FormatAmount(order.Total)),
		Priority:      PriorityHigh,
		FournisseurID: order.FournisseurID,
		OrderID:       order.ID,
		CustomerID:    order.UserID,
		Data:          &Payload{Order: payload},
	}
}

type paymentTemplate struct {
	title    string
	message  string
	priority Priority
}

var paymentTemplates = map[string]paymentTemplate{
	PaymentPaid: {
		title:    "Paiement reçu",
		message:  "Le paiement de %s pour la commande #%s de %s a été reçu.",
		priority: PriorityMedium,
	},
	PaymentFailed: {
		title:    "Échec du paiement",
		message:  "Le paiement de %s pour la commande #%s de %s a échoué.",
		priority: PriorityHigh,
	},
	PaymentPending: {
		title:    "Paiement en attente",
		message:  "Le paiement de %s pour la commande #%s de %s est en attente.",
		priority: PriorityMedium,
	},
	PaymentRefunded: {
		title:    "Paiement remboursé",
		message:  "Le paiement de %s pour la commande #%s de %s a été remboursé.",
		priority: PriorityMedium,
	},
}

// PaymentTransition builds the notification for a payment status change.
// It returns false for any new status outside paid, failed, pending and
// refunded: those transitions are deliberately not announced.
func PaymentTransition(order Order, oldStatus, newStatus string) (*Notification, bool) {
	tpl, ok := paymentTemplates[newStatus]
	if !ok {
		return nil, false
	}

	return &Notification{
		Type:          TypePayment,
		SubType:       "payment_" + newStatus,
		Title:         tpl.title,
		Message:       fmt.Sprintf(tpl.message, FormatAmount(order.Total), order.ShortID(), customerName(order)),
		Priority:      tpl.priority,
		FournisseurID: order.FournisseurID,
		OrderID:       order.ID,
		CustomerID:    order.UserID,
		Data: &Payload{Payment: &PaymentPayload{
			OrderID:          order.ID,
			CustomerName:     order.UserName,
			Total:            order.Total,
			PaymentMethod:    order.PaymentMethod,
			OldPaymentStatus: oldStatus,
			NewPaymentStatus: newStatus,
		}},
	}, true
}

var orderStatusPhrases = map[string]string{
	OrderPending:        "en attente",
	OrderConfirmed:      "confirmée",
	OrderPreparing:      "en préparation",
	OrderOutForDelivery: "en livraison",
	OrderDelivered:      "livrée",
	OrderCancelled:      "annulée",
}

// OrderStatusPhrase returns the human phrase for an order status, or the
// raw status when it is not one of the six lifecycle values.
func OrderStatusPhrase(status string) string {
	if phrase, ok := orderStatusPhrases[status]; ok {
		return phrase
	}
	return status
}

// OrderStatusTransition builds the notification for an order status change.
// Unknown statuses are echoed verbatim in the message.
func OrderStatusTransition(order Order, oldStatus, newStatus string) *Notification {
	priority := PriorityMedium
	switch newStatus {
	case OrderCancelled:
		priority = PriorityHigh
	case OrderDelivered:
		priority = PriorityLow
	}

	return &Notification{
		Type:          TypeOrder,
		SubType:       "order_status",
		Title:         "Statut de commande mis à jour",
		Message:       fmt.Sprintf("La commande #%s de %s est maintenant %s.", order.ShortID(), customerName(order), OrderStatusPhrase(newStatus)),
		Priority:      priority,
		FournisseurID: order.FournisseurID,
		OrderID:       order.ID,
		CustomerID:    order.UserID,
		Data: &Payload{Order: &OrderPayload{
			OrderID:       order.ID,
			CustomerName:  order.UserName,
			Total:         order.Total,
			PaymentStatus: order.PaymentStatus,
			OldStatus:     oldStatus,
			NewStatus:     newStatus,
		}},
	}
}

// SystemNotification builds a generic system message for a supplier.
func SystemNotification(recipientID, title, message string, attrs map[string]string) *Notification {
	n := &Notification{
		Type:          TypeSystem,
		Title:         title,
		Message:       message,
		Priority:      PriorityLow,
		FournisseurID: recipientID,
	}
	if len(attrs) > 0 {
		n.Data = &Payload{Generic: &GenericPayload{Attributes: maps.Clone(attrs)}}
	}
	return n
}

// ProductNotification builds a product alert (stock, moderation, pricing).
func ProductNotification(recipientID, title, message, productID string, attrs map[string]string) *Notification {
	n := &Notification{
		Type:          TypeProduct,
		Title:         title,
		Message:       message,
		Priority:      PriorityMedium,
		FournisseurID: recipientID,
		ProductID:     productID,
	}
	if productID != "" || len(attrs) > 0 {
		n.Data = &Payload{Product: &ProductPayload{ProductID: productID, Attributes: maps.Clone(attrs)}}
	}
	return n
}

func customerName(order Order) string {
	if order.UserName == "" {
		return "un client"
	}
	return order.UserName
}
