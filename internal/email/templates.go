package email

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lalithlochan/courier/internal/notification"
)

// Template is one status-specific email. Subject and Body use {field}
// placeholders filled from OrderParams.
type Template struct {
	Subject string
	Body    string
}

// Templates are keyed by order status. Statuses without an entry send no
// email.
var Templates = map[string]Template{
	notification.OrderPending: {
		Subject: "Commande #{order_id} reçue",
		Body: `Bonjour {customer_name},

Nous avons bien reçu votre commande #{order_id} d'un montant de {order_total}.

Articles :
{items}

Livraison : {delivery_address}
Paiement : {payment_method}`,
	},
	notification.OrderConfirmed: {
		Subject: "Commande #{order_id} confirmée",
		Body: `Bonjour {customer_name},

Votre commande #{order_id} a été confirmée par le fournisseur.

Articles :
{items}

Total : {order_total}`,
	},
	notification.OrderPreparing: {
		Subject: "Commande #{order_id} en préparation",
		Body: `Bonjour {customer_name},

Votre commande #{order_id} est en cours de préparation.`,
	},
	notification.OrderOutForDelivery: {
		Subject: "Commande #{order_id} en livraison",
		Body: `Bonjour {customer_name},

Votre commande #{order_id} est en route vers :
{delivery_address}

Montant à régler à la livraison : {order_total}`,
	},
	notification.OrderDelivered: {
		Subject: "Commande #{order_id} livrée",
		Body: `Bonjour {customer_name},

Votre commande #{order_id} a été livrée. Merci pour votre confiance.`,
	},
	notification.OrderCancelled: {
		Subject: "Commande #{order_id} annulée",
		Body: `Bonjour {customer_name},

Votre commande #{order_id} d'un montant de {order_total} a été annulée.`,
	},
}

// TemplateFor returns the template for an order status.
func TemplateFor(status string) (Template, bool) {
	tpl, ok := Templates[status]
	return tpl, ok
}

// OrderParams flattens an order into the provider's string parameter map.
func OrderParams(order notification.Order) map[string]string {
	name := order.UserName
	if name == "" {
		name = "client"
	}
	return map[string]string{
		"to_email":         order.UserEmail,
		"customer_name":    name,
		"order_id":         order.ShortID(),
		"order_total":      notification.FormatAmount(order.Total),
		"order_status":     notification.OrderStatusPhrase(order.Status),
		"payment_method":   order.PaymentMethod,
		"items":            ItemsBlock(order.Items),
		"delivery_address": order.DeliveryAddress.Line(),
		"item_count":       strconv.Itoa(len(order.Items)),
	}
}

// ItemsBlock renders one "- name x qty : amount" line per item.
func ItemsBlock(items []notification.OrderItem) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("- %s x%d : %s", it.Name, it.Quantity, notification.FormatAmount(it.Price*float64(it.Quantity))))
	}
	return strings.Join(lines, "\n")
}

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

// Render replaces every {field} with params[field]. Unknown fields are left
// as written.
func Render(text string, params map[string]string) string {
	return placeholder.ReplaceAllStringFunc(text, func(token string) string {
		if v, ok := params[token[1:len(token)-1]]; ok {
			return v
		}
		return token
	})
}
