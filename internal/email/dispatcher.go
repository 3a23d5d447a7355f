// Package email is the order-status email side channel: status-keyed
// templates rendered by textual substitution and sent through a
// transactional email provider.
package email

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/courier/internal/metrics"
	"github.com/lalithlochan/courier/internal/notification"
)

var (
	// ErrNoTemplate means the order status has no email template.
	ErrNoTemplate = errors.New("no email template for order status")

	// ErrNotConfigured means the dispatcher was never successfully
	// initialized.
	ErrNotConfigured = errors.New("email dispatcher not configured")

	// ErrNoRecipient means the order carries no customer email.
	ErrNoRecipient = errors.New("order has no customer email")
)

// Config binds the dispatcher to a provider account.
type Config struct {
	ServiceID  string
	TemplateID string
	// PublicKey is the provider credential (the API key for Resend).
	PublicKey string
	From      string
}

func (c Config) validate() error {
	if c.ServiceID == "" || c.TemplateID == "" || c.PublicKey == "" {
		return errors.New("service id, template id and public key are required")
	}
	return nil
}

// Message is a rendered email ready for a provider.
type Message struct {
	ServiceID   string            `json:"serviceId"`
	TemplateID  string            `json:"templateId"`
	To          string            `json:"to"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Params      map[string]string `json:"params"`
	OrderID     string            `json:"orderId"`
	OrderStatus string            `json:"orderStatus"`
}

// Provider is a transactional email backend.
type Provider interface {
	Name() string
	// Init binds credentials. A failed Init leaves the provider unusable.
	Init(cfg Config) error
	// Send delivers msg and returns the provider's message id.
	Send(ctx context.Context, msg Message) (string, error)
}

// Dispatcher renders and sends order-status emails. It is constructed by the
// composition root and configured with Init.
type Dispatcher struct {
	provider Provider
	logger   *zap.Logger

	mu         sync.RWMutex
	cfg        Config
	configured bool

	bulkLimit int
}

// NewDispatcher creates an unconfigured dispatcher.
func NewDispatcher(provider Provider, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{provider: provider, logger: logger, bulkLimit: 8}
}

// Init configures the dispatcher. Calling it again with the same config is a
// no-op; a different config re-initializes. On failure the dispatcher stays
// unconfigured until a later Init succeeds.
func (d *Dispatcher) Init(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.configured && d.cfg == cfg {
		return nil
	}
	d.configured = false

	if err := cfg.validate(); err != nil {
		d.logger.Warn("email dispatcher left unconfigured", zap.Error(err))
		return fmt.Errorf("email init: %w", err)
	}
	if err := d.provider.Init(cfg); err != nil {
		d.logger.Warn("email provider init failed",
			zap.String("provider", d.provider.Name()),
			zap.Error(err),
		)
		return fmt.Errorf("email init %s: %w", d.provider.Name(), err)
	}

	d.cfg = cfg
	d.configured = true
	d.logger.Info("email dispatcher configured",
		zap.String("provider", d.provider.Name()),
		zap.String("service_id", cfg.ServiceID),
	)
	return nil
}

// Configured reports whether Init has succeeded.
func (d *Dispatcher) Configured() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.configured
}

// ProviderName names the backend, for the delivery log.
func (d *Dispatcher) ProviderName() string {
	return d.provider.Name()
}

// Prepare renders the email for order's current status without sending it.
func (d *Dispatcher) Prepare(order notification.Order) (Message, error) {
	tpl, ok := TemplateFor(order.Status)
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrNoTemplate, order.Status)
	}
	if order.UserEmail == "" {
		return Message{}, ErrNoRecipient
	}

	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()

	params := OrderParams(order)
	return Message{
		ServiceID:   cfg.ServiceID,
		TemplateID:  cfg.TemplateID,
		To:          order.UserEmail,
		Subject:     Render(tpl.Subject, params),
		Body:        Render(tpl.Body, params),
		Params:      params,
		OrderID:     order.ID,
		OrderStatus: order.Status,
	}, nil
}

// Deliver sends a prepared message.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) (string, error) {
	if !d.Configured() {
		return "", ErrNotConfigured
	}

	start := time.Now()
	id, err := d.provider.Send(ctx, msg)
	if err != nil {
		metrics.RecordEmail(d.provider.Name(), "failed", time.Since(start))
		d.logger.Error("order email failed",
			zap.String("provider", d.provider.Name()),
			zap.String("order_id", msg.OrderID),
			zap.String("status", msg.OrderStatus),
			zap.Error(err),
		)
		return "", fmt.Errorf("send via %s: %w", d.provider.Name(), err)
	}

	metrics.RecordEmail(d.provider.Name(), "sent", time.Since(start))
	d.logger.Info("order email sent",
		zap.String("provider", d.provider.Name()),
		zap.String("order_id", msg.OrderID),
		zap.String("status", msg.OrderStatus),
		zap.String("message_id", id),
	)
	return id, nil
}

// SendOrderNotification renders and sends the email for order's status.
// A status without a template fails with ErrNoTemplate and sends nothing.
func (d *Dispatcher) SendOrderNotification(ctx context.Context, order notification.Order) error {
	if !d.Configured() {
		return ErrNotConfigured
	}
	msg, err := d.Prepare(order)
	if err != nil {
		return err
	}
	_, err = d.Deliver(ctx, msg)
	return err
}

// SendBulkOrderNotifications sends every order concurrently and reports
// success per order, in input order. One failure never stops the others.
func (d *Dispatcher) SendBulkOrderNotifications(ctx context.Context, orders []notification.Order) []bool {
	results := make([]bool, len(orders))

	var g errgroup.Group
	g.SetLimit(d.bulkLimit)
	for i, order := range orders {
		g.Go(func() error {
			results[i] = d.SendOrderNotification(ctx, order) == nil
			return nil
		})
	}
	_ = g.Wait()

	return results
}
