package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/db"
	"github.com/lalithlochan/courier/internal/email"
	"github.com/lalithlochan/courier/internal/metrics"
	"github.com/lalithlochan/courier/internal/notification"
	"github.com/lalithlochan/courier/internal/redis"
)

// FirstRetryDelay is when a failed email is first retried by the worker.
const FirstRetryDelay = time.Minute

// Guard makes event processing idempotent.
type Guard interface {
	CheckOrReserve(ctx context.Context, source, eventID string) (*redis.EventResult, error)
	Complete(ctx context.Context, source, eventID string, result *redis.EventResult) error
	Release(ctx context.Context, source, eventID string) error
}

// Mailer prepares and sends order emails.
type Mailer interface {
	Configured() bool
	Prepare(order notification.Order) (email.Message, error)
	Deliver(ctx context.Context, msg email.Message) (string, error)
	ProviderName() string
}

// DeliveryLog records every email attempt for the retry worker.
type DeliveryLog interface {
	Create(ctx context.Context, d *db.EmailDelivery) error
}

// PreferenceSource loads a supplier's delivery preferences.
type PreferenceSource interface {
	Get(ctx context.Context, supplierID string) (*notification.Preferences, error)
}

// SMSSender sends a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

// Pipeline processes order events. Only the store is required; every other
// collaborator is optional.
type Pipeline struct {
	store      notification.Store
	guard      Guard
	mailer     Mailer
	deliveries DeliveryLog
	prefs      PreferenceSource
	sms        SMSSender
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithGuard(g Guard) Option { return func(p *Pipeline) { p.guard = g } }

func WithMailer(m Mailer, log DeliveryLog) Option {
	return func(p *Pipeline) { p.mailer, p.deliveries = m, log }
}

func WithSMS(s SMSSender, prefs PreferenceSource) Option {
	return func(p *Pipeline) { p.sms, p.prefs = s, prefs }
}

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// New creates a pipeline writing to store.
func New(store notification.Store, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{store: store, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Build maps an event to its notification. ok is false for payment statuses
// that produce no notification.
func Build(ev Event) (n *notification.Notification, ok bool) {
	switch ev.Type {
	case EventOrderCreated:
		return notification.NewOrderNotification(ev.Order), true
	case EventPaymentStatus:
		return notification.PaymentTransition(ev.Order, ev.OldStatus, ev.NewStatus)
	case EventOrderStatus:
		return notification.OrderStatusTransition(ev.Order, ev.OldStatus, ev.NewStatus), true
	default:
		return nil, false
	}
}

// Process handles one event from source (for example "sqs" or "http").
// Redelivered events return the first result with Replayed set. Side-channel
// failures are logged and never fail the event.
func (p *Pipeline) Process(ctx context.Context, source string, ev Event) (*Result, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	guarded := p.guard != nil && ev.ID != ""
	if guarded {
		prior, err := p.guard.CheckOrReserve(ctx, source, ev.ID)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			return nil, err
		case err != nil:
			p.logger.Warn("event guard failed, proceeding",
				zap.String("event_id", ev.ID),
				zap.Error(err),
			)
			guarded = false
		case prior != nil:
			metrics.RecordEventReplay()
			return &Result{NotificationID: prior.NotificationID, Dropped: prior.Dropped, Replayed: true}, nil
		}
	}

	result, err := p.handle(ctx, ev)
	if err != nil {
		if guarded {
			if rerr := p.guard.Release(ctx, source, ev.ID); rerr != nil {
				p.logger.Warn("failed to release event", zap.String("event_id", ev.ID), zap.Error(rerr))
			}
		}
		return nil, err
	}

	if guarded {
		done := &redis.EventResult{NotificationID: result.NotificationID, Dropped: result.Dropped}
		if err := p.guard.Complete(ctx, source, ev.ID, done); err != nil {
			p.logger.Warn("failed to store event result", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
	return result, nil
}

func (p *Pipeline) handle(ctx context.Context, ev Event) (*Result, error) {
	order := ev.Order
	if ev.Type == EventOrderStatus {
		order.Status = ev.NewStatus
	}

	n, ok := Build(ev)
	if !ok {
		metrics.RecordTransitionDropped("payment")
		p.logger.Debug("payment status produces no notification",
			zap.String("order_id", order.ID),
			zap.String("status", ev.NewStatus),
		)
		return &Result{Dropped: true}, nil
	}

	id, err := p.store.Create(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("create notification for %s: %w", ev.Type, err)
	}
	metrics.RecordNotificationCreated(string(n.Type), string(n.Priority))
	p.logger.Info("notification created",
		zap.String("notification_id", id),
		zap.String("supplier_id", n.FournisseurID),
		zap.String("type", string(n.Type)),
		zap.String("event_type", ev.Type),
	)

	if ev.Type != EventPaymentStatus {
		p.sendEmail(ctx, n, order)
	}
	if n.Priority == notification.PriorityHigh {
		p.sendSMS(ctx, n)
	}
	return &Result{NotificationID: id}, nil
}

func (p *Pipeline) sendEmail(ctx context.Context, n *notification.Notification, order notification.Order) {
	if p.mailer == nil || !p.mailer.Configured() {
		return
	}

	msg, err := p.mailer.Prepare(order)
	if err != nil {
		p.logger.Debug("no order email for status",
			zap.String("order_id", order.ID),
			zap.String("status", order.Status),
			zap.Error(err),
		)
		return
	}

	messageID, sendErr := p.mailer.Deliver(ctx, msg)
	p.logDelivery(ctx, n, msg, messageID, sendErr)
	if sendErr != nil {
		return
	}
	if err := p.store.RecordEmailSent(ctx, n.FournisseurID, n.ID); err != nil {
		p.logger.Warn("failed to flag email sent", zap.String("notification_id", n.ID), zap.Error(err))
	}
}

func (p *Pipeline) logDelivery(ctx context.Context, n *notification.Notification, msg email.Message, messageID string, sendErr error) {
	if p.deliveries == nil {
		return
	}
	body, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("failed to encode email for delivery log", zap.Error(err))
		return
	}

	d := &db.EmailDelivery{
		SupplierID:     n.FournisseurID,
		NotificationID: n.ID,
		OrderID:        msg.OrderID,
		OrderStatus:    msg.OrderStatus,
		Recipient:      msg.To,
		Provider:       p.mailer.ProviderName(),
		Message:        body,
		Attempt:        1,
	}
	if sendErr != nil {
		errMsg := sendErr.Error()
		next := p.now().Add(FirstRetryDelay)
		d.Status, d.ErrorMessage, d.NextRetryAt = db.StatusFailed, &errMsg, &next
	} else {
		d.Status, d.MessageID = db.StatusSent, &messageID
	}

	if err := p.deliveries.Create(ctx, d); err != nil {
		p.logger.Error("failed to log email delivery",
			zap.String("order_id", msg.OrderID),
			zap.Error(err),
		)
	}
}

// sendSMS texts the supplier when SMS is enabled for the type, a phone is
// on file and quiet hours are not in effect.
func (p *Pipeline) sendSMS(ctx context.Context, n *notification.Notification) {
	if p.sms == nil || p.prefs == nil {
		return
	}
	prefs, err := p.prefs.Get(ctx, n.FournisseurID)
	if err != nil {
		p.logger.Warn("skipping sms, preferences unavailable", zap.String("supplier_id", n.FournisseurID), zap.Error(err))
		return
	}
	if !prefs.Enabled(n.Type, notification.ChannelSMS) || prefs.ContactPhone == "" {
		return
	}
	if prefs.InQuietHours(p.now()) {
		metrics.RecordSMS("quiet_hours")
		return
	}

	if _, err := p.sms.SendSMS(ctx, prefs.ContactPhone, n.Title+" : "+n.Message); err != nil {
		metrics.RecordSMS("failed")
		p.logger.Warn("sms failed", zap.String("notification_id", n.ID), zap.Error(err))
		return
	}
	metrics.RecordSMS("sent")
	if err := p.store.RecordSMSSent(ctx, n.FournisseurID, n.ID); err != nil {
		p.logger.Warn("failed to flag sms sent", zap.String("notification_id", n.ID), zap.Error(err))
	}
}
