// Package worker runs the background jobs of the notification service: the
// email retry loop and the scheduled retention sweep.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/db"
	"github.com/lalithlochan/courier/internal/email"
	"github.com/lalithlochan/courier/internal/metrics"
)

// Repository is the part of the email delivery log the retry worker needs.
type Repository interface {
	GetDue(ctx context.Context, limit int) ([]*db.EmailDelivery, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, attempt int, messageID, errorMsg *string, nextRetryAt *time.Time) error
	MoveToDeadLetter(ctx context.Context, d *db.EmailDelivery, lastError string) error
}

// Sender resends a rendered email. *email.Dispatcher implements it.
type Sender interface {
	Deliver(ctx context.Context, msg email.Message) (string, error)
}

// Worker retries failed email deliveries with backoff.
type Worker struct {
	repo   Repository
	sender Sender
	config Config
	logger *zap.Logger
	now    func() time.Time
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries counts retries after the first attempt.
	MaxRetries int
}

// retryDelays[n-1] is the wait after the n-th failed attempt.
var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

func New(repo Repository, sender Sender, cfg Config, logger *zap.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	return &Worker{
		repo:   repo,
		sender: sender,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.Info("email retry worker started", zap.Duration("interval", w.config.PollInterval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("email retry worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	due, err := w.repo.GetDue(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to get due email deliveries", zap.Error(err))
		return
	}
	for _, d := range due {
		if ctx.Err() != nil {
			return
		}
		w.processDelivery(ctx, d)
	}
}

func (w *Worker) processDelivery(ctx context.Context, d *db.EmailDelivery) {
	// Claim the row so another replica does not pick it up.
	if err := w.repo.UpdateStatus(ctx, d.ID, db.StatusPending, d.Attempt, nil, d.ErrorMessage, nil); err != nil {
		w.logger.Error("failed to claim email delivery", zap.String("delivery_id", d.ID.String()), zap.Error(err))
		return
	}

	attempt := d.Attempt + 1

	var msg email.Message
	if err := json.Unmarshal(d.Message, &msg); err != nil {
		w.deadLetter(ctx, d, attempt, "undecodable message: "+err.Error())
		return
	}

	messageID, err := w.sender.Deliver(ctx, msg)
	if err == nil {
		if err := w.repo.UpdateStatus(ctx, d.ID, db.StatusSent, attempt, &messageID, nil, nil); err != nil {
			w.logger.Error("failed to record email delivery", zap.String("delivery_id", d.ID.String()), zap.Error(err))
		}
		metrics.RecordDeliveryRetry("sent")
		w.logger.Info("email delivery retried",
			zap.String("delivery_id", d.ID.String()),
			zap.String("order_id", d.OrderID),
			zap.Int("attempt", attempt),
		)
		return
	}

	errMsg := err.Error()
	w.logger.Warn("email retry failed",
		zap.String("delivery_id", d.ID.String()),
		zap.Int("attempt", attempt),
		zap.Error(err),
	)

	if attempt > w.config.MaxRetries {
		w.deadLetter(ctx, d, attempt, errMsg)
		return
	}

	next := w.calculateNextRetry(attempt)
	if err := w.repo.UpdateStatus(ctx, d.ID, db.StatusFailed, attempt, nil, &errMsg, &next); err != nil {
		w.logger.Error("failed to reschedule email delivery", zap.String("delivery_id", d.ID.String()), zap.Error(err))
	}
	metrics.RecordDeliveryRetry("failed")
}

func (w *Worker) deadLetter(ctx context.Context, d *db.EmailDelivery, attempt int, lastError string) {
	d.Attempt = attempt
	if err := w.repo.MoveToDeadLetter(ctx, d, lastError); err != nil {
		w.logger.Error("failed to dead-letter email delivery",
			zap.String("delivery_id", d.ID.String()),
			zap.Error(err),
		)
		return
	}
	metrics.RecordDeliveryRetry("dead_lettered")
}

// calculateNextRetry returns when the attempt after the given failed one is
// due.
func (w *Worker) calculateNextRetry(attempt int) time.Time {
	idx := attempt - 1
	if idx >= len(retryDelays) {
		idx = len(retryDelays) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return w.now().Add(retryDelays[idx])
}
