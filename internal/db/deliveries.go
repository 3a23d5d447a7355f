package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrDeliveryNotFound is returned for an unknown delivery id.
var ErrDeliveryNotFound = errors.New("email delivery not found")

const deliveryColumns = `
	id, supplier_id, notification_id, order_id, order_status,
	recipient, provider, message, status, attempt,
	message_id, error_message, next_retry_at, created_at, updated_at`

// DeliveryRepository persists the email delivery log.
type DeliveryRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDeliveryRepository creates a new delivery repository
func NewDeliveryRepository(db *DB, logger *zap.Logger) *DeliveryRepository {
	return &DeliveryRepository{db: db, logger: logger}
}

func scanDelivery(row pgx.Row) (*EmailDelivery, error) {
	var d EmailDelivery
	var notificationID *string
	err := row.Scan(
		&d.ID,
		&d.SupplierID,
		&notificationID,
		&d.OrderID,
		&d.OrderStatus,
		&d.Recipient,
		&d.Provider,
		&d.Message,
		&d.Status,
		&d.Attempt,
		&d.MessageID,
		&d.ErrorMessage,
		&d.NextRetryAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if notificationID != nil {
		d.NotificationID = *notificationID
	}
	return &d, nil
}

func collectDeliveries(rows pgx.Rows) ([]*EmailDelivery, error) {
	defer rows.Close()

	var out []*EmailDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create inserts d, assigning an id when it has none.
func (r *DeliveryRepository) Create(ctx context.Context, d *EmailDelivery) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}

	query := `
		INSERT INTO email_deliveries (
			id, supplier_id, notification_id, order_id, order_status,
			recipient, provider, message, status, attempt,
			message_id, error_message, next_retry_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		d.ID,
		d.SupplierID,
		nullable(d.NotificationID),
		d.OrderID,
		d.OrderStatus,
		d.Recipient,
		d.Provider,
		d.Message,
		d.Status,
		d.Attempt,
		d.MessageID,
		d.ErrorMessage,
		d.NextRetryAt,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to record email delivery",
			zap.Error(err),
			zap.String("order_id", d.OrderID),
		)
		return fmt.Errorf("insert email delivery: %w", err)
	}
	return nil
}

// Get retrieves a delivery by ID
func (r *DeliveryRepository) Get(ctx context.Context, id uuid.UUID) (*EmailDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM email_deliveries WHERE id = $1`

	d, err := scanDelivery(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeliveryNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query email delivery: %w", err)
	}
	return d, nil
}

// GetDue returns failed deliveries whose retry time has come, oldest first.
func (r *DeliveryRepository) GetDue(ctx context.Context, limit int) ([]*EmailDelivery, error) {
	query := `SELECT ` + deliveryColumns + `
		FROM email_deliveries
		WHERE status = 'failed' AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query due deliveries: %w", err)
	}
	return collectDeliveries(rows)
}

// UpdateStatus records the outcome of an attempt.
func (r *DeliveryRepository) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status string,
	attempt int,
	messageID *string,
	errorMsg *string,
	nextRetryAt *time.Time,
) error {
	query := `
		UPDATE email_deliveries
		SET status = $1, attempt = $2, message_id = COALESCE($3, message_id),
		    error_message = $4, next_retry_at = $5, updated_at = NOW()
		WHERE id = $6
	`

	result, err := r.db.Pool().Exec(ctx, query, status, attempt, messageID, errorMsg, nextRetryAt, id)
	if err != nil {
		r.logger.Error("failed to update email delivery",
			zap.Error(err),
			zap.String("delivery_id", id.String()),
		)
		return fmt.Errorf("update email delivery: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDeliveryNotFound, id)
	}
	return nil
}

// MoveToDeadLetter stops retrying a delivery.
func (r *DeliveryRepository) MoveToDeadLetter(ctx context.Context, d *EmailDelivery, lastError string) error {
	query := `
		UPDATE email_deliveries
		SET status = $1, error_message = $2, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $3
	`
	if _, err := r.db.Pool().Exec(ctx, query, StatusDeadLettered, lastError, d.ID); err != nil {
		return fmt.Errorf("dead-letter email delivery: %w", err)
	}

	r.logger.Warn("email delivery dead-lettered",
		zap.String("delivery_id", d.ID.String()),
		zap.String("order_id", d.OrderID),
		zap.Int("attempts", d.Attempt),
		zap.String("last_error", lastError),
	)
	return nil
}

// ListBySupplier returns a supplier's deliveries, newest first, optionally
// restricted to one status.
func (r *DeliveryRepository) ListBySupplier(ctx context.Context, supplierID, status string, limit, offset int) ([]*EmailDelivery, error) {
	query := `SELECT ` + deliveryColumns + `
		FROM email_deliveries
		WHERE supplier_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool().Query(ctx, query, supplierID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query email deliveries: %w", err)
	}
	return collectDeliveries(rows)
}

// Requeue puts a dead-lettered delivery back in the retry queue with a fresh
// attempt budget.
func (r *DeliveryRepository) Requeue(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE email_deliveries
		SET status = $1, attempt = 0, next_retry_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, StatusFailed, id, StatusDeadLettered)
	if err != nil {
		return fmt.Errorf("requeue email delivery: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is not dead-lettered", ErrDeliveryNotFound, id)
	}

	r.logger.Info("email delivery requeued", zap.String("delivery_id", id.String()))
	return nil
}
