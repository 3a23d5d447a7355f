package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/notification"
)

// PreferencesRepository stores one preferences row per supplier. Toggles and
// quiet hours are JSONB columns.
type PreferencesRepository struct {
	db     *DB
	logger *zap.Logger
}

func NewPreferencesRepository(db *DB, logger *zap.Logger) *PreferencesRepository {
	return &PreferencesRepository{db: db, logger: logger}
}

func (r *PreferencesRepository) find(ctx context.Context, supplierID string) (*notification.Preferences, error) {
	query := `
		SELECT supplier_id, toggles, quiet_hours, digest_frequency,
		       contact_email, contact_phone, created_at, updated_at
		FROM notification_preferences
		WHERE supplier_id = $1
	`

	var p notification.Preferences
	var toggles, quiet []byte
	err := r.db.Pool().QueryRow(ctx, query, supplierID).Scan(
		&p.SupplierID,
		&toggles,
		&quiet,
		&p.DigestFrequency,
		&p.ContactEmail,
		&p.ContactPhone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodePreferences(&p, toggles, quiet); err != nil {
		return nil, err
	}
	return &p, nil
}

// Get returns the supplier's preferences, creating the default row on first
// access.
func (r *PreferencesRepository) Get(ctx context.Context, supplierID string) (*notification.Preferences, error) {
	p, err := r.find(ctx, supplierID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("query preferences: %w", err)
	}

	defaults := notification.DefaultPreferences(supplierID)
	toggles, quiet, err := encodePreferences(defaults)
	if err != nil {
		return nil, err
	}

	insert := `
		INSERT INTO notification_preferences (
			supplier_id, toggles, quiet_hours, digest_frequency, contact_email, contact_phone
		) VALUES ($1, $2, $3, $4, '', '')
		ON CONFLICT (supplier_id) DO NOTHING
	`
	if _, err := r.db.Pool().Exec(ctx, insert, supplierID, toggles, quiet, defaults.DigestFrequency); err != nil {
		return nil, fmt.Errorf("create default preferences: %w", err)
	}
	r.logger.Debug("default preferences created", zap.String("supplier_id", supplierID))

	p, err = r.find(ctx, supplierID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	return p, nil
}

// Update validates p and writes it in place.
func (r *PreferencesRepository) Update(ctx context.Context, p *notification.Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	toggles, quiet, err := encodePreferences(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notification_preferences (
			supplier_id, toggles, quiet_hours, digest_frequency, contact_email, contact_phone
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (supplier_id) DO UPDATE SET
			toggles = EXCLUDED.toggles,
			quiet_hours = EXCLUDED.quiet_hours,
			digest_frequency = EXCLUDED.digest_frequency,
			contact_email = EXCLUDED.contact_email,
			contact_phone = EXCLUDED.contact_phone,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err = r.db.Pool().QueryRow(ctx, query,
		p.SupplierID, toggles, quiet, p.DigestFrequency, p.ContactEmail, p.ContactPhone,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to update preferences",
			zap.Error(err),
			zap.String("supplier_id", p.SupplierID),
		)
		return fmt.Errorf("update preferences: %w", err)
	}
	return nil
}

func encodePreferences(p *notification.Preferences) (toggles, quiet []byte, err error) {
	if toggles, err = json.Marshal(p.Toggles); err != nil {
		return nil, nil, fmt.Errorf("marshal toggles: %w", err)
	}
	if quiet, err = json.Marshal(p.QuietHours); err != nil {
		return nil, nil, fmt.Errorf("marshal quiet hours: %w", err)
	}
	return toggles, quiet, nil
}

func decodePreferences(p *notification.Preferences, toggles, quiet []byte) error {
	if err := json.Unmarshal(toggles, &p.Toggles); err != nil {
		return fmt.Errorf("unmarshal toggles: %w", err)
	}
	if err := json.Unmarshal(quiet, &p.QuietHours); err != nil {
		return fmt.Errorf("unmarshal quiet hours: %w", err)
	}
	return nil
}
