package push

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/sns"
)

// Pusher delivers to one mobile endpoint.
type Pusher interface {
	PushEnabled() bool
	Push(ctx context.Context, endpointARN string, msg sns.PushMessage) (string, error)
}

// EndpointStore lists the mobile endpoints registered for a supplier.
type EndpointStore interface {
	Endpoints(ctx context.Context, supplierID string) ([]string, error)
}

// Mobile shows displays as SNS mobile push on every registered endpoint.
type Mobile struct {
	pusher    Pusher
	endpoints EndpointStore
	logger    *zap.Logger
}

// NewMobile creates a mobile notifier.
func NewMobile(pusher Pusher, endpoints EndpointStore, logger *zap.Logger) *Mobile {
	return &Mobile{pusher: pusher, endpoints: endpoints, logger: logger}
}

// Permission is granted once push is configured and the supplier registered
// at least one device.
func (m *Mobile) Permission(ctx context.Context, supplierID string) Permission {
	if !m.pusher.PushEnabled() {
		return PermissionDenied
	}
	arns, err := m.endpoints.Endpoints(ctx, supplierID)
	if err != nil {
		m.logger.Warn("failed to list push endpoints", zap.String("supplier_id", supplierID), zap.Error(err))
		return PermissionDenied
	}
	if len(arns) == 0 {
		return PermissionDefault
	}
	return PermissionGranted
}

func (m *Mobile) Show(ctx context.Context, supplierID string, d Display) error {
	arns, err := m.endpoints.Endpoints(ctx, supplierID)
	if err != nil {
		return fmt.Errorf("list push endpoints: %w", err)
	}
	if len(arns) == 0 {
		return ErrNoAudience
	}

	msg := sns.PushMessage{Title: d.Title, Body: d.Body, NotificationID: d.NotificationID, Target: d.Target}
	var errs []error
	for _, arn := range arns {
		if _, err := m.pusher.Push(ctx, arn, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(arns) {
		return errors.Join(errs...)
	}
	if len(errs) > 0 {
		m.logger.Warn("push failed for some endpoints",
			zap.String("supplier_id", supplierID),
			zap.Int("failed", len(errs)),
			zap.Error(errors.Join(errs...)),
		)
	}
	return nil
}
