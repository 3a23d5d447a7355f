package notification

import (
	"context"

	"go.uber.org/zap"
)

// ObservedStore wraps a Store and publishes a change signal for the
// recipient after every committed mutation. Reads pass straight through.
// A failed publish is logged and never fails the mutation. Retention
// deletes span every supplier and are not published; live views pick them
// up on their next refresh.
type ObservedStore struct {
	Store
	publisher Publisher
	logger    *zap.Logger
}

// NewObservedStore decorates store with change publishing.
func NewObservedStore(store Store, publisher Publisher, logger *zap.Logger) *ObservedStore {
	return &ObservedStore{Store: store, publisher: publisher, logger: logger}
}

func (s *ObservedStore) publish(ctx context.Context, recipientID string) {
	if s.publisher == nil || recipientID == "" {
		return
	}
	if err := s.publisher.Publish(ctx, recipientID); err != nil {
		s.logger.Warn("failed to publish notification change",
			zap.String("supplier_id", recipientID),
			zap.Error(err),
		)
	}
}

func (s *ObservedStore) Create(ctx context.Context, n *Notification) (string, error) {
	id, err := s.Store.Create(ctx, n)
	if err == nil {
		s.publish(ctx, n.FournisseurID)
	}
	return id, err
}

func (s *ObservedStore) MarkRead(ctx context.Context, recipientID, id string) error {
	return s.after(ctx, recipientID, s.Store.MarkRead(ctx, recipientID, id))
}

func (s *ObservedStore) MarkManyRead(ctx context.Context, recipientID string, ids []string) error {
	return s.after(ctx, recipientID, s.Store.MarkManyRead(ctx, recipientID, ids))
}

func (s *ObservedStore) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	n, err := s.Store.MarkAllRead(ctx, recipientID)
	if err == nil && n > 0 {
		s.publish(ctx, recipientID)
	}
	return n, err
}

func (s *ObservedStore) MarkArchived(ctx context.Context, recipientID, id string) error {
	return s.after(ctx, recipientID, s.Store.MarkArchived(ctx, recipientID, id))
}

func (s *ObservedStore) RecordClick(ctx context.Context, recipientID, id string) error {
	return s.after(ctx, recipientID, s.Store.RecordClick(ctx, recipientID, id))
}

func (s *ObservedStore) RecordEmailSent(ctx context.Context, recipientID, id string) error {
	return s.after(ctx, recipientID, s.Store.RecordEmailSent(ctx, recipientID, id))
}

func (s *ObservedStore) RecordSMSSent(ctx context.Context, recipientID, id string) error {
	return s.after(ctx, recipientID, s.Store.RecordSMSSent(ctx, recipientID, id))
}

func (s *ObservedStore) Delete(ctx context.Context, recipientID, id string) error {
	return s.after(ctx, recipientID, s.Store.Delete(ctx, recipientID, id))
}

func (s *ObservedStore) DeleteMany(ctx context.Context, recipientID string, ids []string) error {
	return s.after(ctx, recipientID, s.Store.DeleteMany(ctx, recipientID, ids))
}

func (s *ObservedStore) after(ctx context.Context, recipientID string, err error) error {
	if err == nil {
		s.publish(ctx, recipientID)
	}
	return err
}
