package redis

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/realtime"
)

// ErrFeedClosed is delivered to watchers when the pub/sub connection goes
// away while they are still subscribed.
var ErrFeedClosed = errors.New("redis change feed closed")

// ChangeBus fans notification change signals out to every gateway instance
// over Redis pub/sub. It implements notification.Publisher and
// realtime.ChangeSource.
type ChangeBus struct {
	client *Client
	logger *zap.Logger
}

// NewChangeBus creates a bus on client.
func NewChangeBus(client *Client, logger *zap.Logger) *ChangeBus {
	return &ChangeBus{client: client, logger: logger}
}

func changeChannel(recipientID string) string {
	return "notifications:" + recipientID
}

// Publish announces that recipientID's notifications changed.
func (b *ChangeBus) Publish(ctx context.Context, recipientID string) error {
	if err := b.client.rdb.Publish(ctx, changeChannel(recipientID), "changed").Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Watch subscribes to recipientID's channel until ctx is done. The
// subscription is confirmed before Watch returns, so a Publish issued after
// it is never missed. A transport error ends the watch with ErrFeedClosed;
// the caller decides whether to subscribe again.
func (b *ChangeBus) Watch(ctx context.Context, recipientID string) (<-chan realtime.Change, error) {
	pubsub := b.client.rdb.Subscribe(ctx, changeChannel(recipientID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	out := make(chan realtime.Change, 1)

	// ReceiveMessage only honors deadlines, so cancellation closes the
	// connection to unblock it.
	stop := context.AfterFunc(ctx, func() { _ = pubsub.Close() })

	go func() {
		defer close(out)
		defer stop()

		for {
			if _, err := pubsub.ReceiveMessage(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				_ = pubsub.Close()
				b.logger.Warn("change feed closed",
					zap.String("supplier_id", recipientID),
					zap.Error(err),
				)
				select {
				case out <- realtime.Change{Err: fmt.Errorf("%w: %v", ErrFeedClosed, err)}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- realtime.Change{}:
			default:
				// A refresh is already pending.
			}
		}
	}()

	return out, nil
}
