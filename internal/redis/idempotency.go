package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// EventTTL is how long a processed event id is remembered. Queues
	// redeliver within minutes; a day covers manual replays.
	EventTTL = 24 * time.Hour

	// processingTTL bounds the lock held while an event is being handled,
	// so a crashed consumer does not block redelivery forever.
	processingTTL = 5 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest means the event is being processed by another consumer.
var ErrDuplicateRequest = errors.New("duplicate event: already being processed")

// EventResult is what a processed order event produced.
type EventResult struct {
	NotificationID string `json:"notification_id,omitempty"`
	// Dropped is set when the event was valid but produced no notification.
	Dropped     bool  `json:"dropped,omitempty"`
	ProcessedAt int64 `json:"processed_at"`
}

// EventGuard makes order event ingest idempotent per event id.
type EventGuard struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewEventGuard creates a guard remembering results for ttl (EventTTL when
// zero).
func NewEventGuard(client *Client, logger *zap.Logger, ttl time.Duration) *EventGuard {
	if ttl <= 0 {
		ttl = EventTTL
	}
	return &EventGuard{client: client, logger: logger, ttl: ttl}
}

func (g *EventGuard) buildKey(source, eventID string) string {
	return fmt.Sprintf("event:%s:%s", source, eventID)
}

// Check returns (nil, nil) for an unseen event, the stored result for a
// processed one, or ErrDuplicateRequest while it is in progress.
func (g *EventGuard) Check(ctx context.Context, source, eventID string) (*EventResult, error) {
	val, err := g.client.rdb.Get(ctx, g.buildKey(source, eventID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	if val == processingMarker {
		return nil, ErrDuplicateRequest
	}

	var result EventResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		g.logger.Error("failed to unmarshal event result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}
	return &result, nil
}

// Reserve takes the processing lock with SET NX.
func (g *EventGuard) Reserve(ctx context.Context, source, eventID string) (bool, error) {
	set, err := g.client.rdb.SetNX(ctx, g.buildKey(source, eventID), processingMarker, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return set, nil
}

// CheckOrReserve returns a stored result, reserves the event, or fails with
// ErrDuplicateRequest.
func (g *EventGuard) CheckOrReserve(ctx context.Context, source, eventID string) (*EventResult, error) {
	result, err := g.Check(ctx, source, eventID)
	if err != nil || result != nil {
		return result, err
	}

	reserved, err := g.Reserve(ctx, source, eventID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, ErrDuplicateRequest
	}
	return nil, nil
}

// Complete replaces the processing lock with the final result.
func (g *EventGuard) Complete(ctx context.Context, source, eventID string, result *EventResult) error {
	if result.ProcessedAt == 0 {
		result.ProcessedAt = time.Now().Unix()
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := g.client.rdb.Set(ctx, g.buildKey(source, eventID), data, g.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Release drops the processing lock after a failure so a redelivery is
// handled again.
func (g *EventGuard) Release(ctx context.Context, source, eventID string) error {
	if err := g.client.rdb.Del(ctx, g.buildKey(source, eventID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
