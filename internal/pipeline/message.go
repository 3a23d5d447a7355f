package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/metrics"
)

// Disposition tells a queue consumer what to do with a message.
type Disposition int

const (
	// Ack removes the message: it was processed, replayed or can never
	// succeed.
	Ack Disposition = iota
	// Retry leaves the message for redelivery.
	Retry
)

func (d Disposition) String() string {
	if d == Retry {
		return "retry"
	}
	return "ack"
}

// DecodeEvent parses a queue message body.
func DecodeEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return ev, ev.Validate()
}

// HandleMessage decodes and processes one queue message from source.
// Malformed events are acknowledged so they do not loop forever.
func (p *Pipeline) HandleMessage(ctx context.Context, source string, body []byte) Disposition {
	ev, err := DecodeEvent(body)
	if err != nil {
		metrics.RecordEventConsumed(source, "invalid")
		p.logger.Error("discarding invalid event", zap.String("source", source), zap.Error(err))
		return Ack
	}

	res, err := p.Process(ctx, source, ev)
	switch {
	case errors.Is(err, ErrInvalidEvent):
		metrics.RecordEventConsumed(source, "invalid")
		p.logger.Error("discarding invalid event", zap.String("source", source), zap.String("event_id", ev.ID), zap.Error(err))
		return Ack
	case err != nil:
		metrics.RecordEventConsumed(source, "retry")
		p.logger.Warn("event processing failed, will retry",
			zap.String("source", source),
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
		return Retry
	case res.Replayed:
		metrics.RecordEventConsumed(source, "replayed")
	case res.Dropped:
		metrics.RecordEventConsumed(source, "dropped")
	default:
		metrics.RecordEventConsumed(source, "processed")
	}
	return Ack
}
