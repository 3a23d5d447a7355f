// Package events consumes order lifecycle events from a queue and feeds them
// to the notification pipeline.
package events

import (
	"context"

	"github.com/lalithlochan/courier/internal/pipeline"
)

// Handler processes one raw event body. *pipeline.Pipeline implements it.
type Handler interface {
	HandleMessage(ctx context.Context, source string, body []byte) pipeline.Disposition
}

// Consumer is a blocking queue consumer. Run returns when ctx is done.
type Consumer interface {
	Run(ctx context.Context) error
	Close() error
}
