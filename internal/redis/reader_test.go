package redis

import (
	"context"
	"sync/atomic"

	"github.com/lalithlochan/courier/internal/notification"
)

// countingReader serves a fixed unread count and an empty list.
type countingReader struct {
	count atomic.Int64
}

func (r *countingReader) set(n int64) { r.count.Store(n) }

func (r *countingReader) ListByRecipient(context.Context, string, int, *notification.Cursor) (notification.Page, error) {
	return notification.Page{}, nil
}

func (r *countingReader) CountUnread(context.Context, string) (int64, error) {
	return r.count.Load(), nil
}
