package redis

import (
	"context"
	"fmt"
	"time"
)

// DisplayDedupTTL outlives the delivery bridge's "newly arrived" window with
// room for reconnects.
const DisplayDedupTTL = 10 * time.Minute

// DisplayDedup remembers which notifications were already shown to a
// supplier, across gateway instances.
type DisplayDedup struct {
	client *Client
	ttl    time.Duration
}

// NewDisplayDedup creates a dedup set with the given TTL (DisplayDedupTTL
// when zero).
func NewDisplayDedup(client *Client, ttl time.Duration) *DisplayDedup {
	if ttl <= 0 {
		ttl = DisplayDedupTTL
	}
	return &DisplayDedup{client: client, ttl: ttl}
}

// FirstSeen records notificationID for supplierID and reports whether this
// is the first time it was seen.
func (d *DisplayDedup) FirstSeen(ctx context.Context, supplierID, notificationID string) (bool, error) {
	key := fmt.Sprintf("shown:%s:%s", supplierID, notificationID)
	set, err := d.client.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return set, nil
}
