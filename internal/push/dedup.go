package push

import (
	"context"
	"sync"
	"time"
)

// Deduper records which notifications were already displayed.
type Deduper interface {
	FirstSeen(ctx context.Context, supplierID, notificationID string) (bool, error)
}

// MemoryDedup is a process-local Deduper with expiring entries.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryDedup remembers ids for ttl.
func NewMemoryDedup(ttl time.Duration) *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (d *MemoryDedup) FirstSeen(_ context.Context, supplierID, notificationID string) (bool, error) {
	now := d.now()
	key := supplierID + "/" + notificationID

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = now.Add(d.ttl)
	return true, nil
}
