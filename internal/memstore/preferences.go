package memstore

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/lalithlochan/courier/internal/notification"
)

// Preferences keeps supplier preferences in memory. Get creates defaults on
// first access, like the Postgres repository.
type Preferences struct {
	mu    sync.Mutex
	items map[string]*notification.Preferences
	now   func() time.Time
}

func NewPreferences() *Preferences {
	return &Preferences{
		items: make(map[string]*notification.Preferences),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (p *Preferences) Get(_ context.Context, supplierID string) (*notification.Preferences, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.items[supplierID]
	if !ok {
		cur = notification.DefaultPreferences(supplierID)
		cur.CreatedAt = p.now()
		cur.UpdatedAt = cur.CreatedAt
		p.items[supplierID] = cur
	}
	return clonePreferences(cur), nil
}

func (p *Preferences) Update(_ context.Context, prefs *notification.Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	prefs.CreatedAt = now
	if cur, ok := p.items[prefs.SupplierID]; ok {
		prefs.CreatedAt = cur.CreatedAt
	}
	prefs.UpdatedAt = now
	p.items[prefs.SupplierID] = clonePreferences(prefs)
	return nil
}

func clonePreferences(p *notification.Preferences) *notification.Preferences {
	c := *p
	c.Toggles = maps.Clone(p.Toggles)
	return &c
}
