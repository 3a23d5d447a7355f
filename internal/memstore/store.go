// Package memstore is an in-process notification.Store used when no
// document database is configured and as the reference implementation in
// tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/courier/internal/notification"
)

// Store keeps notifications in a map guarded by a single mutex. Batched
// mutations are validated and applied under the same lock, so they are
// atomic.
type Store struct {
	mu    sync.RWMutex
	items map[string]*notification.Notification
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for createdAt and transition
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		items: make(map[string]*notification.Notification),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ notification.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, n *notification.Notification) (string, error) {
	if err := notification.CheckNew(n); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := n.Clone()
	rec.ID = uuid.NewString()
	rec.CreatedAt = s.now()
	if rec.Priority == "" {
		rec.Priority = notification.PriorityLow
	}
	s.items[rec.ID] = rec

	n.ID = rec.ID
	n.CreatedAt = rec.CreatedAt
	return rec.ID, nil
}

func (s *Store) Get(ctx context.Context, recipientID, id string) (*notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.owned(recipientID, id)
	if !ok {
		return nil, notification.ErrNotFound
	}
	return n.Clone(), nil
}

func (s *Store) ListByRecipient(ctx context.Context, recipientID string, limit int, cursor *notification.Cursor) (notification.Page, error) {
	s.mu.RLock()
	all := s.partition(recipientID, func(n *notification.Notification) bool { return cursor.Before(n) })
	s.mu.RUnlock()

	notification.SortBy(all, notification.SortNewest)

	var page notification.Page
	if limit > 0 && len(all) > limit {
		page.Items = all[:limit]
		page.Next = notification.CursorAfter(all[limit-1])
	} else {
		page.Items = all
	}
	return page, nil
}

func (s *Store) Query(ctx context.Context, recipientID string, f notification.StoreFilter) ([]*notification.Notification, error) {
	s.mu.RLock()
	out := s.partition(recipientID, f.Match)
	s.mu.RUnlock()

	notification.SortBy(out, notification.SortNewest)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) Search(ctx context.Context, recipientID, term string, t notification.Type) ([]*notification.Notification, error) {
	s.mu.RLock()
	out := s.partition(recipientID, func(n *notification.Notification) bool {
		return (t == "" || n.Type == t) && notification.MatchesSearch(n, term)
	})
	s.mu.RUnlock()

	notification.SortBy(out, notification.SortNewest)
	return out, nil
}

func (s *Store) MarkRead(ctx context.Context, recipientID, id string) error {
	return s.transition(recipientID, id, func(n *notification.Notification, at time.Time) {
		if !n.IsRead {
			n.IsRead, n.ReadAt = true, &at
		}
	})
}

func (s *Store) MarkManyRead(ctx context.Context, recipientID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets, err := s.batch(recipientID, ids)
	if err != nil {
		return err
	}
	at := s.now()
	for _, n := range targets {
		if !n.IsRead {
			n.IsRead, n.ReadAt = true, timePtr(at)
		}
	}
	return nil
}

func (s *Store) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	var changed int64
	for _, n := range s.items {
		if n.FournisseurID == recipientID && !n.IsRead {
			n.IsRead, n.ReadAt = true, timePtr(at)
			changed++
		}
	}
	return changed, nil
}

func (s *Store) MarkArchived(ctx context.Context, recipientID, id string) error {
	return s.transition(recipientID, id, func(n *notification.Notification, at time.Time) {
		if !n.IsArchived {
			n.IsArchived, n.ArchivedAt = true, &at
		}
	})
}

func (s *Store) RecordClick(ctx context.Context, recipientID, id string) error {
	return s.transition(recipientID, id, func(n *notification.Notification, at time.Time) {
		if !n.Clicked {
			n.Clicked, n.ClickedAt = true, &at
		}
		if !n.ActionTaken {
			n.ActionTaken, n.ActionTakenAt = true, &at
		}
	})
}

func (s *Store) RecordEmailSent(ctx context.Context, recipientID, id string) error {
	return s.transition(recipientID, id, func(n *notification.Notification, at time.Time) {
		if !n.EmailSent {
			n.EmailSent, n.EmailSentAt = true, &at
		}
	})
}

func (s *Store) RecordSMSSent(ctx context.Context, recipientID, id string) error {
	return s.transition(recipientID, id, func(n *notification.Notification, at time.Time) {
		if !n.SMSSent {
			n.SMSSent, n.SMSSentAt = true, &at
		}
	})
}

func (s *Store) Delete(ctx context.Context, recipientID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.owned(recipientID, id); !ok {
		return notification.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, recipientID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets, err := s.batch(recipientID, ids)
	if err != nil {
		return err
	}
	for _, n := range targets {
		delete(s.items, n.ID)
	}
	return nil
}

func (s *Store) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, n := range s.items {
		if n.FournisseurID == recipientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteWhere(func(n *notification.Notification) bool {
		return n.CreatedAt.Before(cutoff)
	}), nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.deleteWhere(func(n *notification.Notification) bool {
		return n.Expired(now)
	}), nil
}

// Len returns the number of stored notifications across all suppliers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) owned(recipientID, id string) (*notification.Notification, bool) {
	n, ok := s.items[id]
	if !ok || n.FournisseurID != recipientID {
		return nil, false
	}
	return n, true
}

// partition returns clones of the recipient's notifications that pass keep.
// Callers hold at least the read lock.
func (s *Store) partition(recipientID string, keep func(*notification.Notification) bool) []*notification.Notification {
	out := make([]*notification.Notification, 0)
	for _, n := range s.items {
		if n.FournisseurID == recipientID && keep(n) {
			out = append(out, n.Clone())
		}
	}
	return out
}

// batch resolves every id or none. Callers hold the write lock.
func (s *Store) batch(recipientID string, ids []string) ([]*notification.Notification, error) {
	ids = notification.UniqueIDs(ids)
	out := make([]*notification.Notification, 0, len(ids))
	for _, id := range ids {
		n, ok := s.owned(recipientID, id)
		if !ok {
			return nil, notification.ErrPartialBatch
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Store) transition(recipientID, id string, apply func(*notification.Notification, time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.owned(recipientID, id)
	if !ok {
		return notification.ErrNotFound
	}
	apply(n, s.now())
	return nil
}

func (s *Store) deleteWhere(match func(*notification.Notification) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, n := range s.items {
		if match(n) {
			delete(s.items, id)
			removed++
		}
	}
	return removed
}

func timePtr(t time.Time) *time.Time { return &t }
