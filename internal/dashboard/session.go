// Package dashboard holds the per-connection view state of a supplier
// dashboard. Mutations are sent to the store first and applied locally only
// once the store confirms them, so the view never shows a change the store
// rejected.
package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/notification"
	"github.com/lalithlochan/courier/internal/realtime"
)

// ErrClosed is returned for commands whose result arrived after Close.
var ErrClosed = errors.New("dashboard session closed")

// View is what the dashboard renders.
type View struct {
	Notifications []*notification.Notification `json:"notifications"`
	UnreadCount   int64                        `json:"unreadCount"`
	Filter        notification.Filter          `json:"filter"`
	Sort          notification.SortKey         `json:"sort"`
	Stats         notification.Stats           `json:"stats"`
	Error         string                       `json:"error,omitempty"`
}

// Session is one supplier's dashboard state. It is safe for concurrent use.
type Session struct {
	store      notification.Store
	supplierID string
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	closed bool
	list   []*notification.Notification
	unread int64
	filter notification.Filter
	sort   notification.SortKey
	stats  notification.Stats
	err    string
}

// NewSession creates an empty session. Call Load to populate it.
func NewSession(store notification.Store, supplierID string, logger *zap.Logger) *Session {
	return &Session{
		store:      store,
		supplierID: supplierID,
		logger:     logger.With(zap.String("supplier_id", supplierID)),
		now:        time.Now,
		sort:       notification.SortNewest,
	}
}

// Load fetches the supplier's full partition and recomputes stats.
func (s *Session) Load(ctx context.Context) error {
	list, err := s.store.Query(ctx, s.supplierID, notification.StoreFilter{})
	return s.finish(err, "load", func() {
		s.list = list
		s.unread = int64(notification.UnreadCount(list))
	})
}

// Apply replaces the window covered by a live snapshot. Local notifications
// missing from the snapshot are dropped when they fall inside its window, or
// always when the snapshot is complete; older paged-in ones are kept. The
// unread count comes from the snapshot.
func (s *Session) Apply(snap realtime.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	seen := make(map[string]bool, len(snap.Notifications))
	var oldest *notification.Notification
	for _, n := range snap.Notifications {
		seen[n.ID] = true
		if oldest == nil || sortsAfter(n, oldest) {
			oldest = n
		}
	}

	kept := s.list[:0:0]
	for _, n := range s.list {
		if seen[n.ID] {
			continue
		}
		if snap.Complete || (oldest != nil && !sortsAfter(n, oldest)) {
			continue
		}
		kept = append(kept, n)
	}
	s.list = append(kept, snap.Notifications...)
	s.unread = snap.UnreadCount
	s.recompute()
}

// sortsAfter reports whether a comes after b in store order (createdAt
// descending, id descending).
func sortsAfter(a, b *notification.Notification) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SetFilter replaces the filter, keeping the current search term when f
// has none.
func (s *Session) SetFilter(f notification.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.SearchTerm == "" {
		f.SearchTerm = s.filter.SearchTerm
	}
	s.filter = f
}

// SetSearch sets the search term.
func (s *Session) SetSearch(term string) {
	s.mu.Lock()
	s.filter.SearchTerm = term
	s.mu.Unlock()
}

// SetSort sets the ordering.
func (s *Session) SetSort(key notification.SortKey) {
	s.mu.Lock()
	s.sort = key
	s.mu.Unlock()
}

// ClearError drops the retained error.
func (s *Session) ClearError() {
	s.mu.Lock()
	s.err = ""
	s.mu.Unlock()
}

// Err is the retained error of the last failed command, if any.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// View returns the filtered and sorted list with the current aggregates.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		Notifications: notification.View(s.list, s.filter, s.sort),
		UnreadCount:   s.unread,
		Filter:        s.filter,
		Sort:          s.sort,
		Stats:         s.stats,
		Error:         s.err,
	}
}

// Close discards every later result. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.list = nil
	s.mu.Unlock()
}

func (s *Session) MarkRead(ctx context.Context, id string) error {
	err := s.store.MarkRead(ctx, s.supplierID, id)
	return s.finish(err, "mark read", func() { s.markRead(id) })
}

func (s *Session) MarkManyRead(ctx context.Context, ids []string) error {
	err := s.store.MarkManyRead(ctx, s.supplierID, ids)
	return s.finish(err, "mark many read", func() {
		for _, id := range ids {
			s.markRead(id)
		}
	})
}

func (s *Session) MarkAllRead(ctx context.Context) error {
	_, err := s.store.MarkAllRead(ctx, s.supplierID)
	return s.finish(err, "mark all read", func() {
		for _, n := range s.list {
			s.markRead(n.ID)
		}
		s.unread = 0
	})
}

func (s *Session) Archive(ctx context.Context, id string) error {
	err := s.store.MarkArchived(ctx, s.supplierID, id)
	return s.finish(err, "archive", func() {
		s.update(id, func(n *notification.Notification) {
			if !n.IsArchived {
				at := s.now()
				n.IsArchived, n.ArchivedAt = true, &at
			}
		})
	})
}

func (s *Session) Click(ctx context.Context, id string) error {
	err := s.store.RecordClick(ctx, s.supplierID, id)
	return s.finish(err, "click", func() {
		s.update(id, func(n *notification.Notification) {
			if !n.Clicked {
				at := s.now()
				n.Clicked, n.ClickedAt = true, &at
				n.ActionTaken, n.ActionTakenAt = true, &at
			}
		})
	})
}

func (s *Session) Delete(ctx context.Context, id string) error {
	err := s.store.Delete(ctx, s.supplierID, id)
	return s.finish(err, "delete", func() { s.remove(id) })
}

func (s *Session) DeleteMany(ctx context.Context, ids []string) error {
	err := s.store.DeleteMany(ctx, s.supplierID, ids)
	return s.finish(err, "delete many", func() {
		for _, id := range ids {
			s.remove(id)
		}
	})
}

// finish applies a command's local effect once the store has answered. A
// failure is retained for display and leaves the list untouched.
func (s *Session) finish(err error, op string, apply func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err != nil {
		s.err = err.Error()
		s.logger.Warn("dashboard command failed", zap.String("op", op), zap.Error(err))
		return err
	}
	apply()
	s.err = ""
	s.recompute()
	return nil
}

func (s *Session) recompute() {
	s.stats = notification.ComputeStats(s.list, s.now())
}

// The helpers below run with s.mu held.

func (s *Session) update(id string, fn func(*notification.Notification)) {
	for i, n := range s.list {
		if n.ID == id {
			c := n.Clone()
			fn(c)
			s.list[i] = c
			return
		}
	}
}

func (s *Session) markRead(id string) {
	s.update(id, func(n *notification.Notification) {
		if n.IsRead {
			return
		}
		at := s.now()
		n.IsRead, n.ReadAt = true, &at
		if s.unread > 0 {
			s.unread--
		}
	})
}

func (s *Session) remove(id string) {
	for i, n := range s.list {
		if n.ID == id {
			if !n.IsRead && s.unread > 0 {
				s.unread--
			}
			s.list = append(s.list[:i], s.list[i+1:]...)
			return
		}
	}
}
