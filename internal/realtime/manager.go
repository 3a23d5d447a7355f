// Package realtime keeps live views of a supplier's notifications. Every
// upstream change signal triggers a re-fetch of the newest window and the
// unread count; subscribers always receive full snapshots, never diffs.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/metrics"
	"github.com/lalithlochan/courier/internal/notification"
)

// ErrClosed is returned when subscribing on a stopped manager.
var ErrClosed = errors.New("realtime: manager closed")

// Change is one signal from a ChangeSource. A non-nil Err means the feed
// failed and no further signals follow.
type Change struct {
	Err error
}

// ChangeSource delivers change signals for one supplier until ctx is done,
// then closes the channel.
type ChangeSource interface {
	Watch(ctx context.Context, recipientID string) (<-chan Change, error)
}

// Reader is the part of the store a live view needs.
type Reader interface {
	ListByRecipient(ctx context.Context, recipientID string, limit int, cursor *notification.Cursor) (notification.Page, error)
	CountUnread(ctx context.Context, recipientID string) (int64, error)
}

// Snapshot is the full live view delivered on every change.
type Snapshot struct {
	Notifications []*notification.Notification `json:"notifications"`
	UnreadCount   int64                        `json:"unreadCount"`
	// Complete is set when Notifications holds the whole partition rather
	// than only the newest window.
	Complete bool `json:"complete"`
}

// State is the lifecycle of one subscription.
type State int

const (
	StateIdle State = iota
	StateSubscribed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribed:
		return "subscribed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Manager opens subscriptions against a store and a change source.
type Manager struct {
	reader Reader
	source ChangeSource
	window int
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewManager creates a manager streaming at most window notifications per
// snapshot. A non-positive window uses notification.DefaultLiveWindow.
func NewManager(reader Reader, source ChangeSource, window int, logger *zap.Logger) *Manager {
	if window <= 0 {
		window = notification.DefaultLiveWindow
	}
	return &Manager{
		reader: reader,
		source: source,
		window: window,
		logger: logger,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Option configures a subscription.
type Option func(*Subscription)

// OnError registers a handler called once when the subscription enters the
// error state. No resubscription is attempted.
func OnError(fn func(error)) Option {
	return func(s *Subscription) { s.onError = fn }
}

// Subscribe delivers an initial snapshot and then one snapshot per change
// until the subscription is cancelled, ctx is done or the feed fails.
// Callbacks for one subscription never run concurrently.
func (m *Manager) Subscribe(ctx context.Context, recipientID string, onUpdate func(Snapshot), opts ...Option) (*Subscription, error) {
	return m.start(ctx, recipientID, func(ctx context.Context) (func(), error) {
		page, err := m.reader.ListByRecipient(ctx, recipientID, m.window, nil)
		if err != nil {
			return nil, err
		}
		count, err := m.reader.CountUnread(ctx, recipientID)
		if err != nil {
			return nil, err
		}
		snap := Snapshot{Notifications: page.Items, UnreadCount: count, Complete: page.Next == nil}
		return func() { onUpdate(snap) }, nil
	}, opts)
}

// SubscribeUnreadCount is Subscribe restricted to the unread count.
func (m *Manager) SubscribeUnreadCount(ctx context.Context, recipientID string, onCount func(int64), opts ...Option) (*Subscription, error) {
	return m.start(ctx, recipientID, func(ctx context.Context) (func(), error) {
		count, err := m.reader.CountUnread(ctx, recipientID)
		if err != nil {
			return nil, err
		}
		return func() { onCount(count) }, nil
	}, opts)
}

// fetchFunc loads fresh state and returns the callback invocation for it.
type fetchFunc func(ctx context.Context) (func(), error)

func (m *Manager) start(ctx context.Context, recipientID string, fetch fetchFunc, opts []Option) (*Subscription, error) {
	if recipientID == "" {
		return nil, fmt.Errorf("realtime: empty recipient id")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	changes, err := m.source.Watch(subCtx, recipientID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", recipientID, err)
	}

	sub := &Subscription{
		recipientID: recipientID,
		cancel:      cancel,
		state:       StateSubscribed,
		done:        make(chan struct{}),
		manager:     m,
	}
	for _, opt := range opts {
		opt(sub)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	m.subs[sub] = struct{}{}
	m.mu.Unlock()
	metrics.IncLiveSubscriptions()

	go sub.run(subCtx, changes, fetch, m.logger)
	return sub, nil
}

func (m *Manager) forget(sub *Subscription) {
	m.mu.Lock()
	_, ok := m.subs[sub]
	delete(m.subs, sub)
	m.mu.Unlock()
	if ok {
		metrics.DecLiveSubscriptions()
	}
}

// Close cancels every open subscription and rejects new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	subs := make([]*Subscription, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

// Subscription is a handle on one live view.
type Subscription struct {
	recipientID string
	cancel      context.CancelFunc
	onError     func(error)
	manager     *Manager
	done        chan struct{}

	// mu serializes callback delivery with Unsubscribe.
	mu      sync.Mutex
	state   State
	stopped bool
	err     error
}

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that moved the subscription to StateError.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the delivery goroutine exits.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe stops delivery. It is idempotent, and once it returns no
// callback will run again. It waits for a callback already in progress, so
// it must not be called from inside one.
func (s *Subscription) Unsubscribe() {
	s.cancel()

	s.mu.Lock()
	wasStopped := s.stopped
	s.stopped = true
	s.state = StateIdle
	s.mu.Unlock()

	if !wasStopped {
		s.manager.forget(s)
	}
}

func (s *Subscription) run(ctx context.Context, changes <-chan Change, fetch fetchFunc, logger *zap.Logger) {
	defer close(s.done)

	if !s.refresh(ctx, fetch, logger) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			s.finish()
			return
		case ch, ok := <-changes:
			if !ok {
				s.finish()
				return
			}
			if ch.Err != nil {
				s.fail(ch.Err, logger)
				return
			}
			// Coalesce a burst of signals into one refresh.
			open, err := drain(changes)
			if err != nil {
				s.fail(err, logger)
				return
			}
			if !open {
				s.finish()
				return
			}
			if !s.refresh(ctx, fetch, logger) {
				return
			}
		}
	}
}

func (s *Subscription) refresh(ctx context.Context, fetch fetchFunc, logger *zap.Logger) bool {
	deliver, err := fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.finish()
			return false
		}
		s.fail(err, logger)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	deliver()
	return true
}

// finish moves to idle when the context ends without Unsubscribe.
func (s *Subscription) finish() {
	s.mu.Lock()
	wasStopped := s.stopped
	s.stopped = true
	s.state = StateIdle
	s.mu.Unlock()

	if !wasStopped {
		s.manager.forget(s)
	}
}

func (s *Subscription) fail(err error, logger *zap.Logger) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.state = StateError
	s.err = err
	onError := s.onError
	s.mu.Unlock()

	s.cancel()
	s.manager.forget(s)

	logger.Warn("live subscription failed",
		zap.String("supplier_id", s.recipientID),
		zap.Error(err),
	)
	if onError != nil {
		onError(err)
	}
}

// drain consumes queued signals without blocking. It reports whether the
// channel is still open and the first feed error it saw.
func drain(changes <-chan Change) (bool, error) {
	for {
		select {
		case ch, ok := <-changes:
			if !ok {
				return false, nil
			}
			if ch.Err != nil {
				return true, ch.Err
			}
		default:
			return true, nil
		}
	}
}
