package realtime

import (
	"context"
	"sync"
)

// LocalBus is an in-process ChangeSource and notification.Publisher for a
// single gateway instance. Signals are coalesced per watcher: a slow
// watcher sees at most one pending change.
type LocalBus struct {
	mu       sync.Mutex
	watchers map[string]map[chan Change]struct{}
}

// NewLocalBus creates an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{watchers: make(map[string]map[chan Change]struct{})}
}

// Publish signals every watcher of recipientID.
func (b *LocalBus) Publish(_ context.Context, recipientID string) error {
	b.broadcast(recipientID, Change{})
	return nil
}

// Fail pushes a feed failure to every watcher of recipientID.
func (b *LocalBus) Fail(recipientID string, err error) {
	b.broadcast(recipientID, Change{Err: err})
}

func (b *LocalBus) broadcast(recipientID string, ch Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for w := range b.watchers[recipientID] {
		select {
		case w <- ch:
		default:
			if ch.Err != nil {
				// Replace the pending plain signal with the failure.
				select {
				case <-w:
				default:
				}
				select {
				case w <- ch:
				default:
				}
			}
		}
	}
}

// Watch registers a watcher until ctx is done.
func (b *LocalBus) Watch(ctx context.Context, recipientID string) (<-chan Change, error) {
	w := make(chan Change, 1)

	b.mu.Lock()
	set, ok := b.watchers[recipientID]
	if !ok {
		set = make(map[chan Change]struct{})
		b.watchers[recipientID] = set
	}
	set[w] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if set, ok := b.watchers[recipientID]; ok {
			delete(set, w)
			if len(set) == 0 {
				delete(b.watchers, recipientID)
			}
		}
		close(w)
		b.mu.Unlock()
	}()
	return w, nil
}

// Watchers returns the number of active watchers for recipientID.
func (b *LocalBus) Watchers(recipientID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers[recipientID])
}
