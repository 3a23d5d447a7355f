package notification

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a notification does not exist for the
	// given supplier.
	ErrNotFound = errors.New("notification not found")

	// ErrStoreUnavailable wraps every transport or database failure.
	ErrStoreUnavailable = errors.New("notification store unavailable")

	// ErrPartialBatch is returned when a batched mutation names ids that
	// are missing or owned by another supplier. Nothing is applied.
	ErrPartialBatch = errors.New("batch references unknown notifications")

	// ErrInvalidCursor is returned for a cursor that cannot be decoded.
	ErrInvalidCursor = errors.New("invalid pagination cursor")

	// ErrInvalidNotification is returned by Create for a record without a
	// recipient, with an unknown type or with a mismatched payload.
	ErrInvalidNotification = errors.New("invalid notification")
)

// DefaultLiveWindow caps how many notifications a live subscription streams.
const DefaultLiveWindow = 50

// Store is the notification persistence contract. Every operation is
// scoped by the recipient (supplier) id. Implementations do not retry.
type Store interface {
	// Create assigns ID and CreatedAt and persists n.
	Create(ctx context.Context, n *Notification) (string, error)
	Get(ctx context.Context, recipientID, id string) (*Notification, error)

	// ListByRecipient returns one page, newest first, ties broken by id
	// descending.
	ListByRecipient(ctx context.Context, recipientID string, limit int, cursor *Cursor) (Page, error)
	Query(ctx context.Context, recipientID string, f StoreFilter) ([]*Notification, error)

	// Search scans the recipient's whole partition and keeps case-insensitive
	// title/message substring matches, optionally restricted to one type.
	Search(ctx context.Context, recipientID, term string, t Type) ([]*Notification, error)

	MarkRead(ctx context.Context, recipientID, id string) error
	// MarkManyRead applies to all ids or to none.
	MarkManyRead(ctx context.Context, recipientID string, ids []string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	MarkArchived(ctx context.Context, recipientID, id string) error
	RecordClick(ctx context.Context, recipientID, id string) error
	RecordEmailSent(ctx context.Context, recipientID, id string) error
	RecordSMSSent(ctx context.Context, recipientID, id string) error

	Delete(ctx context.Context, recipientID, id string) error
	// DeleteMany applies to all ids or to none.
	DeleteMany(ctx context.Context, recipientID string, ids []string) error
	CountUnread(ctx context.Context, recipientID string) (int64, error)

	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// StoreFilter is the subset of filters the document store evaluates
// server-side: equality on type/read/archived and a createdAt range.
type StoreFilter struct {
	Type       Type
	IsRead     *bool
	IsArchived *bool
	From       *time.Time
	To         *time.Time
	Limit      int
}

// Match evaluates the filter in memory.
func (f StoreFilter) Match(n *Notification) bool {
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if f.IsRead != nil && n.IsRead != *f.IsRead {
		return false
	}
	if f.IsArchived != nil && n.IsArchived != *f.IsArchived {
		return false
	}
	if f.From != nil && n.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && n.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// Page is one slice of a recipient's notifications.
type Page struct {
	Items []*Notification `json:"items"`
	Next  *Cursor         `json:"-"`
}

// Cursor points just past the last item of a page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAfter builds the cursor following n.
func CursorAfter(n *Notification) *Cursor {
	return &Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
}

// Before reports whether n sorts strictly after the cursor position in
// newest-first order.
func (c *Cursor) Before(n *Notification) bool {
	if c == nil {
		return true
	}
	if n.CreatedAt.Equal(c.CreatedAt) {
		return n.ID < c.ID
	}
	return n.CreatedAt.Before(c.CreatedAt)
}

// Encode renders the cursor as an opaque token.
func (c *Cursor) Encode() string {
	if c == nil {
		return ""
	}
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Encode. An empty token yields nil.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	ns, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return &Cursor{CreatedAt: time.Unix(0, ns).UTC(), ID: id}, nil
}

// CheckNew validates a record before it is persisted.
func CheckNew(n *Notification) error {
	if n == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidNotification)
	}
	if n.FournisseurID == "" {
		return fmt.Errorf("%w: missing recipient", ErrInvalidNotification)
	}
	if !n.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidNotification, n.Type)
	}
	if n.Priority != "" && !n.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidNotification, n.Priority)
	}
	if err := n.Data.Validate(n.Type); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	return nil
}

// Publisher is told about every committed mutation so live subscriptions
// can refresh.
type Publisher interface {
	Publish(ctx context.Context, recipientID string) error
}

// UniqueIDs drops empty and duplicate ids, keeping first-seen order.
func UniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
