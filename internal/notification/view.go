package notification

import (
	"sort"
	"strings"
	"time"
)

// SortKey selects the ordering of a view.
type SortKey string

const (
	SortNewest   SortKey = "newest"
	SortOldest   SortKey = "oldest"
	SortPriority SortKey = "priority"
	SortUnread   SortKey = "unread"
	SortType     SortKey = "type"
)

// ParseSortKey maps a query value to a SortKey, defaulting to newest.
func ParseSortKey(s string) SortKey {
	switch SortKey(s) {
	case SortOldest, SortPriority, SortUnread, SortType:
		return SortKey(s)
	default:
		return SortNewest
	}
}

// Filter narrows a notification list. Zero fields do not filter.
type Filter struct {
	Type       Type       `json:"type,omitempty"`
	SubType    string     `json:"subType,omitempty"`
	Priority   Priority   `json:"priority,omitempty"`
	IsRead     *bool      `json:"isRead,omitempty"`
	IsArchived *bool      `json:"isArchived,omitempty"`
	DateFrom   *time.Time `json:"dateFrom,omitempty"`
	DateTo     *time.Time `json:"dateTo,omitempty"`
	SearchTerm string     `json:"searchTerm,omitempty"`
}

// Match reports whether n passes every set field of f.
func (f Filter) Match(n *Notification) bool {
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if f.SubType != "" && n.SubType != f.SubType {
		return false
	}
	if f.Priority != "" && n.Priority != f.Priority {
		return false
	}
	if f.IsRead != nil && n.IsRead != *f.IsRead {
		return false
	}
	if f.IsArchived != nil && n.IsArchived != *f.IsArchived {
		return false
	}
	if f.DateFrom != nil && n.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && n.CreatedAt.After(*f.DateTo) {
		return false
	}
	return MatchesSearch(n, f.SearchTerm)
}

// MatchesSearch is a case-insensitive substring match on title or message.
// An empty or blank term matches everything.
func MatchesSearch(n *Notification, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(n.Title), term) ||
		strings.Contains(strings.ToLower(n.Message), term)
}

// View filters list and returns a newly allocated slice ordered by key.
// The input slice is not modified.
func View(list []*Notification, f Filter, key SortKey) []*Notification {
	out := make([]*Notification, 0, len(list))
	for _, n := range list {
		if n != nil && f.Match(n) {
			out = append(out, n)
		}
	}
	SortBy(out, key)
	return out
}

// SortBy orders list in place. Every key falls back to newest first, then
// id descending, so the result is deterministic.
func SortBy(list []*Notification, key SortKey) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch key {
		case SortOldest:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		case SortPriority:
			if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
				return ra > rb
			}
		case SortUnread:
			if a.IsRead != b.IsRead {
				return !a.IsRead
			}
		case SortType:
			if a.Type != b.Type {
				return a.Type < b.Type
			}
		}
		return newestFirst(a, b)
	})
}

func newestFirst(a, b *Notification) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// UnreadCount counts unread notifications in list.
func UnreadCount(list []*Notification) int {
	count := 0
	for _, n := range list {
		if !n.IsRead {
			count++
		}
	}
	return count
}
