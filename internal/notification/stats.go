package notification

import "time"

// Stats is derived from a full notification partition on demand and never
// persisted.
type Stats struct {
	Total            int              `json:"total"`
	Unread           int              `json:"unread"`
	Archived         int              `json:"archived"`
	ByType           map[Type]int     `json:"byType"`
	ByPriority       map[Priority]int `json:"byPriority"`
	Recent           int              `json:"recent"`
	ThisWeek         int              `json:"thisWeek"`
	ThisMonth        int              `json:"thisMonth"`
	Clicked          int              `json:"clicked"`
	ClickThroughRate float64          `json:"clickThroughRate"`
	// AverageTimeToRead is averaged over read notifications with a ReadAt.
	AverageTimeToRead time.Duration `json:"averageTimeToRead"`
}

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
)

// ComputeStats scans list once. ClickThroughRate is a percentage in
// [0, 100] and is 0 for an empty list.
func ComputeStats(list []*Notification, now time.Time) Stats {
	s := Stats{
		ByType:     make(map[Type]int),
		ByPriority: make(map[Priority]int),
	}

	var readDelay time.Duration
	readSamples := 0

	for _, n := range list {
		if n == nil {
			continue
		}
		s.Total++
		if !n.IsRead {
			s.Unread++
		}
		if n.IsArchived {
			s.Archived++
		}
		if n.Clicked {
			s.Clicked++
		}
		s.ByType[n.Type]++
		s.ByPriority[n.Priority]++

		age := now.Sub(n.CreatedAt)
		if age < day {
			s.Recent++
		}
		if age < week {
			s.ThisWeek++
		}
		if age < month {
			s.ThisMonth++
		}

		if n.IsRead && n.ReadAt != nil && !n.ReadAt.Before(n.CreatedAt) {
			readDelay += n.ReadAt.Sub(n.CreatedAt)
			readSamples++
		}
	}

	if s.Total > 0 {
		s.ClickThroughRate = float64(s.Clicked) / float64(s.Total) * 100
	}
	if readSamples > 0 {
		s.AverageTimeToRead = readDelay / time.Duration(readSamples)
	}
	return s
}
