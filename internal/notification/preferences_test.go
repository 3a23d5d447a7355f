package notification

import (
	"testing"
	"time"
)

func TestDefaultPreferences(t *testing.T) {
	p := DefaultPreferences("sup-1")
	if err := p.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if !p.Enabled(TypeOrder, ChannelEmail) {
		t.Error("order email should be on by default")
	}
	if p.Enabled(TypeOrder, ChannelSMS) {
		t.Error("sms should be off by default")
	}
	if p.Enabled(TypeMarketing, ChannelPush) {
		t.Error("marketing push should be off by default")
	}
	delete(p.Toggles, TypeSystem)
	if !p.Enabled(TypeSystem, ChannelInApp) {
		t.Error("missing toggle should fall back to defaults")
	}
}

func TestInQuietHours(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 1, 5, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name       string
		start, end string
		enabled    bool
		when       time.Time
		want       bool
	}{
		{"disabled", "22:00", "07:00", false, at(23, 0), false},
		{"wrap late", "22:00", "07:00", true, at(23, 30), true},
		{"wrap early", "22:00", "07:00", true, at(6, 59), true},
		{"wrap end exclusive", "22:00", "07:00", true, at(7, 0), false},
		{"wrap daytime", "22:00", "07:00", true, at(12, 0), false},
		{"same day inside", "12:00", "14:00", true, at(13, 0), true},
		{"same day outside", "12:00", "14:00", true, at(15, 0), false},
		{"empty window", "12:00", "12:00", true, at(12, 0), false},
		{"bad clock", "25:00", "07:00", true, at(23, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPreferences("sup-1")
			p.QuietHours = QuietHours{Enabled: tt.enabled, Start: tt.start, End: tt.end}
			if got := p.InQuietHours(tt.when); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPreferencesValidate(t *testing.T) {
	p := DefaultPreferences("sup-1")
	p.DigestFrequency = "monthly"
	if err := p.Validate(); err == nil {
		t.Error("expected digest frequency error")
	}

	p = DefaultPreferences("sup-1")
	p.QuietHours.End = "7h"
	if err := p.Validate(); err == nil {
		t.Error("expected clock error")
	}

	p = DefaultPreferences("sup-1")
	p.Toggles["bogus"] = ChannelToggles{}
	if err := p.Validate(); err == nil {
		t.Error("expected unknown type error")
	}
}
