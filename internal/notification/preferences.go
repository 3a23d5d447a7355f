package notification

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPreferences wraps every Validate failure.
var ErrInvalidPreferences = errors.New("invalid preferences")

// Channel is a delivery channel a supplier can toggle per notification type.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// DigestFrequency controls batching of non-instant deliveries.
type DigestFrequency string

const (
	DigestInstant DigestFrequency = "instant"
	DigestHourly  DigestFrequency = "hourly"
	DigestDaily   DigestFrequency = "daily"
	DigestWeekly  DigestFrequency = "weekly"
)

// ChannelToggles are the per-channel switches for one notification type.
type ChannelToggles struct {
	InApp bool `json:"inApp"`
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

// QuietHours is a daily window, in the supplier's timezone, during which
// SMS and push display are suppressed. Start > End wraps midnight.
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone,omitempty"`
}

// Preferences is the one-per-supplier settings row.
type Preferences struct {
	SupplierID      string                  `json:"supplierId"`
	Toggles         map[Type]ChannelToggles `json:"toggles"`
	QuietHours      QuietHours              `json:"quietHours"`
	DigestFrequency DigestFrequency         `json:"digestFrequency"`
	ContactEmail    string                  `json:"contactEmail,omitempty"`
	ContactPhone    string                  `json:"contactPhone,omitempty"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`
}

// DefaultPreferences enables in-app and push for everything, email for
// orders and payments, and SMS for nothing.
func DefaultPreferences(supplierID string) *Preferences {
	toggles := make(map[Type]ChannelToggles, len(AllTypes))
	for _, t := range AllTypes {
		toggles[t] = ChannelToggles{
			InApp: true,
			Push:  true,
			Email: t == TypeOrder || t == TypePayment,
		}
	}
	toggles[TypeMarketing] = ChannelToggles{InApp: true}

	return &Preferences{
		SupplierID:      supplierID,
		Toggles:         toggles,
		QuietHours:      QuietHours{Start: "22:00", End: "07:00"},
		DigestFrequency: DigestInstant,
	}
}

// Enabled reports whether channel is switched on for t. Types missing from
// the toggles map fall back to the defaults.
func (p *Preferences) Enabled(t Type, channel Channel) bool {
	toggles, ok := p.Toggles[t]
	if !ok {
		toggles = DefaultPreferences(p.SupplierID).Toggles[t]
	}
	switch channel {
	case ChannelInApp:
		return toggles.InApp
	case ChannelEmail:
		return toggles.Email
	case ChannelSMS:
		return toggles.SMS
	case ChannelPush:
		return toggles.Push
	default:
		return false
	}
}

// Validate checks the quiet-hours clock values, timezone and digest
// frequency.
func (p *Preferences) Validate() error {
	switch p.DigestFrequency {
	case DigestInstant, DigestHourly, DigestDaily, DigestWeekly:
	default:
		return fmt.Errorf("%w: unknown digest frequency %q", ErrInvalidPreferences, p.DigestFrequency)
	}
	if _, err := parseClock(p.QuietHours.Start); err != nil {
		return fmt.Errorf("%w: quiet hours start: %v", ErrInvalidPreferences, err)
	}
	if _, err := parseClock(p.QuietHours.End); err != nil {
		return fmt.Errorf("%w: quiet hours end: %v", ErrInvalidPreferences, err)
	}
	if p.QuietHours.Timezone != "" {
		if _, err := time.LoadLocation(p.QuietHours.Timezone); err != nil {
			return fmt.Errorf("%w: quiet hours timezone: %v", ErrInvalidPreferences, err)
		}
	}
	for t := range p.Toggles {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown notification type %q", ErrInvalidPreferences, t)
		}
	}
	return nil
}

// InQuietHours reports whether at falls inside the quiet window.
func (p *Preferences) InQuietHours(at time.Time) bool {
	q := p.QuietHours
	if !q.Enabled {
		return false
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false
	}
	if q.Timezone != "" {
		if loc, err := time.LoadLocation(q.Timezone); err == nil {
			at = at.In(loc)
		}
	}

	now := at.Hour()*60 + at.Minute()
	switch {
	case start == end:
		return false
	case start < end:
		return now >= start && now < end
	default:
		return now >= start || now < end
	}
}

// parseClock turns "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
