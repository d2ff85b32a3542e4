package notification

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidPreference = errors.New("invalid notification preference")

type Frequency string

const (
	FiveMinutes Frequency = "five_minutes"
	Hourly      Frequency = "hourly"
	TwiceDaily  Frequency = "twice_daily"
	Daily       Frequency = "daily"
)

// MinimumGap returns the minimum time between two notifications.
// ok is false for frequencies outside the four known values.
func (f Frequency) MinimumGap() (gap time.Duration, ok bool) {
	switch f {
	case FiveMinutes:
		return 5 * time.Minute, true
	case Hourly:
		return time.Hour, true
	case TwiceDaily:
		return 12 * time.Hour, true
	case Daily:
		return 24 * time.Hour, true
	default:
		return 0, false
	}
}

func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := f.MinimumGap(); !ok {
		return "", fmt.Errorf("%w: unknown frequency %q", ErrInvalidPreference, s)
	}
	return f, nil
}

// TimeOfDay is a wall-clock time without a date, in minutes since midnight (0..1439).
type TimeOfDay int

const minutesPerDay = 24 * 60

func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: time of day %02d:%02d out of range", ErrInvalidPreference, hour, minute)
	}
	return TimeOfDay(hour*60 + minute), nil
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: expected HH:MM, got %q", ErrInvalidPreference, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: hour %q", ErrInvalidPreference, parts[0])
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("%w: minute %q", ErrInvalidPreference, parts[1])
	}
	return NewTimeOfDay(h, m)
}

func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) Valid() bool { return t >= 0 && t < minutesPerDay }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// QuietHours is the window during which sends are suppressed.
// Start > End wraps past midnight; Start == End covers the whole day.
type QuietHours struct {
	Start TimeOfDay
	End   TimeOfDay
}

func (q QuietHours) Contains(t TimeOfDay) bool {
	switch {
	case q.Start == q.End:
		return true
	case q.Start < q.End:
		return t >= q.Start && t <= q.End
	default:
		return t >= q.Start || t <= q.End
	}
}

type Preference struct {
	UserID    string
	Enabled   bool
	Frequency Frequency
	// nil means no quiet hours.
	QuietHours *QuietHours
	// nil means never sent.
	LastNotificationSent *time.Time
	// nil means the scheduler's default zone.
	Location  *time.Location
	UpdatedAt time.Time
}

func (p *Preference) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidPreference)
	}
	if _, ok := p.Frequency.MinimumGap(); !ok {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidPreference, p.Frequency)
	}
	if q := p.QuietHours; q != nil && (!q.Start.Valid() || !q.End.Valid()) {
		return fmt.Errorf("%w: quiet hours %d-%d out of range", ErrInvalidPreference, q.Start, q.End)
	}
	return nil
}

type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
)

type DeviceToken struct {
	UserID    string
	Token     string
	Platform  Platform
	UpdatedAt time.Time
}

type Payload struct {
	Title string
	Body  string
	Data  map[string]string
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
