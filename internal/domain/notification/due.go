package notification

import "time"

// InQuietHours reports whether now falls inside p's quiet hours,
// evaluated in the preference's own zone.
func InQuietHours(p *Preference, now time.Time) bool {
	if p.QuietHours == nil {
		return false
	}
	if p.Location != nil {
		now = now.In(p.Location)
	}
	return p.QuietHours.Contains(TimeOfDayOf(now))
}

// GapElapsed reports whether the frequency gap since the last send has passed.
// A preference that was never sent is always past its gap.
func GapElapsed(p *Preference, now time.Time) bool {
	gap, ok := p.Frequency.MinimumGap()
	if !ok {
		return false
	}
	if p.LastNotificationSent == nil {
		return true
	}
	return now.Sub(*p.LastNotificationSent) >= gap
}

// IsDue decides whether the user should receive a notification at now.
// Quiet hours veto regardless of how long ago the last send was.
func IsDue(p *Preference, now time.Time) bool {
	if p == nil || !p.Enabled {
		return false
	}
	if InQuietHours(p, now) {
		return false
	}
	return GapElapsed(p, now)
}

// FilterDue keeps the preferences that are due at now, preserving order.
func FilterDue(prefs []*Preference, now time.Time) []*Preference {
	out := make([]*Preference, 0, len(prefs))
	for _, p := range prefs {
		if IsDue(p, now) {
			out = append(out, p)
		}
	}
	return out
}
