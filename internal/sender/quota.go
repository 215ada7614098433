package sender

import (
	"time"

	"chatdispatch/internal/domain"
)

const (
	MinuteWindow = time.Minute
	HourWindow   = time.Hour
	DayWindow    = 24 * time.Hour
)

// ResetExpiredWindows zeroes every counter whose window has elapsed and
// reports whether anything changed.
func ResetExpiredWindows(s *domain.Sender, now time.Time) bool {
	changed := false
	if now.Sub(s.LastResetMinute) >= MinuteWindow {
		s.SentThisMinute = 0
		s.LastResetMinute = now
		changed = true
	}
	if now.Sub(s.LastResetHour) >= HourWindow {
		s.SentThisHour = 0
		s.LastResetHour = now
		changed = true
	}
	if now.Sub(s.LastResetDay) >= DayWindow {
		s.SentThisDay = 0
		s.LastResetDay = now
		changed = true
	}
	return changed
}

// WithinQuota reports whether one more send fits every window. A zero quota never fits.
func WithinQuota(s domain.Sender) bool {
	return s.SentThisMinute < s.QuotaPerMinute &&
		s.SentThisHour < s.QuotaPerHour &&
		s.SentThisDay < s.QuotaPerDay
}
