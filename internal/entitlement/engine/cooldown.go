package engine

import "time"

// ShouldSkipPoll reports whether a network reconciliation must be skipped
// because the previous one ran less than cooldown ago. It never gates Enforce.
func ShouldSkipPoll(last *time.Time, cooldown time.Duration, now time.Time) bool {
	if last == nil {
		return false
	}
	return now.Sub(*last) < cooldown
}
