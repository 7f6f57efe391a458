package engine

import (
	"context"
	"time"

	"remindd/internal/clock"
	"remindd/internal/store"
)

// admit runs the per-recipient gates in their fixed order: opt-out, quiet
// hours, daily rate limit. Dedup is not here; it happens atomically in the
// store when the alert row is inserted.
func (e *Engine) admit(ctx context.Context, rec store.Recipient, now time.Time) (Decision, error) {
	if rec.OptOut {
		return RejectedOptedOut, nil
	}
	if inQuietHours(rec, now) {
		return RejectedQuietHours, nil
	}

	limit := rec.MaxAlertsPerDay
	if limit <= 0 {
		limit = e.options().DefaultMaxPerDay
	}
	if limit > 0 {
		n, err := e.store.DailyCount(ctx, rec.ID, clock.DateKey(now))
		if err != nil {
			return "", err
		}
		if n >= limit {
			return RejectedRateLimited, nil
		}
	}
	return Admitted, nil
}

// inQuietHours reports whether now falls inside the recipient's quiet window,
// evaluated in the recipient's local time. Both boundaries are inclusive. A
// window with start > end spans midnight (22:00-08:00 covers 23:00 and 07:00).
// Missing or malformed boundaries disable the window rather than block sends.
func inQuietHours(rec store.Recipient, now time.Time) bool {
	if rec.QuietStart == "" || rec.QuietEnd == "" {
		return false
	}
	start, err := clock.ParseHHMM(rec.QuietStart)
	if err != nil {
		return false
	}
	end, err := clock.ParseHHMM(rec.QuietEnd)
	if err != nil {
		return false
	}

	m := clock.MinuteOfDay(clock.ToLocal(now, rec.Timezone))
	if start <= end {
		return m >= start && m <= end
	}
	return m >= start || m <= end
}
