package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock abstracts "now" so the engine can be driven by a fake in tests.
type Clock interface {
	Now() time.Time
}

// System is the real clock. Now() is always UTC; recipient-local views are
// derived via ToLocal at the point of use.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Fixed is a test clock pinned to a single instant.
type Fixed struct{ At time.Time }

func (f Fixed) Now() time.Time { return f.At }

// ToLocal converts an instant to the recipient's local civil time.
//
// Unknown or invalid timezone identifiers never fail: the instant is treated
// as already local so a bad timezone string degrades gracefully instead of
// blocking delivery. Offset and DST handling is delegated to the platform
// timezone database via time.LoadLocation.
func ToLocal(t time.Time, tz string) time.Time {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "UTC") {
		return t.UTC()
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return t
	}
	return t.In(loc)
}

// ParseHHMM parses a wall-clock time like "22:00" into minutes since midnight.
func ParseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// MinuteOfDay returns the minutes-since-midnight of t in its own location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// DateKey formats the UTC calendar date of t, used to key daily counters.
// Keying on the date makes the daily reset implicit: a new day is a new row.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
