package clock

import (
	"testing"
	"time"
)

func TestToLocal(t *testing.T) {
	instant := time.Date(2026, 1, 15, 2, 0, 0, 0, time.UTC)

	ny := ToLocal(instant, "America/New_York")
	if ny.Hour() != 21 || ny.Day() != 14 {
		t.Errorf("New York local = %v, want Jan 14 21:00", ny)
	}

	// Non-integer-hour offset.
	kath := ToLocal(instant, "Asia/Kathmandu")
	if kath.Hour() != 7 || kath.Minute() != 45 {
		t.Errorf("Kathmandu local = %v, want 07:45", kath)
	}

	if got := ToLocal(instant, ""); !got.Equal(instant) || got.Location() != time.UTC {
		t.Errorf("empty tz = %v", got)
	}

	// Unknown identifiers degrade to the instant unchanged, never an error.
	if got := ToLocal(instant, "Mars/Olympus_Mons"); !got.Equal(instant) {
		t.Errorf("unknown tz changed the instant: %v", got)
	}
}

func TestParseHHMM(t *testing.T) {
	good := map[string]int{
		"00:00": 0,
		"07:30": 7*60 + 30,
		"23:59": 23*60 + 59,
		" 9:05": 9*60 + 5,
	}
	for in, want := range good {
		got, err := ParseHHMM(in)
		if err != nil || got != want {
			t.Errorf("ParseHHMM(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	for _, in := range []string{"", "24:00", "12:60", "noon", "12", "12:3:4"} {
		if _, err := ParseHHMM(in); err == nil {
			t.Errorf("ParseHHMM(%q) accepted", in)
		}
	}
}

func TestDateKey(t *testing.T) {
	// 23:30 in New York on Jan 14 is already Jan 15 in UTC; the key is UTC.
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	at := time.Date(2026, 1, 14, 23, 30, 0, 0, loc)
	if got := DateKey(at); got != "2026-01-15" {
		t.Errorf("DateKey = %s, want 2026-01-15", got)
	}
}
