package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "remindd/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "store.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{"sqlite": sq, "memory": NewMemory()}
}

func TestRecipientRoundTrip(t *testing.T) {
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := Recipient{
				ID:              "u1",
				Address:         "12345",
				Timezone:        "America/New_York",
				MaxAlertsPerDay: 3,
				QuietStart:      "22:00",
				QuietEnd:        "08:00",
				Categories:      []string{"reminder", "price_drop"},
				Keywords:        []string{"laptop"},
				MinDiscount:     20,
			}
			if err := st.PutRecipient(ctx, r); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, err := st.GetRecipient(ctx, "u1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Address != r.Address || got.Timezone != r.Timezone || got.QuietStart != r.QuietStart {
				t.Errorf("round-trip mismatch: %+v", got)
			}
			if len(got.Categories) != 2 || got.Categories[1] != "price_drop" {
				t.Errorf("categories = %v", got.Categories)
			}
			if got.CreatedAt.IsZero() {
				t.Error("created_at not set")
			}

			if _, err := st.GetRecipient(ctx, "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("missing recipient: err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSetOptOutExcludesFromActiveList(t *testing.T) {
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b"} {
				if err := st.PutRecipient(ctx, Recipient{ID: id, Address: id}); err != nil {
					t.Fatal(err)
				}
			}
			if err := st.SetOptOut(ctx, "a", true); err != nil {
				t.Fatalf("opt out: %v", err)
			}
			active, err := st.ListActiveRecipients(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(active) != 1 || active[0].ID != "b" {
				t.Errorf("active = %+v, want only b", active)
			}

			// Opt back in.
			if err := st.SetOptOut(ctx, "a", false); err != nil {
				t.Fatal(err)
			}
			active, _ = st.ListActiveRecipients(ctx)
			if len(active) != 2 {
				t.Errorf("after opt-in: %d active, want 2", len(active))
			}

			if err := st.SetOptOut(ctx, "ghost", true); !errors.Is(err, ErrNotFound) {
				t.Errorf("opt out unknown: err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestDueSchedules(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			put := func(id string, at time.Time, status ScheduleStatus) {
				t.Helper()
				if err := st.PutSchedule(ctx, Schedule{
					ID: id, RecipientID: "u1", Message: "m", TargetAt: at, Status: status,
				}); err != nil {
					t.Fatal(err)
				}
			}
			put("past", now.Add(-time.Hour), StatusPending)
			put("exact", now, StatusPending)
			put("future", now.Add(time.Hour), StatusPending)
			put("done", now.Add(-2*time.Hour), StatusSent)

			due, err := st.DueSchedules(ctx, now)
			if err != nil {
				t.Fatal(err)
			}
			if len(due) != 2 {
				t.Fatalf("due = %d schedules, want 2", len(due))
			}
			if due[0].ID != "past" || due[1].ID != "exact" {
				t.Errorf("due order = %s, %s", due[0].ID, due[1].ID)
			}
		})
	}
}

func TestCancelScheduleIdempotent(t *testing.T) {
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := st.PutSchedule(ctx, Schedule{ID: "s1", RecipientID: "u1", Message: "m", TargetAt: time.Now()}); err != nil {
				t.Fatal(err)
			}
			if err := st.CancelSchedule(ctx, "s1"); err != nil {
				t.Fatalf("first cancel: %v", err)
			}
			if err := st.CancelSchedule(ctx, "s1"); err != nil {
				t.Fatalf("second cancel: %v", err)
			}
			sc, _ := st.GetSchedule(ctx, "s1")
			if sc.Status != StatusCancelled {
				t.Errorf("status = %s, want cancelled", sc.Status)
			}

			// Cancelling a sent schedule must not flip it back.
			if err := st.PutSchedule(ctx, Schedule{ID: "s2", RecipientID: "u1", Message: "m", TargetAt: time.Now(), Status: StatusSent}); err != nil {
				t.Fatal(err)
			}
			if err := st.CancelSchedule(ctx, "s2"); err != nil {
				t.Fatal(err)
			}
			sc, _ = st.GetSchedule(ctx, "s2")
			if sc.Status != StatusSent {
				t.Errorf("sent schedule status = %s after cancel", sc.Status)
			}

			if err := st.CancelSchedule(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
				t.Errorf("cancel unknown: err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestInsertAlertIfNewWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 6 * time.Hour
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := Alert{Fingerprint: "fp1", RecipientID: "u1", Category: "reminder", Message: "m", CreatedAt: base}

			ins, err := st.InsertAlertIfNew(ctx, a, window)
			if err != nil || !ins {
				t.Fatalf("first insert = %v, %v; want true, nil", ins, err)
			}

			// Same fingerprint inside the window is suppressed.
			dup := a
			dup.CreatedAt = base.Add(time.Hour)
			if ins, _ := st.InsertAlertIfNew(ctx, dup, window); ins {
				t.Error("duplicate inside window was inserted")
			}

			// Different fingerprint passes.
			other := a
			other.Fingerprint = "fp2"
			if ins, _ := st.InsertAlertIfNew(ctx, other, window); !ins {
				t.Error("distinct fingerprint was suppressed")
			}

			// Same fingerprint after the window passes again.
			late := a
			late.CreatedAt = base.Add(window + time.Minute)
			if ins, _ := st.InsertAlertIfNew(ctx, late, window); !ins {
				t.Error("expired fingerprint was suppressed")
			}

			got, err := st.AlertsByFingerprint(ctx, "fp1")
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 {
				t.Errorf("fp1 alerts = %d, want 2", len(got))
			}
		})
	}
}

func TestMarkAlertSent(t *testing.T) {
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := Alert{Fingerprint: "fp", RecipientID: "u1", Category: "reminder", Message: "m", CreatedAt: time.Now().UTC()}
			if _, err := st.InsertAlertIfNew(ctx, a, time.Hour); err != nil {
				t.Fatal(err)
			}
			sentAt := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
			if err := st.MarkAlertSent(ctx, "fp", a.CreatedAt, sentAt); err != nil {
				t.Fatal(err)
			}
			got, _ := st.AlertsByFingerprint(ctx, "fp")
			if len(got) != 1 || !got[0].SentAt.Equal(sentAt) {
				t.Errorf("sent_at = %v, want %v", got[0].SentAt, sentAt)
			}
		})
	}
}

func TestMarkAlertSentLeavesEarlierUnsentRows(t *testing.T) {
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			window := time.Hour

			// First admission delivers nothing (send failed), row stays unsent.
			morning := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
			first := Alert{Fingerprint: "fp", RecipientID: "u1", Category: "reminder", Message: "m", CreatedAt: morning}
			if _, err := st.InsertAlertIfNew(ctx, first, window); err != nil {
				t.Fatal(err)
			}

			// Same fingerprint re-admitted after the window, and this one sends.
			afternoon := morning.Add(7 * time.Hour)
			second := first
			second.CreatedAt = afternoon
			if ins, err := st.InsertAlertIfNew(ctx, second, window); err != nil || !ins {
				t.Fatalf("re-admission after window: inserted=%v err=%v", ins, err)
			}
			if err := st.MarkAlertSent(ctx, "fp", afternoon, afternoon.Add(time.Second)); err != nil {
				t.Fatal(err)
			}

			got, err := st.AlertsByFingerprint(ctx, "fp")
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 {
				t.Fatalf("alerts = %d, want 2", len(got))
			}
			if !got[0].SentAt.IsZero() {
				t.Errorf("failed delivery retroactively stamped sent_at=%v", got[0].SentAt)
			}
			if got[1].SentAt.IsZero() {
				t.Error("delivered alert missing sent_at")
			}
		})
	}
}

func TestDailyCountIncrement(t *testing.T) {
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			day := "2026-03-01"

			n, err := st.DailyCount(ctx, "u1", day)
			if err != nil || n != 0 {
				t.Fatalf("fresh count = %d, %v; want 0, nil", n, err)
			}
			for i := 0; i < 3; i++ {
				if err := st.IncrementDailyCount(ctx, "u1", day); err != nil {
					t.Fatal(err)
				}
			}
			if n, _ := st.DailyCount(ctx, "u1", day); n != 3 {
				t.Errorf("count = %d, want 3", n)
			}
			// Separate day, separate counter.
			if n, _ := st.DailyCount(ctx, "u1", "2026-03-02"); n != 0 {
				t.Errorf("next-day count = %d, want 0", n)
			}
		})
	}
}

func TestParseRecurrence(t *testing.T) {
	cases := []struct {
		in      string
		want    Recurrence
		every   time.Duration
		wantErr bool
	}{
		{"", RecurrenceNone, 0, false},
		{"none", RecurrenceNone, 0, false},
		{"daily", RecurrenceDaily, 0, false},
		{"Weekly", RecurrenceWeekly, 0, false},
		{"monthly", RecurrenceMonthly, 0, false},
		{"every 48h", RecurrenceCustom, 48 * time.Hour, false},
		{"every 90m", RecurrenceCustom, 90 * time.Minute, false},
		{"every -1h", "", 0, true},
		{"every bananas", "", 0, true},
		{"fortnightly", "", 0, true},
	}
	for _, tc := range cases {
		rec, every, err := ParseRecurrence(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseRecurrence(%q): want error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRecurrence(%q): %v", tc.in, err)
			continue
		}
		if rec != tc.want || every != tc.every {
			t.Errorf("ParseRecurrence(%q) = %s, %v; want %s, %v", tc.in, rec, every, tc.want, tc.every)
		}
	}
}

func TestScheduleTimesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	target := time.Date(2026, 7, 4, 9, 30, 0, 0, time.UTC)
	next := target.Add(24 * time.Hour)
	if err := st.PutSchedule(ctx, Schedule{
		ID: "s1", RecipientID: "u1", Message: "m",
		TargetAt: target, Recurrence: RecurrenceDaily, NextAt: next,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	got, err := st.GetSchedule(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.TargetAt.Equal(target) || !got.NextAt.Equal(next) {
		t.Errorf("times after reopen: target=%v next=%v", got.TargetAt, got.NextAt)
	}
	if !got.SentAt.IsZero() {
		t.Errorf("sent_at should be zero, got %v", got.SentAt)
	}
	if got.Recurrence != RecurrenceDaily {
		t.Errorf("recurrence = %s", got.Recurrence)
	}
}
