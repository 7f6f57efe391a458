package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned for lookups of unknown ids.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable wraps persistence-layer failures. The admission cycle
	// treats it as fatal for the whole cycle: running against a store whose
	// dedup answers can't be trusted risks duplicate sends.
	ErrUnavailable = errors.New("store unavailable")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store (dev/tests)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Recipient is a notification target. Recipients are never hard-deleted;
// OptOut is a soft flag so delivery history stays intact.
type Recipient struct {
	ID              string
	Address         string // channel-specific (telegram chat id, phone, ...)
	Timezone        string // IANA name; invalid values degrade to UTC handling
	OptOut          bool
	MaxAlertsPerDay int
	QuietStart      string // "HH:MM" recipient-local; empty = no quiet hours
	QuietEnd        string
	Categories      []string // alert categories this recipient subscribes to
	Keywords        []string // search terms for the discovery source
	MinDiscount     float64  // minimum price-drop percentage worth alerting
	MethodHint      string   // preferred delivery method ("", "text", "rich")
	CreatedAt       time.Time
}

// SubscribesTo reports whether the recipient wants alerts of the category.
// An empty category list means "everything".
func (r Recipient) SubscribesTo(category string) bool {
	if len(r.Categories) == 0 {
		return true
	}
	for _, c := range r.Categories {
		if c == category {
			return true
		}
	}
	return false
}

type ScheduleStatus string

const (
	StatusPending   ScheduleStatus = "pending"
	StatusSent      ScheduleStatus = "sent"
	StatusFailed    ScheduleStatus = "failed"
	StatusCancelled ScheduleStatus = "cancelled"
)

type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
	RecurrenceCustom  Recurrence = "custom"
)

// ParseRecurrence parses a recurrence rule. Accepted forms:
// "none" (or empty), "daily", "weekly", "monthly", and "every <duration>"
// for custom intervals (e.g. "every 48h").
func ParseRecurrence(s string) (Recurrence, time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none":
		return RecurrenceNone, 0, nil
	case "daily":
		return RecurrenceDaily, 0, nil
	case "weekly":
		return RecurrenceWeekly, 0, nil
	case "monthly":
		return RecurrenceMonthly, 0, nil
	}
	if rest, ok := strings.CutPrefix(s, "every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || d <= 0 {
			return "", 0, fmt.Errorf("invalid recurrence interval %q", s)
		}
		return RecurrenceCustom, d, nil
	}
	return "", 0, fmt.Errorf("unrecognized recurrence %q", s)
}

// Schedule is a reminder to deliver at TargetAt. Recurring schedules carry a
// precomputed NextAt; delivery re-enrolls a fresh record rather than mutating
// this one back to pending (append-only history).
type Schedule struct {
	ID          string
	RecipientID string
	Message     string
	TargetAt    time.Time
	Recurrence  Recurrence
	Every       time.Duration // custom interval; zero unless Recurrence == custom
	Status      ScheduleStatus
	CreatedAt   time.Time
	SentAt      time.Time // zero until delivered
	NextAt      time.Time // zero unless recurring
}

// Alert is the persisted post-admission record. It is written with a zero
// SentAt BEFORE any delivery attempt; the fingerprint row inside the dedup
// window is what prevents re-admission after a crash or failed send.
type Alert struct {
	Fingerprint string
	RecipientID string
	Category    string
	Message     string
	CreatedAt   time.Time
	SentAt      time.Time // zero until delivered
}

// Store is the durable persistence contract. It exclusively owns all durable
// records; the engine keeps no state across cycles beyond what it reads and
// writes here.
type Store interface {
	PutRecipient(ctx context.Context, r Recipient) error
	GetRecipient(ctx context.Context, id string) (Recipient, error)
	ListActiveRecipients(ctx context.Context) ([]Recipient, error)
	// SetOptOut flips the soft opt-out flag. Idempotent.
	SetOptOut(ctx context.Context, id string, optOut bool) error

	PutSchedule(ctx context.Context, s Schedule) error
	GetSchedule(ctx context.Context, id string) (Schedule, error)
	// DueSchedules returns pending schedules with target_at <= now.
	DueSchedules(ctx context.Context, now time.Time) ([]Schedule, error)
	UpdateScheduleStatus(ctx context.Context, id string, st ScheduleStatus, sentAt time.Time) error
	// CancelSchedule marks a pending schedule cancelled. Cancelling an
	// already-cancelled or already-sent schedule is a no-op.
	CancelSchedule(ctx context.Context, id string) error

	// InsertAlertIfNew atomically checks for a same-fingerprint alert created
	// within the window and inserts a if none exists. The check-then-insert
	// runs as a single transaction so two near-simultaneous candidates with
	// the same fingerprint can't both pass.
	InsertAlertIfNew(ctx context.Context, a Alert, window time.Duration) (inserted bool, err error)
	// MarkAlertSent stamps the single alert identified by (fingerprint,
	// createdAt). Older unsent rows for the same fingerprint are failed
	// deliveries from earlier windows and must keep their null sent_at.
	MarkAlertSent(ctx context.Context, fingerprint string, createdAt, at time.Time) error
	AlertsByFingerprint(ctx context.Context, fingerprint string) ([]Alert, error)

	DailyCount(ctx context.Context, recipientID, day string) (int, error)
	// IncrementDailyCount is an atomic upsert-increment keyed by (recipient, day).
	IncrementDailyCount(ctx context.Context, recipientID, day string) error

	Close() error
}
