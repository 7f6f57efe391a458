package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"remindd/internal/clock"
	"remindd/internal/delivery"
	"remindd/internal/engine"
	"remindd/internal/source"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

var (
	// ErrInvalidTiming rejects schedules and events whose target is not in
	// the future.
	ErrInvalidTiming = source.ErrInvalidTiming

	// ErrInvalidRecurrence rejects unrecognized recurrence rules.
	ErrInvalidRecurrence = errors.New("invalid recurrence rule")
)

// RegisterRecipient creates or updates a recipient. The id is the stable key;
// re-registering overwrites preferences but never resets delivery history.
func (a *App) RegisterRecipient(ctx context.Context, rec store.Recipient) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("recipient id is required")
	}
	if strings.TrimSpace(rec.Address) == "" {
		return errors.New("recipient address is required")
	}
	if rec.Timezone == "" {
		rec.Timezone = "UTC"
	}
	if rec.QuietStart != "" || rec.QuietEnd != "" {
		if rec.QuietStart == "" || rec.QuietEnd == "" {
			return errors.New("quiet hours need both start and end")
		}
		for _, v := range []string{rec.QuietStart, rec.QuietEnd} {
			if _, err := clock.ParseHHMM(v); err != nil {
				return err
			}
		}
	}
	return a.store.PutRecipient(ctx, rec)
}

// CreateScheduleRequest describes a new reminder.
type CreateScheduleRequest struct {
	RecipientID string
	Message     string
	TargetAt    time.Time
	Recurrence  string // "none", "daily", "weekly", "monthly", "every <dur>"
}

// CreateSchedule validates and persists a reminder. The recipient must exist,
// the target must be in the future, and the recurrence rule must parse.
func (a *App) CreateSchedule(ctx context.Context, req CreateScheduleRequest) (store.Schedule, error) {
	if strings.TrimSpace(req.Message) == "" {
		return store.Schedule{}, errors.New("schedule message is required")
	}
	if _, err := a.store.GetRecipient(ctx, req.RecipientID); err != nil {
		return store.Schedule{}, err
	}
	now := a.clk.Now()
	if !req.TargetAt.After(now) {
		return store.Schedule{}, fmt.Errorf("%w: target %s", ErrInvalidTiming, req.TargetAt.Format(time.RFC3339))
	}
	rec, every, err := store.ParseRecurrence(req.Recurrence)
	if err != nil {
		return store.Schedule{}, fmt.Errorf("%w: %v", ErrInvalidRecurrence, err)
	}

	sc := store.Schedule{
		ID:          uuid.NewString(),
		RecipientID: req.RecipientID,
		Message:     req.Message,
		TargetAt:    req.TargetAt.UTC(),
		Recurrence:  rec,
		Every:       every,
		Status:      store.StatusPending,
		CreatedAt:   now,
	}
	if next, ok := engine.NextOccurrence(sc); ok {
		sc.NextAt = next
	}
	if err := a.store.PutSchedule(ctx, sc); err != nil {
		return store.Schedule{}, err
	}
	a.log.Info("schedule created",
		logx.String("schedule", sc.ID),
		logx.String("recipient", sc.RecipientID),
		logx.Time("target", sc.TargetAt),
		logx.String("recurrence", string(sc.Recurrence)))
	return sc, nil
}

// CancelSchedule marks a pending schedule cancelled. Repeat cancels and
// cancels of delivered schedules are no-ops; only unknown ids fail.
func (a *App) CancelSchedule(ctx context.Context, id string) error {
	return a.store.CancelSchedule(ctx, id)
}

// OptOut stops all future deliveries to the recipient. Pending schedules are
// kept; they drain as cancelled on their due cycle.
func (a *App) OptOut(ctx context.Context, recipientID string) error {
	return a.store.SetOptOut(ctx, recipientID, true)
}

// OptIn re-enables deliveries for the recipient.
func (a *App) OptIn(ctx context.Context, recipientID string) error {
	return a.store.SetOptOut(ctx, recipientID, false)
}

// RunAdmissionCycle runs one cycle immediately, outside the periodic trigger.
func (a *App) RunAdmissionCycle(ctx context.Context) (engine.Report, error) {
	return a.engine.RunCycle(ctx)
}

// CreateEvent books a calendar event and sends the recipient a best-effort
// confirmation right away. The reminder itself goes through admission later.
func (a *App) CreateEvent(ctx context.Context, ev source.Event) (source.Event, error) {
	if a.calendar == nil {
		return source.Event{}, errors.New("calendar source is disabled")
	}
	rec, err := a.store.GetRecipient(ctx, ev.RecipientID)
	if err != nil {
		return source.Event{}, err
	}
	created, err := a.calendar.CreateEvent(ctx, ev, a.clk.Now())
	if err != nil {
		return source.Event{}, err
	}

	if _, err := a.channel.Send(ctx, rec, delivery.Message{
		Category: "event",
		Title:    "Event scheduled",
		Body: fmt.Sprintf("%s on %s, reminder %d minutes before",
			created.Title,
			created.StartAt.Format("Jan 2 15:04 MST"),
			created.LeadMinutes),
	}); err != nil {
		a.log.Warn("event confirmation failed",
			logx.String("event", created.ID), logx.Err(err))
	}
	return created, nil
}
