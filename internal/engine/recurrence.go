package engine

import (
	"context"
	"strconv"
	"time"

	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

// NextOccurrence computes the follow-up target for a recurring schedule,
// stepping from its current target. Monthly uses a fixed 30-day stride.
// Returns false for non-recurring schedules.
func NextOccurrence(sc store.Schedule) (time.Time, bool) {
	switch sc.Recurrence {
	case store.RecurrenceDaily:
		return sc.TargetAt.Add(24 * time.Hour), true
	case store.RecurrenceWeekly:
		return sc.TargetAt.Add(7 * 24 * time.Hour), true
	case store.RecurrenceMonthly:
		return sc.TargetAt.Add(30 * 24 * time.Hour), true
	case store.RecurrenceCustom:
		if sc.Every > 0 {
			return sc.TargetAt.Add(sc.Every), true
		}
	}
	return time.Time{}, false
}

// reenroll appends a fresh pending schedule for the next occurrence of a
// recurring schedule that just delivered. The delivered row keeps its "sent"
// status; history is append-only. The new id is derived from the original so
// the lineage is visible, and a new id means the next occurrence carries a
// distinct fingerprint and won't be swallowed by the dedup window.
func (e *Engine) reenroll(ctx context.Context, sc store.Schedule, deliveredAt time.Time) {
	next, ok := NextOccurrence(sc)
	if !ok {
		return
	}
	nextSc := store.Schedule{
		ID:          sc.ID + "-" + strconv.FormatInt(deliveredAt.Unix(), 10),
		RecipientID: sc.RecipientID,
		Message:     sc.Message,
		TargetAt:    next,
		Recurrence:  sc.Recurrence,
		Every:       sc.Every,
		Status:      store.StatusPending,
		CreatedAt:   deliveredAt,
	}
	// Recurring schedules always carry their follow-up target.
	if after, ok := NextOccurrence(nextSc); ok {
		nextSc.NextAt = after
	}
	if err := e.store.PutSchedule(ctx, nextSc); err != nil {
		e.log.Error("recurrence re-enroll failed",
			logx.String("schedule", sc.ID), logx.Err(err))
		return
	}
	e.log.Debug("recurrence re-enrolled",
		logx.String("schedule", sc.ID),
		logx.String("next", nextSc.ID),
		logx.Time("target", next))
}
