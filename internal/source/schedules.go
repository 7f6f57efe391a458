package source

import (
	"context"
	"time"

	"remindd/internal/engine"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

// Schedules emits a candidate for every pending schedule whose target time
// has arrived. It never mutates schedule status itself; the cycle owns the
// pending/sent/failed/cancelled transitions.
type Schedules struct {
	store store.Store
	log   logx.Logger
}

func NewSchedules(st store.Store, log logx.Logger) *Schedules {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Schedules{store: st, log: log}
}

func (s *Schedules) Name() string { return "schedules" }

func (s *Schedules) Collect(ctx context.Context, now time.Time) ([]engine.Candidate, error) {
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		return nil, err
	}
	cands := make([]engine.Candidate, 0, len(due))
	for _, sc := range due {
		cands = append(cands, engine.Candidate{
			RecipientID: sc.RecipientID,
			Category:    "reminder",
			Title:       "Reminder",
			Body:        sc.Message,
			SourceData:  map[string]any{"schedule_id": sc.ID},
			ScheduleID:  sc.ID,
		})
	}
	if len(cands) > 0 {
		s.log.Debug("due schedules collected", logx.Int("count", len(cands)))
	}
	return cands, nil
}
