package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindd/internal/engine"
	logx "remindd/pkg/logx"
)

// Event is a calendar entry that wants a reminder ahead of its start.
type Event struct {
	ID          string
	RecipientID string
	Title       string
	StartAt     time.Time
	LeadMinutes int // reminder lead; 0 uses the source default
}

// Calendar is an in-memory event book standing in for a real calendar
// backend. Events live only for the process lifetime; the point of the
// source is exercising lead-window reminders, not calendar sync.
type Calendar struct {
	log  logx.Logger
	lead int // default lead minutes

	mu     sync.Mutex
	events map[string]Event
}

func NewCalendar(defaultLeadMinutes int, log logx.Logger) *Calendar {
	if defaultLeadMinutes <= 0 {
		defaultLeadMinutes = 15
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Calendar{log: log, lead: defaultLeadMinutes, events: make(map[string]Event)}
}

func (c *Calendar) Name() string { return "calendar" }

// CreateEvent validates and stores an event, assigning an id when absent.
// Events must start in the future.
func (c *Calendar) CreateEvent(_ context.Context, ev Event, now time.Time) (Event, error) {
	if strings.TrimSpace(ev.RecipientID) == "" {
		return Event{}, errors.New("event recipient is required")
	}
	if strings.TrimSpace(ev.Title) == "" {
		return Event{}, errors.New("event title is required")
	}
	if !ev.StartAt.After(now) {
		return Event{}, fmt.Errorf("%w: event starts at %s", ErrInvalidTiming, ev.StartAt.Format(time.RFC3339))
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.LeadMinutes <= 0 {
		ev.LeadMinutes = c.lead
	}
	c.mu.Lock()
	c.events[ev.ID] = ev
	c.mu.Unlock()
	c.log.Info("event created",
		logx.String("event", ev.ID),
		logx.String("recipient", ev.RecipientID),
		logx.Time("start", ev.StartAt))
	return ev, nil
}

// Collect emits a reminder candidate for every event inside its lead window.
// Candidates repeat each cycle until the event starts; the stable event id in
// the source data means repeats collapse in dedup. Events whose start has
// passed are retired.
func (c *Calendar) Collect(_ context.Context, now time.Time) ([]engine.Candidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var cands []engine.Candidate
	for id, ev := range c.events {
		if !ev.StartAt.After(now) {
			delete(c.events, id)
			continue
		}
		lead := time.Duration(ev.LeadMinutes) * time.Minute
		if now.Before(ev.StartAt.Add(-lead)) {
			continue
		}
		cands = append(cands, engine.Candidate{
			RecipientID: ev.RecipientID,
			Category:    "event",
			Title:       "Upcoming: " + ev.Title,
			Body: fmt.Sprintf("%s starts at %s (in %s)",
				ev.Title,
				ev.StartAt.Format("15:04 MST"),
				ev.StartAt.Sub(now).Round(time.Minute)),
			SourceData: map[string]any{"event_id": ev.ID},
		})
	}
	sort.Slice(cands, func(i, j int) bool {
		return cands[i].SourceData["event_id"].(string) < cands[j].SourceData["event_id"].(string)
	})
	return cands, nil
}

// Events returns a snapshot of the current book, ordered by start time.
func (c *Calendar) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out
}
