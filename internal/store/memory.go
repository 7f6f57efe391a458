package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memory is a mutex-guarded in-process Store. It backs the "memory" driver
// used by tests and throwaway dev runs; it honors the same contract as the
// sqlite driver, including atomic InsertAlertIfNew.
type memory struct {
	mu         sync.Mutex
	recipients map[string]Recipient
	schedules  map[string]Schedule
	alerts     []Alert
	counts     map[string]int // recipientID + "|" + day
}

func NewMemory() Store {
	return &memory{
		recipients: make(map[string]Recipient),
		schedules:  make(map[string]Schedule),
		counts:     make(map[string]int),
	}
}

func (m *memory) Close() error { return nil }

func (m *memory) PutRecipient(_ context.Context, r Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.recipients[r.ID] = r
	return nil
}

func (m *memory) GetRecipient(_ context.Context, id string) (Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[id]
	if !ok {
		return Recipient{}, ErrNotFound
	}
	return r, nil
}

func (m *memory) ListActiveRecipients(_ context.Context) ([]Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Recipient
	for _, r := range m.recipients {
		if !r.OptOut {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memory) SetOptOut(_ context.Context, id string, optOut bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[id]
	if !ok {
		return ErrNotFound
	}
	r.OptOut = optOut
	m.recipients[id] = r
	return nil
}

func (m *memory) PutSchedule(_ context.Context, s Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Status == "" {
		s.Status = StatusPending
	}
	if s.Recurrence == "" {
		s.Recurrence = RecurrenceNone
	}
	m.schedules[s.ID] = s
	return nil
}

func (m *memory) GetSchedule(_ context.Context, id string) (Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return Schedule{}, ErrNotFound
	}
	return s, nil
}

func (m *memory) DueSchedules(_ context.Context, now time.Time) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Schedule
	for _, s := range m.schedules {
		if s.Status == StatusPending && !s.TargetAt.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetAt.Before(out[j].TargetAt) })
	return out, nil
}

func (m *memory) UpdateScheduleStatus(_ context.Context, id string, st ScheduleStatus, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = st
	s.SentAt = sentAt
	m.schedules[id] = s
	return nil
}

func (m *memory) CancelSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusPending {
		return nil
	}
	s.Status = StatusCancelled
	m.schedules[id] = s
	return nil
}

func (m *memory) InsertAlertIfNew(_ context.Context, a Alert, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cutoff := a.CreatedAt.Add(-window)
	for _, prev := range m.alerts {
		if prev.Fingerprint == a.Fingerprint && prev.CreatedAt.After(cutoff) {
			return false, nil
		}
	}
	m.alerts = append(m.alerts, a)
	return true, nil
}

func (m *memory) MarkAlertSent(_ context.Context, fingerprint string, createdAt, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].Fingerprint == fingerprint && m.alerts[i].CreatedAt.Equal(createdAt) && m.alerts[i].SentAt.IsZero() {
			m.alerts[i].SentAt = at
			return nil
		}
	}
	return nil
}

func (m *memory) AlertsByFingerprint(_ context.Context, fingerprint string) ([]Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alert
	for _, a := range m.alerts {
		if a.Fingerprint == fingerprint {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memory) DailyCount(_ context.Context, recipientID, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[recipientID+"|"+day], nil
}

func (m *memory) IncrementDailyCount(_ context.Context, recipientID, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[recipientID+"|"+day]++
	return nil
}
