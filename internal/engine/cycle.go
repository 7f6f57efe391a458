package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"remindd/internal/clock"
	"remindd/internal/delivery"
	"remindd/internal/eventbus"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

// ErrCycleRunning is returned when RunCycle is invoked while a previous cycle
// is still in flight. Cycles never overlap.
var ErrCycleRunning = errors.New("admission cycle already running")

// Source produces alert candidates for one cycle. Implementations own their
// upstream (schedule table, calendar, external search) and must be safe to
// call repeatedly with the same now.
type Source interface {
	Name() string
	Collect(ctx context.Context, now time.Time) ([]Candidate, error)
}

// Options tunes the engine. Zero values fall back to the listed defaults.
type Options struct {
	DedupWindow      time.Duration // default 6h
	Workers          int           // default 8
	DefaultMaxPerDay int           // per-recipient daily cap when the recipient has none; default 5
}

// Report summarizes one admission cycle.
type Report struct {
	Started      time.Time
	Duration     time.Duration
	Candidates   int
	Admitted     int
	Delivered    int
	Failed       int
	Skipped      int // candidates for unknown recipients
	SourceErrors int
	Rejected     map[Decision]int
}

// Engine runs the admission pipeline: it pulls candidates from its sources,
// gates each one per recipient, persists admitted alerts, and hands them to
// the delivery channel. All durable state lives in the store; the engine
// itself is stateless across cycles.
type Engine struct {
	store   store.Store
	channel delivery.Channel
	sources []Source
	clk     clock.Clock
	bus     eventbus.Bus
	log     logx.Logger

	optsMu sync.RWMutex
	opts   Options

	running atomic.Bool
}

func New(st store.Store, ch delivery.Channel, sources []Source, clk clock.Clock, bus eventbus.Bus, log logx.Logger, opts Options) *Engine {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 6 * time.Hour
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.DefaultMaxPerDay == 0 {
		opts.DefaultMaxPerDay = 5
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		store: st, channel: ch, sources: sources,
		clk: clk, bus: bus, log: log, opts: opts,
	}
}

// SetOptions swaps the tunables, used by config reload. Takes effect on the
// next cycle.
func (e *Engine) SetOptions(opts Options) {
	e.optsMu.Lock()
	defer e.optsMu.Unlock()
	if opts.DedupWindow > 0 {
		e.opts.DedupWindow = opts.DedupWindow
	}
	if opts.Workers > 0 {
		e.opts.Workers = opts.Workers
	}
	if opts.DefaultMaxPerDay > 0 {
		e.opts.DefaultMaxPerDay = opts.DefaultMaxPerDay
	}
}

func (e *Engine) options() Options {
	e.optsMu.RLock()
	defer e.optsMu.RUnlock()
	return e.opts
}

// RunCycle executes one full admission cycle and returns its report.
//
// Source failures are isolated: a failing source is skipped and the rest of
// the cycle proceeds. Store unavailability is not: once the store can't
// answer, dedup and rate decisions are untrustworthy and the cycle aborts.
func (e *Engine) RunCycle(ctx context.Context) (Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Report{}, ErrCycleRunning
	}
	defer e.running.Store(false)

	now := e.clk.Now()
	rep := Report{Started: now, Rejected: make(map[Decision]int)}

	var cands []Candidate
	for _, src := range e.sources {
		got, err := src.Collect(ctx, now)
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return rep, err
			}
			rep.SourceErrors++
			e.log.Warn("source failed, skipping",
				logx.String("source", src.Name()), logx.Err(err))
			continue
		}
		cands = append(cands, got...)
	}
	rep.Candidates = len(cands)

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	jobs := make(chan Candidate)

	workers := e.options().Workers
	if workers > len(cands) && len(cands) > 0 {
		workers = len(cands)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				err := e.process(cctx, c, now, &rep, &mu)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					cancel()
					return
				}
			}
		}()
	}

feed:
	for _, c := range cands {
		select {
		case jobs <- c:
		case <-cctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	rep.Duration = e.clk.Now().Sub(now)
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.EventCycleFinished, Data: rep})
	}
	e.log.Info("cycle finished",
		logx.Int("candidates", rep.Candidates),
		logx.Int("admitted", rep.Admitted),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Duration))
	return rep, firstErr
}

// process takes one candidate through the gates and, when admitted, through
// persistence and delivery. Only store unavailability is returned as an
// error; everything else is absorbed into the report so one bad candidate
// can't sink the cycle.
func (e *Engine) process(ctx context.Context, c Candidate, now time.Time, rep *Report, mu *sync.Mutex) error {
	rec, err := e.store.GetRecipient(ctx, c.RecipientID)
	if errors.Is(err, store.ErrNotFound) {
		e.log.Warn("candidate for unknown recipient dropped",
			logx.String("recipient", c.RecipientID),
			logx.String("category", c.Category))
		mu.Lock()
		rep.Skipped++
		mu.Unlock()
		if c.ScheduleID != "" {
			if err := e.store.UpdateScheduleStatus(ctx, c.ScheduleID, store.StatusFailed, time.Time{}); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		return nil
	}
	if err != nil {
		return err
	}

	dec, err := e.admit(ctx, rec, now)
	if err != nil {
		return err
	}
	if dec != Admitted {
		mu.Lock()
		rep.Rejected[dec]++
		mu.Unlock()
		// Reminders for opted-out recipients are dead; anything gated by
		// quiet hours or the daily cap stays pending for a later cycle.
		if dec == RejectedOptedOut && c.ScheduleID != "" {
			if err := e.store.CancelSchedule(ctx, c.ScheduleID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		return nil
	}

	fp := c.Fingerprint()
	alert := store.Alert{
		Fingerprint: fp,
		RecipientID: rec.ID,
		Category:    c.Category,
		Message:     renderStored(c),
		CreatedAt:   now,
	}
	inserted, err := e.store.InsertAlertIfNew(ctx, alert, e.options().DedupWindow)
	if err != nil {
		return err
	}
	if !inserted {
		mu.Lock()
		rep.Rejected[RejectedDuplicate]++
		mu.Unlock()
		e.publish(eventbus.EventAlertDeduped, rec.ID, c.Category, fp, "")
		return nil
	}

	mu.Lock()
	rep.Admitted++
	mu.Unlock()
	e.publish(eventbus.EventAlertAdmitted, rec.ID, c.Category, fp, "")

	out, sendErr := e.channel.Send(ctx, rec, delivery.Message{
		Category: c.Category,
		Title:    c.Title,
		Body:     c.Body,
	})
	if sendErr != nil {
		mu.Lock()
		rep.Failed++
		mu.Unlock()
		e.log.Error("delivery failed",
			logx.String("recipient", rec.ID),
			logx.String("category", c.Category),
			logx.Err(sendErr))
		e.publish(eventbus.EventAlertFailed, rec.ID, c.Category, fp, sendErr.Error())
		// The alert row stays with a null sent_at; the dedup window is what
		// keeps the next cycle from re-sending it.
		if c.ScheduleID != "" {
			if err := e.store.UpdateScheduleStatus(ctx, c.ScheduleID, store.StatusFailed, time.Time{}); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		return nil
	}

	mu.Lock()
	rep.Delivered++
	mu.Unlock()
	if err := e.store.MarkAlertSent(ctx, fp, alert.CreatedAt, out.At); err != nil {
		e.log.Warn("mark sent failed", logx.String("fingerprint", fp), logx.Err(err))
	}
	// The daily cap counts deliveries, so the counter moves only after a
	// successful send. A fallback leg is still one delivery.
	if err := e.store.IncrementDailyCount(ctx, rec.ID, clock.DateKey(now)); err != nil {
		e.log.Warn("daily counter increment failed", logx.String("recipient", rec.ID), logx.Err(err))
	}
	e.publish(eventbus.EventAlertSent, rec.ID, c.Category, fp, "")
	e.log.Info("alert delivered",
		logx.String("recipient", rec.ID),
		logx.String("category", c.Category),
		logx.String("method", out.Method))

	if c.ScheduleID != "" {
		if err := e.store.UpdateScheduleStatus(ctx, c.ScheduleID, store.StatusSent, out.At); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if sc, err := e.store.GetSchedule(ctx, c.ScheduleID); err == nil {
			e.reenroll(ctx, sc, out.At)
		}
	}
	return nil
}

func (e *Engine) publish(typ, recipient, category, fp, errMsg string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{
		Type: typ,
		Data: eventbus.AlertEvent{
			Recipient:   recipient,
			Category:    category,
			Fingerprint: fp,
			Error:       errMsg,
		},
	})
}

func renderStored(c Candidate) string {
	if c.Title == "" {
		return c.Body
	}
	return c.Title + "\n" + c.Body
}
