// Package trigger drives periodic work off a cron scheduler. The engine's
// admission cycle is registered here as an interval job; overlapping runs are
// skipped rather than queued, which pairs with the engine's own
// one-cycle-at-a-time guard.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindd/pkg/logx"
)

type Trigger struct {
	cron *cron.Cron
	log  logx.Logger
	jobs map[string]cron.EntryID
}

func New(log logx.Logger) *Trigger {
	if log.IsZero() {
		log = logx.Nop()
	}
	cl := cronLogger{log: log}
	return &Trigger{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		log:  log,
		jobs: make(map[string]cron.EntryID),
	}
}

// AddInterval registers fn to run every d. Re-registering a name replaces the
// previous job, which is how config reload retunes the cycle interval.
func (t *Trigger) AddInterval(name string, d time.Duration, fn func()) error {
	if d <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	if old, ok := t.jobs[name]; ok {
		t.cron.Remove(old)
	}
	id, err := t.cron.AddFunc(fmt.Sprintf("@every %s", d), fn)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	t.jobs[name] = id
	t.log.Debug("job registered", logx.String("job", name), logx.Duration("every", d))
	return nil
}

func (t *Trigger) Start() { t.cron.Start() }

// Stop halts scheduling and waits for running jobs, bounded by ctx.
func (t *Trigger) Stop(ctx context.Context) error {
	done := t.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts the structured logger to cron's logging interface.
type cronLogger struct{ log logx.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
