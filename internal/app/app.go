// Package app wires the daemon together: storage, delivery channel, sources,
// admission engine, cycle trigger, and config reload. It also exposes the
// operations surface (schedules, opt-out, recipients, events) that the
// command layer calls.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindd/internal/clock"
	"remindd/internal/config"
	"remindd/internal/delivery"
	"remindd/internal/delivery/telegram"
	"remindd/internal/engine"
	"remindd/internal/eventbus"
	"remindd/internal/runtime/supervisor"
	"remindd/internal/source"
	"remindd/internal/store"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

const cycleJob = "admission-cycle"

type App struct {
	cfg    *config.Config
	log    logx.Logger
	logSvc *logx.Service

	store    store.Store
	channel  delivery.Channel
	calendar *source.Calendar
	engine   *engine.Engine
	trig     *trigger.Trigger
	bus      eventbus.Bus
	clk      clock.Clock

	cycleInterval time.Duration
}

func New(cfg *config.Config, logSvc *logx.Service, log logx.Logger) (*App, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	clk := clock.System{}
	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("component", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	channel, err := buildChannel(cfg.Channel, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var (
		sources  []engine.Source
		calendar *source.Calendar
	)
	sources = append(sources, source.NewSchedules(st, log.With(logx.String("source", "schedules"))))
	if cfg.Calendar.Enabled {
		lead := cfg.Calendar.LeadMinutes
		if lead <= 0 {
			lead = config.DefaultLeadMinutes
		}
		calendar = source.NewCalendar(lead, log.With(logx.String("source", "calendar")))
		sources = append(sources, calendar)
	}
	if cfg.Search.Enabled {
		timeout, err := config.ParseDurationField("search.timeout", cfg.Search.Timeout)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		client := source.NewSearchClient(source.SearchConfig{
			BaseURL:    cfg.Search.BaseURL,
			APIKey:     cfg.Search.APIKey,
			MaxResults: cfg.Search.MaxResults,
			Timeout:    timeout,
		})
		sources = append(sources, source.NewSearch(client, st, log.With(logx.String("source", "search"))))
	}

	opts, cycleEvery, err := engineOptions(cfg.Engine)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	eng := engine.New(st, channel, sources, clk, bus, log.With(logx.String("component", "engine")), opts)

	a := &App{
		cfg:           cfg,
		log:           log,
		logSvc:        logSvc,
		store:         st,
		channel:       channel,
		calendar:      calendar,
		engine:        eng,
		trig:          trigger.New(log.With(logx.String("component", "trigger"))),
		bus:           bus,
		clk:           clk,
		cycleInterval: cycleEvery,
	}
	return a, nil
}

func buildChannel(cfg config.ChannelConfig, log logx.Logger) (delivery.Channel, error) {
	sendTimeout, err := config.ParseDurationOrDefault("channel.send_timeout", cfg.SendTimeout, config.DefaultSendTimeout)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "telegram":
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Token,
			SendTimeout: sendTimeout,
		}, log.With(logx.String("channel", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		return delivery.RateLimited(tg, cfg.RatePerSec), nil
	case "mock":
		return delivery.NewMock(log.With(logx.String("channel", "mock"))), nil
	default:
		return nil, fmt.Errorf("unknown channel driver %q", cfg.Driver)
	}
}

func engineOptions(cfg config.EngineConfig) (engine.Options, time.Duration, error) {
	dedup, err := config.ParseDurationOrDefault("engine.dedup_window", cfg.DedupWindow, config.DefaultDedupWindow)
	if err != nil {
		return engine.Options{}, 0, err
	}
	every, err := config.ParseDurationOrDefault("engine.cycle_interval", cfg.CycleInterval, config.DefaultCycleInterval)
	if err != nil {
		return engine.Options{}, 0, err
	}
	return engine.Options{
		DedupWindow:      dedup,
		Workers:          cfg.Workers,
		DefaultMaxPerDay: cfg.DefaultMaxPerDay,
	}, every, nil
}

// Bus exposes the internal event stream (cycle reports, alert lifecycle).
func (a *App) Bus() eventbus.Bus { return a.bus }

// Run starts the periodic cycle and, when cfgPath is non-empty, the config
// watcher. It blocks until ctx is cancelled, then shuts down in order:
// trigger first so no new cycle starts, store last.
func (a *App) Run(ctx context.Context, cfgPath string) error {
	if err := a.trig.AddInterval(cycleJob, a.cycleInterval, func() {
		if _, err := a.engine.RunCycle(context.Background()); err != nil && !errors.Is(err, engine.ErrCycleRunning) {
			a.log.Error("admission cycle failed", logx.Err(err))
		}
	}); err != nil {
		return err
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(a.log))

	if cfgPath != "" {
		watcher := config.NewWatcher(cfgPath, a.cfg, a.log.With(logx.String("component", "config")), a.applyConfig)
		sup.Go("config-watch", watcher.Watch)
	}

	a.trig.Start()
	a.log.Info("started", logx.Duration("cycle_interval", a.cycleInterval))

	<-ctx.Done()
	a.log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.trig.Stop(stopCtx); err != nil {
		a.log.Warn("trigger stop timed out", logx.Err(err))
	}
	_ = sup.Wait(stopCtx)

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	return nil
}

// applyConfig handles a validated config reload. Storage and channel drivers
// are fixed for the process lifetime; logging and engine tunables take effect
// live, and a changed cycle interval re-registers the cron job.
func (a *App) applyConfig(cfg *config.Config) {
	if a.logSvc != nil {
		a.logSvc.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
	}

	opts, every, err := engineOptions(cfg.Engine)
	if err != nil {
		a.log.Warn("reloaded engine config rejected", logx.Err(err))
		return
	}
	a.engine.SetOptions(opts)

	if every != a.cycleInterval {
		if err := a.trig.AddInterval(cycleJob, every, func() {
			if _, err := a.engine.RunCycle(context.Background()); err != nil && !errors.Is(err, engine.ErrCycleRunning) {
				a.log.Error("admission cycle failed", logx.Err(err))
			}
		}); err != nil {
			a.log.Warn("cycle interval update failed", logx.Err(err))
			return
		}
		a.cycleInterval = every
		a.log.Info("cycle interval updated", logx.Duration("every", every))
	}
}
