package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "remindd/pkg/logx"
)

// Watcher reloads the config file on change and hands validated configs to a
// callback. Invalid configs are logged and dropped; the last good config
// stays committed (validation-before-commit).
type Watcher struct {
	path string
	log  logx.Logger

	mu  sync.RWMutex
	cfg *Config

	onChange func(*Config)
}

func NewWatcher(path string, initial *Config, log logx.Logger, onChange func(*Config)) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{path: path, cfg: initial, log: log, onChange: onChange}
}

func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Watch blocks until ctx is done, reloading the file on write events.
// Reloads are debounced to avoid reacting to partial editor writes.
func (w *Watcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return err
	}
	w.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() { w.reload() })
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			// Compare by basename (robust across absolute/relative paths).
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce()
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				w.log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
			}
		}
	}
}

func (w *Watcher) reload() {
	b, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("config reload read failed", logx.String("path", w.path), logx.Err(err))
		return
	}
	cfg, err := Parse(w.path, b)
	if err != nil {
		w.log.Warn("config reload parse failed", logx.String("path", w.path), logx.Err(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.log.Warn("config rejected", logx.String("path", w.path), logx.Err(err))
		return
	}

	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(cfg)
	}
	w.log.Info("config reloaded", logx.String("path", w.path))
}
