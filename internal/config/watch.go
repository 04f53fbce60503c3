package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "sheetbot/pkg/logx"
)

// Watcher periodically re-samples the environment-backed Schedule and
// publishes changed samples. Polling is the baseline (the environment can
// change underneath us without any file event); when the settings come from a
// dotenv file, an fsnotify watch on that file makes edits apply immediately
// instead of waiting for the next tick.
type Watcher struct {
	envPath string
	log     logx.Logger

	mu  sync.RWMutex
	cur Schedule

	out chan Schedule
}

func NewWatcher(envPath string, initial Schedule, log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{
		envPath: envPath,
		log:     log,
		cur:     initial,
		out:     make(chan Schedule, 1),
	}
}

// Current returns the last good sample.
func (w *Watcher) Current() Schedule {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Updates delivers changed samples. Slow consumers only ever lose
// intermediate values, never the newest one.
func (w *Watcher) Updates() <-chan Schedule { return w.out }

// Resample forces an immediate environment re-sample, outside the normal
// poll/event cadence. Used by the daily reload.
func (w *Watcher) Resample() { w.sample() }

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	events := w.watchDotenv(ctx)

	// debounce to avoid partial writes
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
		timer = time.AfterFunc(250*time.Millisecond, func() {
			if ctx.Err() == nil {
				w.sample()
			}
		})
	}

	for {
		interval := w.Current().PollInterval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			w.sample()
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.log.Debug("env file change detected; scheduling re-sample", logx.String("path", w.envPath))
			debounce()
		}
	}
}

func (w *Watcher) sample() {
	if err := LoadDotenv(w.envPath); err != nil {
		w.log.Warn("dotenv reload failed; keeping previous settings", logx.String("path", w.envPath), logx.Err(err))
		return
	}
	next, err := FromEnv()
	if err != nil {
		w.log.Warn("config sample rejected; keeping previous settings", logx.Err(err))
		return
	}

	w.mu.Lock()
	changed := !w.cur.Equal(next)
	if changed {
		w.cur = next
	}
	w.mu.Unlock()

	if !changed {
		return
	}

	w.log.Info("schedule settings changed",
		logx.String("morning", next.Morning.String()),
		logx.String("evening", next.Evening.String()),
		logx.String("tz", next.Timezone),
	)

	// Deliver the newest value; drop a stale undelivered one if needed.
	for {
		select {
		case w.out <- next:
			return
		default:
			select {
			case <-w.out:
			default:
			}
		}
	}
}

// watchDotenv sets up an fsnotify watch on the dotenv file's directory.
// Returns a nil channel (blocks forever in select) when watching is not
// possible; polling still covers that case.
func (w *Watcher) watchDotenv(ctx context.Context) <-chan struct{} {
	path := strings.TrimSpace(w.envPath)
	if path == "" {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn("env watch init failed; relying on polling", logx.Err(err))
		return nil
	}
	// Watch the directory: editors replace the file, which drops a direct watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		w.log.Warn("env watch add failed; relying on polling", logx.Err(err), logx.String("path", path))
		return nil
	}

	events := make(chan struct{}, 1)
	base := filepath.Base(path)
	go func() {
		defer fw.Close()
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if !strings.EqualFold(filepath.Base(ev.Name), base) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) == 0 {
					continue
				}
				select {
				case events <- struct{}{}:
				default:
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				if err != nil {
					w.log.Warn("env watch error", logx.Err(err))
				}
			}
		}
	}()
	return events
}
