package integration

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watch trigger waits for the file system to
// go quiet before running a cycle.
const DefaultDebounce = 500 * time.Millisecond

// CycleFunc runs one processing cycle. It must be safe to call from several
// triggers at once.
type CycleFunc func(ctx context.Context) error

// Trigger runs cycles until its context is cancelled.
type Trigger interface {
	Run(ctx context.Context) error
}

// IntervalTrigger runs a cycle every interval. After a failed cycle it waits
// a fixed backoff instead.
type IntervalTrigger struct {
	cycle    CycleFunc
	interval time.Duration
	backoff  time.Duration
	logger   *slog.Logger

	// wait blocks for d and reports false if ctx ended first.
	wait func(ctx context.Context, d time.Duration) bool
}

// NewIntervalTrigger creates an IntervalTrigger. A nil logger discards log
// output.
func NewIntervalTrigger(cycle CycleFunc, interval, backoff time.Duration, logger *slog.Logger) *IntervalTrigger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &IntervalTrigger{
		cycle:    cycle,
		interval: interval,
		backoff:  backoff,
		logger:   logger,
		wait:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Run runs the first cycle immediately. It returns nil once ctx is done.
func (t *IntervalTrigger) Run(ctx context.Context) error {
	t.logger.Info("interval trigger started", "interval", t.interval, "backoff", t.backoff)
	for {
		if ctx.Err() != nil {
			return nil
		}

		next := t.interval
		if err := t.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.logger.Error("cycle failed, backing off", "error", err, "backoff", t.backoff)
			next = t.backoff
		}

		if !t.wait(ctx, next) {
			return nil
		}
	}
}

// WatchTrigger runs a cycle when records appear in the watched folders.
// Bursts of events are coalesced into one cycle.
type WatchTrigger struct {
	cycle    CycleFunc
	dirs     []string
	debounce time.Duration
	logger   *slog.Logger
	ready    chan struct{}
}

// NewWatchTrigger creates a WatchTrigger over dirs. A non-positive debounce
// selects DefaultDebounce.
func NewWatchTrigger(cycle CycleFunc, dirs []string, debounce time.Duration, logger *slog.Logger) *WatchTrigger {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WatchTrigger{
		cycle:    cycle,
		dirs:     dirs,
		debounce: debounce,
		logger:   logger,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once every directory is being watched.
func (t *WatchTrigger) Ready() <-chan struct{} {
	return t.ready
}

func (t *WatchTrigger) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer w.Close()

	for _, dir := range t.dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	close(t.ready)
	t.logger.Info("watch trigger started", "dirs", len(t.dirs))

	timer := time.NewTimer(t.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevantEvent(ev) {
				continue
			}
			t.logger.Debug("record changed", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(t.debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("file watcher error", "error", err)

		case <-timer.C:
			if err := t.cycle(ctx); err != nil && ctx.Err() == nil {
				t.logger.Error("cycle failed", "error", err)
			}
		}
	}
}

// relevantEvent reports whether ev is a visible record being created or
// written. Claims and temp files start with a dot.
func relevantEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	name := filepath.Base(ev.Name)
	return !strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".md")
}
