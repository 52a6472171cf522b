package core

import (
	"sync"
	"time"
)

// RateLimitWindow is a sliding-log limiter: at most limit sends are allowed
// within any span of window. Only recorded sends count against it.
type RateLimitWindow struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	timestamps []time.Time
}

// NewRateLimitWindow creates a window allowing limit sends per window.
func NewRateLimitWindow(limit int, window time.Duration) *RateLimitWindow {
	return &RateLimitWindow{limit: limit, window: window}
}

// prune drops timestamps older than the window. Caller holds mu.
func (w *RateLimitWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[i:]...)
	}
}

// Allow reports whether a send at now stays within the limit.
func (w *RateLimitWindow) Allow(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	return len(w.timestamps) < w.limit
}

// Record counts a send made at now.
func (w *RateLimitWindow) Record(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	w.timestamps = append(w.timestamps, now)
}

// Remaining returns how many more sends the window allows at now.
func (w *RateLimitWindow) Remaining(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	if n := w.limit - len(w.timestamps); n > 0 {
		return n
	}
	return 0
}

// Limit returns the configured maximum.
func (w *RateLimitWindow) Limit() int {
	return w.limit
}

// Window returns the configured span.
func (w *RateLimitWindow) Window() time.Duration {
	return w.window
}
