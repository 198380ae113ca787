package broker

import (
	"context"
	"sync"
	"time"
)

// Endpoint categories with distinct request budgets
const (
	CategoryData       = "data"
	CategoryTrading    = "trading"
	CategoryHistorical = "historical"
)

const rateWindow = 60 * time.Second

// SlidingWindowLimiter enforces per-category request budgets over a
// rolling 60-second window. Requests wait for a free slot instead of
// failing, so the venue never sees the burst.
type SlidingWindowLimiter struct {
	mu      sync.Mutex
	limits  map[string]int
	windows map[string][]time.Time
	now     func() time.Time
}

// NewSlidingWindowLimiter creates a limiter with per-category budgets
// (requests per minute)
func NewSlidingWindowLimiter(limits map[string]int) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		limits:  limits,
		windows: make(map[string][]time.Time, len(limits)),
		now:     time.Now,
	}
}

// NewIGLimiter returns a limiter with IG's published per-category budgets
func NewIGLimiter() *SlidingWindowLimiter {
	return NewSlidingWindowLimiter(map[string]int{
		CategoryData:       60,
		CategoryTrading:    15,
		CategoryHistorical: 30,
	})
}

// Acquire blocks until a request slot is free in the category
func (l *SlidingWindowLimiter) Acquire(ctx context.Context, category string) error {
	for {
		wait, ok := l.tryAcquire(category)
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tryAcquire claims a slot if one is free, otherwise returns how long to
// wait for the oldest timestamp to fall out of the window
func (l *SlidingWindowLimiter) tryAcquire(category string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit, ok := l.limits[category]
	if !ok {
		limit = 60
	}

	now := l.now()
	window := l.windows[category]

	// Prune timestamps older than the window
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	window = window[i:]

	if len(window) < limit {
		l.windows[category] = append(window, now)
		return 0, true
	}

	l.windows[category] = window
	return window[0].Add(rateWindow).Sub(now) + 50*time.Millisecond, false
}

// Pending returns the current in-window request count for a category
func (l *SlidingWindowLimiter) Pending(category string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-rateWindow)
	n := 0
	for _, ts := range l.windows[category] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
