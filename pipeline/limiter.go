package pipeline

import (
	"sync"
	"time"

	"github.com/reelforge/reelforge/errors"
)

// StepLimiter caps pipeline step starts per minute across all workers using
// a sliding window. Keeps a burst of claimed jobs from hammering the
// upstream generation providers all at once.
type StepLimiter struct {
	maxPerMinute int
	window       time.Duration
	mu           sync.Mutex
	startTimes   []time.Time
	timeNow      func() time.Time // Injectable for testing
}

// NewStepLimiter creates a step limiter with real time. maxPerMinute <= 0
// means unlimited.
func NewStepLimiter(maxPerMinute int) *StepLimiter {
	return NewStepLimiterWithClock(maxPerMinute, time.Now)
}

// NewStepLimiterWithClock creates a step limiter with injectable clock (for testing)
func NewStepLimiterWithClock(maxPerMinute int, timeNow func() time.Time) *StepLimiter {
	return &StepLimiter{
		maxPerMinute: maxPerMinute,
		window:       60 * time.Second,
		timeNow:      timeNow,
	}
}

// Allow checks if a step start is allowed under the limit.
// Returns error if the limit is exceeded.
func (l *StepLimiter) Allow() error {
	if l.maxPerMinute <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	l.removeExpired(now)

	if len(l.startTimes) >= l.maxPerMinute {
		return errors.Newf("step rate limit exceeded: %d starts per minute (limit: %d)",
			len(l.startTimes), l.maxPerMinute)
	}

	l.startTimes = append(l.startTimes, now)
	return nil
}

// removeExpired drops start timestamps outside the sliding window.
// Must be called with lock held.
func (l *StepLimiter) removeExpired(now time.Time) {
	cutoff := now.Add(-l.window)

	expired := 0
	for _, t := range l.startTimes {
		if !t.After(cutoff) {
			expired++
		} else {
			break
		}
	}

	l.startTimes = l.startTimes[expired:]
}

// Stats returns current limiter statistics.
func (l *StepLimiter) Stats() (startsInWindow int, remaining int) {
	if l.maxPerMinute <= 0 {
		return 0, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.removeExpired(l.timeNow())

	startsInWindow = len(l.startTimes)
	remaining = l.maxPerMinute - startsInWindow
	if remaining < 0 {
		remaining = 0
	}
	return startsInWindow, remaining
}
