// Package ratelimit tracks outbound embedding requests so bulk cache builds
// stay under the provider's requests-per-minute quota.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultMaxRequests is the request count that marks the window overloaded
	DefaultMaxRequests = 1800
	// DefaultWindow is the trailing window requests are counted over
	DefaultWindow = 60 * time.Second
)

// Never is returned by SinceLast when no request was recorded yet
const Never = time.Duration(math.MaxInt64)

// Limiter is a timestamp log shared by all concurrent embedding calls.
// Entries older than the window are pruned lazily on Record.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

// New creates a limiter that reports overload at max requests per window
func New(max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// NewDefault creates a limiter with the 1800 requests per minute quota
func NewDefault() *Limiter {
	return New(DefaultMaxRequests, DefaultWindow)
}

// WithClock replaces the time source, used by tests
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
	return l
}

// Record logs one outbound request
func (l *Limiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.stamps = append(l.stamps, now)

	// Prune only when the log has grown well past the quota so Record stays O(1) amortized
	if len(l.stamps) > 2*l.max {
		l.prune(now)
	}
}

// Overloaded reports whether at least max requests happened in the trailing window
func (l *Limiter) Overloaded() bool {
	return l.Recent() >= l.max
}

// Recent returns the number of requests inside the trailing window
func (l *Limiter) Recent() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	count := 0
	for i := len(l.stamps) - 1; i >= 0; i-- {
		if l.stamps[i].Before(cutoff) {
			break
		}
		count++
	}
	return count
}

// SinceLast returns the time elapsed since the most recent request, or Never
func (l *Limiter) SinceLast() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.stamps) == 0 {
		return Never
	}
	return l.now().Sub(l.stamps[len(l.stamps)-1])
}

// prune drops timestamps older than the window; caller holds mu
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && l.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}
