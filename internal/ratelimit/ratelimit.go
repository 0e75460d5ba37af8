// Package ratelimit enforces a minimum interval between outbound API calls.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"notepub/internal/clock"
)

// ErrReservation is returned when the underlying limiter refuses a token.
var ErrReservation = errors.New("rate limiter refused reservation")

// Limiter serializes dispatches so consecutive ones are at least the
// configured interval apart. One Limiter is shared per origin.
type Limiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	clock    clock.Clock
	interval time.Duration
	last     time.Time
}

// New creates a limiter. A nil clock means the wall clock.
func New(interval time.Duration, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.System{}
	}

	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	return &Limiter{
		limiter:  rate.NewLimiter(limit, 1),
		clock:    clk,
		interval: interval,
	}
}

// Acquire blocks until the caller may dispatch and records the dispatch
// time. Callers are served one at a time in arrival order.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		return ErrReservation
	}

	delay := r.DelayFrom(now)
	if wait := l.last.Add(l.interval).Sub(now); !l.last.IsZero() && wait > delay {
		delay = wait
	}

	if delay > 0 {
		if err := l.clock.Sleep(ctx, delay); err != nil {
			r.CancelAt(now)
			return err
		}
	}

	l.last = l.clock.Now()

	return nil
}

// LastDispatch returns the time recorded by the most recent Acquire.
func (l *Limiter) LastDispatch() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.last
}
