// Package retry runs an operation a bounded number of times with a fixed
// pause after every failure.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrExhausted = errors.New("retry attempts exhausted")

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy sleeps Interval after every failed attempt, including the last, so
// an exhausted run sleeps exactly MaxAttempts × Interval.
//
// With Paced set, the time fn spent is deducted from the pause that follows
// it. Attempts then start on a fixed Interval cadence and an exhausted run
// takes MaxAttempts × Interval of wall time as long as no attempt outlasts
// Interval.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	Paced       bool
	Sleep       Sleeper          // nil uses a timer
	Now         func() time.Time // nil uses time.Now; only read when Paced
}

// Budget is the total sleep of an exhausted run.
func (p Policy) Budget() time.Duration { return time.Duration(p.MaxAttempts) * p.Interval }

// Do calls fn until it succeeds or attempts run out. It returns the number of
// attempts made. On exhaustion the error wraps both ErrExhausted and the last
// failure; on cancellation it wraps ctx.Err().
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	if p.MaxAttempts <= 0 {
		return 0, fmt.Errorf("retry: max attempts must be positive, got %d", p.MaxAttempts)
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, errors.Join(err, last)
		}
		var began time.Time
		if p.Paced {
			began = now()
		}
		if last = fn(ctx, attempt); last == nil {
			return attempt, nil
		}
		pause := p.Interval
		if p.Paced {
			pause = max(p.Interval-now().Sub(began), 0)
		}
		if err := sleep(ctx, pause); err != nil {
			return attempt, errors.Join(err, last)
		}
	}
	return p.MaxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, last)
}

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
