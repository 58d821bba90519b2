package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	at    time.Time
	slept []time.Duration
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	c.at = c.at.Add(d)
	return nil
}

func (c *fakeClock) Now() time.Time { return c.at }

func (c *fakeClock) total() time.Duration {
	var t time.Duration
	for _, d := range c.slept {
		t += d
	}
	return t
}

func TestDo_ExhaustionSleepsExactBudget(t *testing.T) {
	clock := &fakeClock{}
	p := Policy{Interval: time.Second, MaxAttempts: 30, Sleep: clock.Sleep}
	probeErr := errors.New("connection refused")

	calls := 0
	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return probeErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, probeErr)
	assert.Equal(t, 30, attempts)
	assert.Equal(t, 30, calls)
	assert.Len(t, clock.slept, 30)
	assert.Equal(t, 30*time.Second, clock.total())
	assert.Equal(t, p.Budget(), clock.total())
}

func TestDo_EarlySuccess(t *testing.T) {
	clock := &fakeClock{}
	p := Policy{Interval: time.Second, MaxAttempts: 5, Sleep: clock.Sleep}

	attempts, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2*time.Second, clock.total(), "no sleep after the successful attempt")
}

func TestDo_PacedDeductsAttemptTime(t *testing.T) {
	clock := &fakeClock{at: time.Unix(0, 0)}
	p := Policy{Interval: time.Second, MaxAttempts: 3, Paced: true, Sleep: clock.Sleep, Now: clock.Now}
	start := clock.Now()

	// every attempt hangs for most of the interval, the last one for longer
	costs := []time.Duration{400 * time.Millisecond, 900 * time.Millisecond, 1500 * time.Millisecond}
	attempts, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		clock.at = clock.at.Add(costs[attempt-1])
		return errors.New("timeout")
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{600 * time.Millisecond, 100 * time.Millisecond, 0}, clock.slept)
	assert.Equal(t, 3300*time.Millisecond, clock.Now().Sub(start))
}

func TestDo_FirstAttemptSucceeds(t *testing.T) {
	clock := &fakeClock{}
	attempts, err := Policy{Interval: time.Second, MaxAttempts: 1, Sleep: clock.Sleep}.Do(context.Background(), func(context.Context, int) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, clock.slept)
}

func TestDo_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{Interval: time.Hour, MaxAttempts: 10, Sleep: func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}}
	attempts, err := p.Do(ctx, func(context.Context, int) error {
		calls++
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDo_InvalidPolicy(t *testing.T) {
	_, err := Policy{Interval: time.Second}.Do(context.Background(), func(context.Context, int) error { return nil })
	assert.Error(t, err)
}

func TestSleep_RealTimer(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
