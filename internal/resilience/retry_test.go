package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Base: time.Millisecond, Cap: 5 * time.Millisecond}
}

func TestDo_FirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("busy"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(4), func(context.Context) error {
		calls++
		return NewTransientError(errors.New("down"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, "down", err.Error())
	assert.Equal(t, 4, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomRetryable(t *testing.T) {
	calls := 0
	p := fastPolicy(3)
	p.Retryable = func(error) bool { return true }
	_ = Do(context.Background(), p, func(context.Context) error {
		calls++
		return errors.New("anything")
	})
	assert.Equal(t, 3, calls)
}

func TestDo_OnRetry(t *testing.T) {
	var attempts []int
	p := fastPolicy(3)
	p.OnRetry = func(n int, _ error) { attempts = append(attempts, n) }
	_ = Do(context.Background(), p, func(context.Context) error {
		return NewTransientError(errors.New("x"), 502)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := Policy{Attempts: 5, Base: time.Hour, Cap: time.Hour, Clock: clock}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	calls := 0
	go func() {
		done <- Do(ctx, p, func(context.Context) error {
			calls++
			return NewTransientError(errors.New("wait"), 503)
		})
	}()

	clock.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestDo_FakeClockAdvancesBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := Policy{Attempts: 2, Base: time.Minute, Cap: time.Minute, Clock: clock}

	done := make(chan error, 1)
	calls := 0
	go func() {
		done <- Do(context.Background(), p, func(context.Context) error {
			calls++
			if calls == 1 {
				return NewTransientError(errors.New("once"), 503)
			}
			return nil
		})
	}()

	clock.BlockUntil(1)
	clock.Advance(2 * time.Minute)

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not resume after advancing the clock")
	}
}

func TestDoVal(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("flaky"), 429)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	v, err = DoVal(context.Background(), fastPolicy(2), func(context.Context) (string, error) {
		return "partial", errors.New("permanent")
	})
	require.Error(t, err)
	assert.Empty(t, v)
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Cap: time.Second}
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, time.Second, p.Delay(10))

	p.Jitter = 0.5
	for range 50 {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestPolicyWithAttempts(t *testing.T) {
	assert.Equal(t, 7, DefaultPolicy().WithAttempts(7).Attempts)
	assert.Equal(t, 3, DefaultPolicy().WithAttempts(0).Attempts)
}
