package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Policy controls how a remote operation is retried: exponential backoff
// with jitter, capped, on transient errors only.
type Policy struct {
	// Attempts is the total number of tries including the first. Default: 3.
	Attempts int

	// Base is the delay before the first retry. Default: 500ms.
	Base time.Duration

	// Cap bounds any single delay. Default: 30s.
	Cap time.Duration

	// Jitter spreads each delay by ±Jitter of itself. Default: 0.25.
	Jitter float64

	// Retryable overrides IsTransient when set.
	Retryable func(err error) bool

	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, err error)

	// Clock drives the backoff timer. Default: the real clock.
	Clock clockwork.Clock
}

// DefaultPolicy returns the policy used for fetching remote source files.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 3,
		Base:     500 * time.Millisecond,
		Cap:      30 * time.Second,
		Jitter:   0.25,
	}
}

// WithAttempts returns a copy of p with Attempts set when n > 0.
func (p Policy) WithAttempts(n int) Policy {
	if n > 0 {
		p.Attempts = n
	}
	return p
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.Cap <= 0 {
		p.Cap = 30 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	if p.Clock == nil {
		p.Clock = clockwork.NewRealClock()
	}
	return p
}

// Delay returns the backoff before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := float64(p.Base) * math.Pow(2, float64(attempt))
	if d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, fails permanently, the attempts run out or
// ctx is done. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for operations that produce a value.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var zero T
	var lastErr error
	for attempt := range p.Attempts {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !p.Retryable(err) || attempt == p.Attempts-1 {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}

		select {
		case <-ctx.Done():
			return zero, lastErr
		case <-p.Clock.After(p.Delay(attempt)):
		}
	}
	return zero, lastErr
}

// LogRetry returns an OnRetry callback that logs each retry.
func LogRetry(component, target string) func(int, error) {
	log := zap.L().With(zap.String("component", component))
	return func(attempt int, err error) {
		log.Warn("retrying",
			zap.String("target", target),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
