package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy retries transient failures with capped exponential backoff.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction of the computed delay added at random, 0 to 1.
	Jitter float64

	// Transient reports whether err is worth another attempt. A nil hook
	// treats every error as non-transient.
	Transient func(error) bool
	// OnAttempt is called exactly once per attempt with its outcome.
	OnAttempt func(attempt int, elapsed time.Duration, err error)
	// Sleep replaces the context-aware timer wait, for tests.
	Sleep func(context.Context, time.Duration) error
}

// Hinted is implemented by errors that carry a server-requested wait,
// such as a Retry-After header.
type Hinted interface {
	RetryHint() time.Duration
}

// Default returns a policy with three attempts, a 1s base and a 30s cap.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.25,
	}
}

// Delay returns the backoff before the attempt following attempt (0-based),
// before jitter: base * 2^attempt capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) withJitter(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	j := time.Duration(float64(d) * p.Jitter * rand.Float64())
	if p.MaxDelay > 0 && d+j > p.MaxDelay {
		return p.MaxDelay
	}
	return d + j
}

// Do runs fn until it succeeds, fails non-transiently, or runs out of
// attempts. It returns the last error and the time spent in backoff.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (time.Duration, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var (
		backoff time.Duration
		err     error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		start := time.Now()
		err = fn(ctx, attempt)
		if p.OnAttempt != nil {
			p.OnAttempt(attempt+1, time.Since(start), err)
		}
		if err == nil {
			return backoff, nil
		}
		if p.Transient == nil || !p.Transient(err) || attempt == attempts-1 {
			return backoff, err
		}

		d := p.withJitter(p.Delay(attempt))
		var h Hinted
		if errors.As(err, &h) && h.RetryHint() > d {
			d = h.RetryHint()
			if p.MaxDelay > 0 && d > p.MaxDelay {
				d = p.MaxDelay
			}
		}
		if serr := sleep(ctx, d); serr != nil {
			return backoff, err
		}
		backoff += d
	}
	return backoff, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
