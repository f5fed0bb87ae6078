package ratelimit

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// Window is the rolling admission window the RPM budget applies to.
const Window = time.Minute

// Limiter admits operations at a fixed requests-per-minute rate. A token
// bucket smooths the rate and a rolling admission log guarantees that no
// 60 second window ever sees more than RPM admissions, even with bursts.
// It is safe for concurrent use by multiple goroutines.
type Limiter struct {
	rpm    int
	burst  int
	jitter float64
	bucket *rate.Limiter

	// turn serializes acquirers so the bucket and the admission log are
	// updated together. Waiters are admitted roughly in arrival order.
	turn     chan struct{}
	admitted []time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithBurst sets the bucket capacity. It is clamped to [1, rpm].
func WithBurst(n int) Option {
	return func(l *Limiter) { l.burst = n }
}

// WithJitter adds a random extra delay of up to f times the refill interval
// after each admission wait. f is clamped to [0, 1].
func WithJitter(f float64) Option {
	return func(l *Limiter) { l.jitter = f }
}

// WithClock replaces the wall clock and sleep function, for tests.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(l *Limiter) {
		l.now = now
		l.sleep = sleep
	}
}

// NewLimiter creates a limiter admitting rpm operations per minute.
// If rpm is <= 0, the limiter does not block.
func NewLimiter(rpm int, opts ...Option) *Limiter {
	l := &Limiter{
		rpm:   rpm,
		burst: 1,
		turn:  make(chan struct{}, 1),
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	if rpm <= 0 {
		return l
	}

	if l.burst < 1 {
		l.burst = 1
	} else if l.burst > rpm {
		l.burst = rpm
	}
	if l.jitter < 0 {
		l.jitter = 0
	} else if l.jitter > 1 {
		l.jitter = 1
	}

	l.bucket = rate.NewLimiter(rate.Limit(float64(rpm)/Window.Seconds()), l.burst)
	l.admitted = make([]time.Time, 0, rpm)
	return l
}

// RPM returns the configured requests-per-minute budget.
func (l *Limiter) RPM() int { return l.rpm }

// Acquire blocks until one token is available and consumes it, or until the
// context is canceled. It returns how long the caller waited.
func (l *Limiter) Acquire(ctx context.Context) (time.Duration, error) {
	if l.bucket == nil {
		return 0, nil
	}

	start := l.now()
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-l.turn }()

	if d := l.windowDelay(l.now()); d > 0 {
		if err := l.sleep(ctx, d); err != nil {
			return l.now().Sub(start), err
		}
	}

	now := l.now()
	r := l.bucket.ReserveN(now, 1)
	if d := r.DelayFrom(now) + l.jitterDelay(); d > 0 {
		if err := l.sleep(ctx, d); err != nil {
			r.CancelAt(l.now())
			return l.now().Sub(start), err
		}
	}

	at := l.now()
	l.record(at)
	return at.Sub(start), nil
}

// windowDelay returns how long to wait before another admission fits into
// the closed rolling window ending at now. The oldest admission must be
// strictly more than Window old.
func (l *Limiter) windowDelay(now time.Time) time.Duration {
	if len(l.admitted) < l.rpm {
		return 0
	}
	return l.admitted[0].Add(Window).Sub(now) + time.Nanosecond
}

func (l *Limiter) record(at time.Time) {
	if len(l.admitted) == l.rpm {
		copy(l.admitted, l.admitted[1:])
		l.admitted = l.admitted[:l.rpm-1]
	}
	l.admitted = append(l.admitted, at)
}

func (l *Limiter) jitterDelay() time.Duration {
	if l.jitter == 0 {
		return 0
	}
	interval := float64(Window) / float64(l.rpm)
	return time.Duration(interval * l.jitter * rand.Float64())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
