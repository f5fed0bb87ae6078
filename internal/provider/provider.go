package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/FranksOps/seedling/internal/audit"
	"github.com/FranksOps/seedling/internal/cache"
	"github.com/FranksOps/seedling/internal/metrics"
	"github.com/FranksOps/seedling/pkg/ratelimit"
	"github.com/FranksOps/seedling/pkg/retry"
)

// Request is implemented by every provider request. CacheKey must be a
// deterministic encoding of the normalized request parameters.
type Request interface {
	CacheKey() string
}

// Transport is the provider-specific part of a data source: one raw call
// and a parser for its payload. It carries no governance of its own.
type Transport[Req Request, Resp any] interface {
	Name() string
	RawCall(ctx context.Context, req Req) ([]byte, error)
	Parse(payload []byte) (Resp, error)
}

// Observer receives per-call accounting. The pipeline's stats implement it.
type Observer interface {
	ObserveCall(rec *audit.Record)
	ObserveWait(provider string, d time.Duration)
	ObserveBackoff(provider string, d time.Duration)
}

// Options are the shared governance components for one provider.
type Options struct {
	Limiter   *ratelimit.Limiter
	Cache     *cache.Cache
	TTL       time.Duration
	Retry     retry.Policy
	Audit     audit.Sink
	QuotaCost int
	RunID     string
	Observer  Observer
	Logger    *slog.Logger
}

// Access wraps a Transport with caching, rate limiting, retries and
// auditing. Concurrent fetches of the same request share one call.
type Access[Req Request, Resp any] struct {
	t      Transport[Req, Resp]
	opts   Options
	log    *slog.Logger
	group  singleflight.Group
	halted atomic.Pointer[Error]
}

// New composes governance around t.
func New[Req Request, Resp any](t Transport[Req, Resp], opts Options) *Access[Req, Resp] {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewMemory()
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewLimiter(0)
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	return &Access[Req, Resp]{
		t:    t,
		opts: opts,
		log:  log.With("provider", t.Name()),
	}
}

// Name returns the provider name.
func (a *Access[Req, Resp]) Name() string { return a.t.Name() }

// Halted returns the error that stopped the provider for this run, if any.
func (a *Access[Req, Resp]) Halted() error {
	if h := a.halted.Load(); h != nil {
		return h
	}
	return nil
}

// Fetch returns the parsed response for req. A valid cache entry is served
// without consuming a rate limit token. Every error is a *Error.
func (a *Access[Req, Resp]) Fetch(ctx context.Context, req Req) (Resp, error) {
	var zero Resp
	name := a.t.Name()
	key := cache.Key(name, req.CacheKey())

	if resp, ok := a.fromCache(ctx, key, req); ok {
		return resp, nil
	}

	if h := a.halted.Load(); h != nil {
		return zero, &Error{Kind: h.Kind, Provider: name, Err: fmt.Errorf("provider halted: %w", h.Err)}
	}

	v, err, _ := a.group.Do(key, func() (any, error) {
		return a.call(ctx, key, req)
	})
	if err != nil {
		return zero, err
	}
	return v.(Resp), nil
}

func (a *Access[Req, Resp]) fromCache(ctx context.Context, key string, req Req) (Resp, bool) {
	var zero Resp
	if a.opts.Cache == nil {
		return zero, false
	}

	raw, ok, err := a.opts.Cache.Get(ctx, key)
	if err != nil {
		a.log.Warn("cache read failed", "err", err)
		return zero, false
	}
	if !ok {
		return zero, false
	}

	resp, err := a.t.Parse(raw)
	if err != nil {
		a.log.Warn("discarding unparseable cache entry", "err", err)
		return zero, false
	}

	a.record(ctx, &audit.Record{
		Request:  req.CacheKey(),
		Success:  true,
		CacheHit: true,
	})
	return resp, true
}

func (a *Access[Req, Resp]) call(ctx context.Context, key string, req Req) (Resp, error) {
	var (
		zero    Resp
		resp    Resp
		payload []byte
		name    = a.t.Name()
		called  bool
		quota   int
	)

	policy := a.opts.Retry
	policy.Transient = func(err error) bool {
		return KindOf(err).Retryable()
	}
	policy.OnAttempt = func(attempt int, elapsed time.Duration, err error) {
		if !called {
			return
		}
		rec := &audit.Record{
			Request:       req.CacheKey(),
			Attempt:       attempt,
			QuotaConsumed: quota,
			Success:       err == nil,
			Duration:      elapsed,
		}
		if err != nil {
			rec.ErrorKind = string(KindOf(err))
			rec.Error = err.Error()
			a.log.Debug("provider attempt failed", "attempt", attempt, "kind", rec.ErrorKind, "err", err)
		}
		a.record(ctx, rec)
	}

	backoff, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		called, quota = false, 0

		waited, err := a.opts.Limiter.Acquire(ctx)
		if a.opts.Observer != nil && waited > 0 {
			a.opts.Observer.ObserveWait(name, waited)
		}
		metrics.RecordWait(name, waited)
		if err != nil {
			return &Error{Kind: KindTransient, Provider: name, Err: fmt.Errorf("rate limiter: %w", err)}
		}

		called = true
		raw, err := a.t.RawCall(ctx, req)
		if err != nil {
			return Classify(name, err)
		}
		// Quota is charged for every delivered payload, parseable or not.
		quota = a.opts.QuotaCost

		parsed, err := a.t.Parse(raw)
		if err != nil {
			return ParseError(name, err)
		}
		resp, payload = parsed, raw
		return nil
	})
	if a.opts.Observer != nil && backoff > 0 {
		a.opts.Observer.ObserveBackoff(name, backoff)
	}

	if err != nil {
		perr := Classify(name, err)
		if perr.Kind.Halts() && a.halted.CompareAndSwap(nil, perr) {
			a.log.Warn("provider halted for the rest of the run", "kind", perr.Kind, "err", perr.Err)
		}
		return zero, perr
	}

	if a.opts.Cache != nil {
		if err := a.opts.Cache.Put(ctx, key, payload, a.opts.TTL); err != nil {
			a.log.Warn("cache write failed", "err", err)
		}
	}
	return resp, nil
}

func (a *Access[Req, Resp]) record(ctx context.Context, rec *audit.Record) {
	rec.RunID = a.opts.RunID
	rec.Provider = a.t.Name()
	audit.Prepare(rec)

	// Audit writes outlive a cancelled run context.
	if err := a.opts.Audit.Append(context.WithoutCancel(ctx), rec); err != nil {
		a.log.Error("audit append failed", "err", err)
	}
	metrics.RecordCall(rec)
	if a.opts.Observer != nil {
		a.opts.Observer.ObserveCall(rec)
	}
}

// Funcs adapts a pair of functions to Transport.
type Funcs[Req Request, Resp any] struct {
	ID     string
	Call   func(ctx context.Context, req Req) ([]byte, error)
	Decode func(payload []byte) (Resp, error)
}

func (f Funcs[Req, Resp]) Name() string { return f.ID }

func (f Funcs[Req, Resp]) RawCall(ctx context.Context, req Req) ([]byte, error) {
	if f.Call == nil {
		return nil, errors.New("no call function")
	}
	return f.Call(ctx, req)
}

func (f Funcs[Req, Resp]) Parse(payload []byte) (Resp, error) {
	return f.Decode(payload)
}
