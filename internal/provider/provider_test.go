package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/seedling/internal/audit"
	"github.com/FranksOps/seedling/internal/cache"
	"github.com/FranksOps/seedling/pkg/httpclient"
	"github.com/FranksOps/seedling/pkg/ratelimit"
	"github.com/FranksOps/seedling/pkg/retry"
)

type query string

func (q query) CacheKey() string { return string(q) }

type answer struct {
	Text string `json:"text"`
}

func decodeAnswer(b []byte) (answer, error) {
	var a answer
	err := json.Unmarshal(b, &a)
	return a, err
}

func noSleepRetry() retry.Policy {
	p := retry.Default()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps int
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.sleeps++
	c.mu.Unlock()
	return nil
}

func TestFetch_AlwaysTransient(t *testing.T) {
	sink := audit.NewMemory()
	var calls atomic.Int32
	a := New(Funcs[query, answer]{
		ID: "serp",
		Call: func(context.Context, query) ([]byte, error) {
			calls.Add(1)
			return nil, &httpclient.StatusError{Code: http.StatusServiceUnavailable, Status: "503 Service Unavailable"}
		},
		Decode: decodeAnswer,
	}, Options{Retry: noSleepRetry(), Audit: sink, QuotaCost: 1, RunID: "r1"})

	_, err := a.Fetch(context.Background(), "running shoes")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}

	recs, _ := sink.Query(context.Background(), audit.Filter{RunID: "r1", Provider: "serp"})
	if len(recs) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(recs))
	}
	for _, r := range recs {
		if r.Success || r.CacheHit || r.ErrorKind != string(KindTransient) {
			t.Errorf("unexpected record %+v", r)
		}
	}
}

func TestFetch_NonTransientAttemptedOnce(t *testing.T) {
	for _, tc := range []struct {
		name string
		code int
		want *Error
	}{
		{"auth", http.StatusUnauthorized, ErrAuthFailure},
		{"quota", http.StatusPaymentRequired, ErrQuotaExhausted},
		{"invalid", http.StatusBadRequest, ErrInvalidRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sink := audit.NewMemory()
			calls := 0
			a := New(Funcs[query, answer]{
				ID: "serp",
				Call: func(context.Context, query) ([]byte, error) {
					calls++
					return nil, &httpclient.StatusError{Code: tc.code, Status: http.StatusText(tc.code)}
				},
				Decode: decodeAnswer,
			}, Options{Retry: noSleepRetry(), Audit: sink})

			if _, err := a.Fetch(context.Background(), "q"); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want.Kind, err)
			}
			if calls != 1 || sink.Len() != 1 {
				t.Errorf("expected one attempt and one record, got calls=%d records=%d", calls, sink.Len())
			}
		})
	}
}

func TestFetch_HaltsAfterAuthFailure(t *testing.T) {
	sink := audit.NewMemory()
	calls := 0
	a := New(Funcs[query, answer]{
		ID: "trends",
		Call: func(context.Context, query) ([]byte, error) {
			calls++
			return nil, &httpclient.StatusError{Code: http.StatusForbidden, Status: "403 Forbidden"}
		},
		Decode: decodeAnswer,
	}, Options{Retry: noSleepRetry(), Audit: sink})

	_, _ = a.Fetch(context.Background(), "a")
	_, err := a.Fetch(context.Background(), "b")

	if !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected halted auth failure, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected no call after halt, got %d calls", calls)
	}
	if sink.Len() != 1 {
		t.Errorf("expected no audit record for the skipped call, got %d records", sink.Len())
	}
	if a.Halted() == nil {
		t.Errorf("expected Halted to report the auth failure")
	}
}

func TestFetch_RateLimitedKeepsKind(t *testing.T) {
	calls := 0
	a := New(Funcs[query, answer]{
		ID: "suggest",
		Call: func(context.Context, query) ([]byte, error) {
			calls++
			return nil, &httpclient.StatusError{Code: http.StatusTooManyRequests, Status: "429 Too Many Requests"}
		},
		Decode: decodeAnswer,
	}, Options{Retry: noSleepRetry()})

	_, err := a.Fetch(context.Background(), "q")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 429 to be retried 3 times, got %d", calls)
	}
}

func TestFetch_ParseFailureNotRetried(t *testing.T) {
	sink := audit.NewMemory()
	calls := 0
	a := New(Funcs[query, answer]{
		ID: "serp",
		Call: func(context.Context, query) ([]byte, error) {
			calls++
			return []byte("<html>not json"), nil
		},
		Decode: decodeAnswer,
	}, Options{Retry: noSleepRetry(), Audit: sink, QuotaCost: 2})

	_, err := a.Fetch(context.Background(), "q")
	if !errors.Is(err, ErrParseFailure) {
		t.Fatalf("expected parse failure, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected one attempt, got %d", calls)
	}

	recs, _ := sink.Query(context.Background(), audit.Filter{})
	if len(recs) != 1 || recs[0].QuotaConsumed != 2 || recs[0].ErrorKind != string(KindParseFailure) {
		t.Errorf("expected one parse failure record charging quota, got %+v", recs)
	}
}

func TestFetch_CacheHitConsumesNoToken(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	limiter := ratelimit.NewLimiter(1, ratelimit.WithClock(clk.Now, clk.Sleep))
	sink := audit.NewMemory()
	calls := 0

	a := New(Funcs[query, answer]{
		ID: "serp",
		Call: func(_ context.Context, q query) ([]byte, error) {
			calls++
			return json.Marshal(answer{Text: string(q)})
		},
		Decode: decodeAnswer,
	}, Options{
		Limiter:   limiter,
		Cache:     cache.New(cache.NewMemory()),
		TTL:       time.Hour,
		Retry:     noSleepRetry(),
		Audit:     sink,
		QuotaCost: 1,
	})

	ctx := context.Background()
	first, err := a.Fetch(ctx, "running shoes")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	for i := 0; i < 5; i++ {
		got, err := a.Fetch(ctx, "running shoes")
		if err != nil {
			t.Fatalf("cached fetch: %v", err)
		}
		if got != first {
			t.Errorf("expected cached %+v, got %+v", first, got)
		}
	}

	if calls != 1 {
		t.Errorf("expected a single raw call, got %d", calls)
	}
	if clk.sleeps != 0 {
		t.Errorf("cache hits waited on the limiter %d times", clk.sleeps)
	}

	hit := true
	hits, _ := sink.Query(ctx, audit.Filter{CacheHit: &hit})
	if len(hits) != 5 {
		t.Fatalf("expected 5 cache hit records, got %d", len(hits))
	}
	for _, h := range hits {
		if h.QuotaConsumed != 0 || !h.Success {
			t.Errorf("cache hit should be successful and free, got %+v", h)
		}
	}

	// A different request does need a token, and the bucket is empty.
	if _, err := a.Fetch(ctx, "trail shoes"); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if clk.sleeps == 0 {
		t.Errorf("expected a new request to wait for a token")
	}
}

func TestFetch_RecoversAndCaches(t *testing.T) {
	sink := audit.NewMemory()
	calls := 0
	a := New(Funcs[query, answer]{
		ID: "serp",
		Call: func(context.Context, query) ([]byte, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("connection reset by peer")
			}
			return []byte(`{"text":"ok"}`), nil
		},
		Decode: decodeAnswer,
	}, Options{Cache: cache.New(cache.NewMemory()), TTL: time.Minute, Retry: noSleepRetry(), Audit: sink})

	got, err := a.Fetch(context.Background(), "q")
	if err != nil || got.Text != "ok" {
		t.Fatalf("expected recovery, got %+v %v", got, err)
	}
	if sink.Len() != 2 {
		t.Errorf("expected 2 attempt records, got %d", sink.Len())
	}

	if _, err := a.Fetch(context.Background(), "q"); err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected cached response on third fetch, got %d calls", calls)
	}
}

func TestFetch_ConcurrentRequestsShareOneCall(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	a := New(Funcs[query, answer]{
		ID: "serp",
		Call: func(context.Context, query) ([]byte, error) {
			calls.Add(1)
			<-release
			return []byte(`{"text":"shared"}`), nil
		},
		Decode: decodeAnswer,
	}, Options{Retry: noSleepRetry()})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := a.Fetch(context.Background(), "same")
			if err != nil || got.Text != "shared" {
				t.Errorf("unexpected result %+v %v", got, err)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("expected one shared call, got %d", n)
	}
}

func TestFetch_OverHTTP(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"text":"` + r.URL.Query().Get("q") + `"}`))
	}))
	defer ts.Close()

	client, _ := httpclient.New(httpclient.Config{Timeout: time.Second})
	a := New(Funcs[query, answer]{
		ID: "serp",
		Call: func(ctx context.Context, q query) ([]byte, error) {
			return client.Get(ctx, ts.URL+"?q="+string(q), nil)
		},
		Decode: decodeAnswer,
	}, Options{Retry: noSleepRetry()})

	got, err := a.Fetch(context.Background(), "shoes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "shoes" || hits.Load() != 3 {
		t.Errorf("expected success on third attempt, got %+v after %d hits", got, hits.Load())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{&httpclient.StatusError{Code: 401}, KindAuthFailure},
		{&httpclient.StatusError{Code: 403}, KindAuthFailure},
		{&httpclient.StatusError{Code: 402}, KindQuotaExhausted},
		{&httpclient.StatusError{Code: 429}, KindRateLimited},
		{&httpclient.StatusError{Code: 500}, KindTransient},
		{&httpclient.StatusError{Code: 404}, KindInvalidRequest},
		{context.DeadlineExceeded, KindTransient},
		{ParseError("x", errors.New("bad")), KindParseFailure},
		{&Error{Kind: KindQuotaExhausted}, KindQuotaExhausted},
	}
	for _, tt := range tests {
		if got := Classify("p", tt.err); got.Kind != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got.Kind, tt.want)
		}
	}
}
