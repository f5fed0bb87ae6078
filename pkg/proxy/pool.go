package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrExhausted is returned when every proxy in a pool is benched.
var ErrExhausted = errors.New("no healthy proxy available")

// Stat is the health of one proxy.
type Stat struct {
	URL      string
	Uses     int
	Failures int
	Benched  bool
}

type entry struct {
	url      *url.URL
	uses     int
	failures int
	until    time.Time
}

// Pool rotates outbound proxies round-robin. A proxy that fails
// MaxFailures times in a row is benched for Cooldown.
type Pool struct {
	mu       sync.Mutex
	entries  []*entry
	next     int
	maxFails int
	cooldown time.Duration
	now      func() time.Time
}

// Config defines settings for the proxy pool.
type Config struct {
	MaxFailures int
	Cooldown    time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewPool creates an empty pool. Zero config values get defaults.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pool{maxFails: cfg.MaxFailures, cooldown: cfg.Cooldown, now: cfg.Now}
}

// Load creates a pool from a file with one proxy URL per line. Blank
// lines and lines starting with '#' are skipped.
func Load(path string, cfg Config) (*Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open proxy list: %w", err)
	}
	defer f.Close()

	var raws []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raws = append(raws, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read proxy list: %w", err)
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("proxy list %s is empty", path)
	}

	p := NewPool(cfg)
	if err := p.Add(raws...); err != nil {
		return nil, err
	}
	return p, nil
}

// Add parses proxy URLs and appends them to the pool. A missing scheme
// means http.
func (p *Pool) Add(raws ...string) error {
	parsed := make([]*entry, 0, len(raws))
	for _, raw := range raws {
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse proxy %q: %w", raw, err)
		}
		if u.Host == "" {
			return fmt.Errorf("parse proxy %q: missing host", raw)
		}
		parsed = append(parsed, &entry{url: u})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, parsed...)
	return nil
}

// Len returns the number of proxies, benched or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Next returns the next proxy that is not benched, or nil when none is.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for range p.entries {
		e := p.entries[p.next]
		p.next = (p.next + 1) % len(p.entries)
		if now.Before(e.until) {
			continue
		}
		e.uses++
		return e.url
	}
	return nil
}

// Report records the outcome of a request sent through u. A success
// forgives one earlier failure.
func (p *Pool) Report(u *url.URL, ok bool) {
	if u == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.find(u)
	if e == nil {
		return
	}
	if ok {
		if e.failures > 0 {
			e.failures--
		}
		return
	}
	e.failures++
	if e.failures >= p.maxFails {
		e.until = p.now().Add(p.cooldown)
		e.failures = 0
	}
}

// Stats returns the health of every proxy in pool order.
func (p *Pool) Stats() []Stat {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]Stat, len(p.entries))
	for i, e := range p.entries {
		out[i] = Stat{URL: e.url.String(), Uses: e.uses, Failures: e.failures, Benched: now.Before(e.until)}
	}
	return out
}

// find must be called with the lock held.
func (p *Pool) find(u *url.URL) *entry {
	target := u.String()
	for _, e := range p.entries {
		if e.url.String() == target {
			return e
		}
	}
	return nil
}

type ctxKey struct{}

// WithURL returns a context that routes requests through u.
func WithURL(ctx context.Context, u *url.URL) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromRequest returns the proxy stored in the request context. It fits
// http.Transport.Proxy; no proxy in the context means a direct connection.
func FromRequest(req *http.Request) (*url.URL, error) {
	u, _ := req.Context().Value(ctxKey{}).(*url.URL)
	return u, nil
}
