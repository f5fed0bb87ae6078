package pipeline

import (
	"maps"
	"sync"
	"time"

	"github.com/FranksOps/seedling/internal/audit"
	"github.com/FranksOps/seedling/internal/provider"
)

// ProviderStats is the call accounting of one provider.
type ProviderStats struct {
	Calls     int           `json:"calls"`
	CacheHits int           `json:"cache_hits"`
	Failures  int           `json:"failures"`
	Retries   int           `json:"retries"`
	Quota     int           `json:"quota"`
	Wait      time.Duration `json:"rate_limit_wait"`
	Backoff   time.Duration `json:"backoff"`
}

// Stats is a point-in-time copy of a run's counters.
type Stats struct {
	RunID        string                   `json:"run_id"`
	Elapsed      time.Duration            `json:"elapsed"`
	Expanded     int                      `json:"expanded"`
	Processed    int                      `json:"processed"`
	Deduplicated int                      `json:"deduplicated"`
	Dropped      int                      `json:"dropped"`
	Degraded     int                      `json:"degraded"`
	Providers    map[string]ProviderStats `json:"providers"`
	ErrorsByKind map[string]int           `json:"errors_by_kind"`
	StageTimes   map[Stage]time.Duration  `json:"stage_times"`
}

// APICalls returns the number of calls that reached a provider.
func (s Stats) APICalls() int {
	n := 0
	for _, p := range s.Providers {
		n += p.Calls
	}
	return n
}

// Quota returns the total quota consumed.
func (s Stats) Quota() int {
	n := 0
	for _, p := range s.Providers {
		n += p.Quota
	}
	return n
}

// ensure Tracker implements provider.Observer
var _ provider.Observer = (*Tracker)(nil)

// Tracker accumulates Stats. Governed providers report into it while a
// stage runs, so it is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	stats Stats
	start time.Time
	now   func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		stats: Stats{
			Providers:    map[string]ProviderStats{},
			ErrorsByKind: map[string]int{},
			StageTimes:   map[Stage]time.Duration{},
		},
		start: time.Now(),
		now:   time.Now,
	}
}

func (t *Tracker) ObserveCall(rec *audit.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.stats.Providers[rec.Provider]
	if rec.CacheHit {
		p.CacheHits++
	} else {
		p.Calls++
		p.Quota += rec.QuotaConsumed
		if rec.Attempt > 1 {
			p.Retries++
		}
	}
	if !rec.Success {
		p.Failures++
		kind := rec.ErrorKind
		if kind == "" {
			kind = "unknown"
		}
		t.stats.ErrorsByKind[kind]++
	}
	t.stats.Providers[rec.Provider] = p
}

func (t *Tracker) ObserveWait(name string, d time.Duration) {
	t.mu.Lock()
	p := t.stats.Providers[name]
	p.Wait += d
	t.stats.Providers[name] = p
	t.mu.Unlock()
}

func (t *Tracker) ObserveBackoff(name string, d time.Duration) {
	t.mu.Lock()
	p := t.stats.Providers[name]
	p.Backoff += d
	t.stats.Providers[name] = p
	t.mu.Unlock()
}

func (t *Tracker) update(fn func(s *Stats)) {
	t.mu.Lock()
	fn(&t.stats)
	t.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.Elapsed = t.now().Sub(t.start)
	s.Providers = maps.Clone(t.stats.Providers)
	s.ErrorsByKind = maps.Clone(t.stats.ErrorsByKind)
	s.StageTimes = maps.Clone(t.stats.StageTimes)
	return s
}
