package audit

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one external provider call attempt, or one cache hit that
// stood in for a call. Records are append-only.
type Record struct {
	ID            string        `json:"id"`
	RunID         string        `json:"run_id"`
	Provider      string        `json:"provider"`
	Request       string        `json:"request"`
	Attempt       int           `json:"attempt"`
	QuotaConsumed int           `json:"quota_consumed"`
	Success       bool          `json:"success"`
	CacheHit      bool          `json:"cache_hit"`
	ErrorKind     string        `json:"error_kind,omitempty"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Filter allows querying for specific Records.
type Filter struct {
	RunID    string
	Provider string
	Success  *bool
	CacheHit *bool
	Since    *time.Time
	Limit    int
	Offset   int
}

// Sink stores and queries audit records. Append must be safe for
// concurrent writers.
type Sink interface {
	Append(ctx context.Context, rec *Record) error
	Query(ctx context.Context, filter Filter) ([]*Record, error)
	Close() error
}

// Prepare fills in the ID and timestamp of a record if they are unset.
func Prepare(rec *Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}

// Matches reports whether rec passes the filter's predicates.
func (f Filter) Matches(rec *Record) bool {
	if f.RunID != "" && rec.RunID != f.RunID {
		return false
	}
	if f.Provider != "" && rec.Provider != f.Provider {
		return false
	}
	if f.Success != nil && rec.Success != *f.Success {
		return false
	}
	if f.CacheHit != nil && rec.CacheHit != *f.CacheHit {
		return false
	}
	if f.Since != nil && rec.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Page orders matched records newest first and applies offset and limit.
// Records sharing a timestamp keep their reverse append order.
func (f Filter) Page(recs []*Record) []*Record {
	slices.Reverse(recs)
	slices.SortStableFunc(recs, func(a, b *Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(recs) {
			return []*Record{}
		}
		recs = recs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(recs) {
		recs = recs[:f.Limit]
	}
	return recs
}

// ensure Memory implements Sink
var _ Sink = (*Memory)(nil)

// Memory is an in-process Sink. It is the default for a single run.
type Memory struct {
	mu   sync.RWMutex
	recs []Record
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, rec *Record) error {
	Prepare(rec)
	m.mu.Lock()
	m.recs = append(m.recs, *rec)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Query(_ context.Context, filter Filter) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for i := range m.recs {
		if filter.Matches(&m.recs[i]) {
			r := m.recs[i]
			out = append(out, &r)
		}
	}
	return filter.Page(out), nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs)
}

func (m *Memory) Close() error { return nil }
