// Package audittest checks that an audit.Sink honours the append-only
// contract shared by every backend.
package audittest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/FranksOps/seedling/internal/audit"
)

// Run appends a fixed set of records to sink and verifies filtering,
// ordering, paging and concurrent appends. The sink must start empty.
func Run(t *testing.T, sink audit.Sink) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	recs := []*audit.Record{
		{ID: "a1", RunID: "run-1", Provider: "serp", Request: "running shoes", Attempt: 1, QuotaConsumed: 1, Success: false, ErrorKind: "transient", Error: "status 503", Duration: 40 * time.Millisecond, CreatedAt: now.Add(-3 * time.Minute)},
		{ID: "a2", RunID: "run-1", Provider: "serp", Request: "running shoes", Attempt: 2, QuotaConsumed: 1, Success: true, Duration: 35 * time.Millisecond, CreatedAt: now.Add(-2 * time.Minute)},
		{ID: "a3", RunID: "run-1", Provider: "serp", Request: "running shoes", Attempt: 0, QuotaConsumed: 0, Success: true, CacheHit: true, CreatedAt: now.Add(-1 * time.Minute)},
		{ID: "a4", RunID: "run-2", Provider: "trends", Request: "trail shoes", Attempt: 1, QuotaConsumed: 1, Success: true, Duration: 120 * time.Millisecond, CreatedAt: now},
	}
	for _, r := range recs {
		if err := sink.Append(ctx, r); err != nil {
			t.Fatalf("Failed to append %s: %v", r.ID, err)
		}
	}

	all, err := sink.Query(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("Failed to query all records: %v", err)
	}
	if len(all) != len(recs) {
		t.Fatalf("Expected %d records, got %d", len(recs), len(all))
	}
	if all[0].ID != "a4" || all[len(all)-1].ID != "a1" {
		t.Errorf("Expected newest first, got %s..%s", all[0].ID, all[len(all)-1].ID)
	}

	got := all[len(all)-1]
	want := recs[0]
	if got.RunID != want.RunID || got.Provider != want.Provider || got.Request != want.Request {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
	if got.Attempt != want.Attempt || got.QuotaConsumed != want.QuotaConsumed {
		t.Errorf("Expected attempt %d quota %d, got %d %d", want.Attempt, want.QuotaConsumed, got.Attempt, got.QuotaConsumed)
	}
	if got.Success || got.ErrorKind != "transient" || got.Error != "status 503" {
		t.Errorf("Expected failed transient record, got %+v", got)
	}
	if got.Duration.Milliseconds() != want.Duration.Milliseconds() {
		t.Errorf("Expected duration %v, got %v", want.Duration, got.Duration)
	}
	if got.CreatedAt.Unix() != want.CreatedAt.Unix() {
		t.Errorf("Expected CreatedAt %v, got %v", want.CreatedAt, got.CreatedAt)
	}

	byProvider, err := sink.Query(ctx, audit.Filter{RunID: "run-1", Provider: "serp"})
	if err != nil {
		t.Fatalf("Failed to query by provider: %v", err)
	}
	if len(byProvider) != 3 {
		t.Errorf("Expected 3 serp records, got %d", len(byProvider))
	}

	hit := true
	hits, err := sink.Query(ctx, audit.Filter{CacheHit: &hit})
	if err != nil {
		t.Fatalf("Failed to query cache hits: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a3" || hits[0].QuotaConsumed != 0 {
		t.Errorf("Expected the single zero-quota cache hit, got %+v", hits)
	}

	failed := false
	failures, err := sink.Query(ctx, audit.Filter{Success: &failed})
	if err != nil {
		t.Fatalf("Failed to query failures: %v", err)
	}
	if len(failures) != 1 || failures[0].ID != "a1" {
		t.Errorf("Expected one failure, got %+v", failures)
	}

	since := now.Add(-90 * time.Second)
	recent, err := sink.Query(ctx, audit.Filter{Since: &since})
	if err != nil {
		t.Fatalf("Failed to query with Since: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("Expected 2 recent records, got %d", len(recent))
	}

	page, err := sink.Query(ctx, audit.Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("Failed to query page: %v", err)
	}
	if len(page) != 2 || page[0].ID != "a3" || page[1].ID != "a2" {
		t.Errorf("Expected page [a3 a2], got %d records", len(page))
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sink.Append(ctx, &audit.Record{RunID: "run-3", Provider: "suggest", Request: "q", Attempt: 1, QuotaConsumed: 1, Success: true}); err != nil {
				t.Errorf("Concurrent append failed: %v", err)
			}
		}()
	}
	wg.Wait()

	concurrent, err := sink.Query(ctx, audit.Filter{RunID: "run-3"})
	if err != nil {
		t.Fatalf("Failed to query concurrent records: %v", err)
	}
	if len(concurrent) != 20 {
		t.Errorf("Expected 20 concurrent records, got %d", len(concurrent))
	}
	for _, r := range concurrent {
		if r.ID == "" || r.CreatedAt.IsZero() {
			t.Errorf("Expected generated ID and timestamp, got %+v", r)
			break
		}
	}
}
