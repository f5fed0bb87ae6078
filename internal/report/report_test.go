package report

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/seedling/internal/audit"
	"github.com/FranksOps/seedling/internal/keyword"
	"github.com/FranksOps/seedling/internal/pipeline"
)

func TestGenerateSummary(t *testing.T) {
	now := time.Now()

	records := []*audit.Record{
		{
			RunID:         "run-1",
			Provider:      "serpapi",
			Attempt:       1,
			QuotaConsumed: 1,
			Success:       true,
			Duration:      200 * time.Millisecond,
			CreatedAt:     now,
		},
		{
			RunID:         "run-1",
			Provider:      "serpapi",
			Attempt:       1,
			QuotaConsumed: 1,
			ErrorKind:     "transient",
			Error:         "503",
			Duration:      400 * time.Millisecond,
			CreatedAt:     now.Add(1 * time.Second),
		},
		{
			RunID:         "run-1",
			Provider:      "serpapi",
			Attempt:       2,
			QuotaConsumed: 1,
			Success:       true,
			Duration:      300 * time.Millisecond,
			CreatedAt:     now.Add(2 * time.Second),
		},
		{
			RunID:     "run-1",
			Provider:  "suggest-google",
			CacheHit:  true,
			Success:   true,
			CreatedAt: now.Add(500 * time.Millisecond),
		},
	}

	summary := GenerateSummary(records)

	if summary.RunID != "run-1" {
		t.Errorf("expected run-1, got %q", summary.RunID)
	}
	if summary.TotalCalls != 3 {
		t.Errorf("expected 3 calls, got %d", summary.TotalCalls)
	}
	if summary.TotalCacheHits != 1 {
		t.Errorf("expected 1 cache hit, got %d", summary.TotalCacheHits)
	}
	if summary.TotalErrors != 1 || summary.ErrorKinds["transient"] != 1 {
		t.Errorf("expected 1 transient error, got %d %v", summary.TotalErrors, summary.ErrorKinds)
	}
	if summary.TotalQuota != 3 {
		t.Errorf("expected 3 quota, got %d", summary.TotalQuota)
	}

	serp := summary.Providers["serpapi"]
	if serp == nil {
		t.Fatalf("expected serpapi provider summary")
	}
	if serp.Retries != 1 {
		t.Errorf("expected 1 retry, got %d", serp.Retries)
	}
	if serp.AvgDuration != 300*time.Millisecond {
		t.Errorf("expected 300ms average, got %v", serp.AvgDuration)
	}
	if summary.Providers["suggest-google"].Calls != 0 {
		t.Errorf("expected cache hits not to count as calls")
	}

	if summary.Duration != 2*time.Second {
		t.Errorf("expected 2s duration, got %v", summary.Duration)
	}
}

func TestFromSink(t *testing.T) {
	ctx := context.Background()
	sink := audit.NewMemory()
	for _, run := range []string{"a", "a", "b"} {
		if err := sink.Append(ctx, &audit.Record{RunID: run, Provider: "trends", Attempt: 1, Success: true}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	summary, err := FromSink(ctx, sink, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalCalls != 2 {
		t.Errorf("expected 2 calls for run a, got %d", summary.TotalCalls)
	}
}

func testResult() *pipeline.Result {
	shoes := keyword.New("running shoes", keyword.SourceSeed, 0)
	shoes.Intent, shoes.Volume, shoes.Difficulty, shoes.Opportunity = keyword.IntentCommercial, 5000, 42, 88.5
	trail := keyword.New("<b>trail</b> shoes", keyword.SourceAutosuggest, 1)
	trail.Degrade(keyword.Degradation{Stage: "serp_collection", Reason: "timeout"})

	res := &pipeline.Result{
		RunID:    "run-9",
		Keywords: []*keyword.Keyword{shoes, trail},
		Stages: []pipeline.StageState{
			{Stage: pipeline.StageSerp, Status: pipeline.StatusPartiallyFailed, Degraded: 1},
		},
		Warnings: []string{"cluster: embeddings unavailable, using token similarity"},
	}
	res.PageGroups = []*keyword.PageGroup{{ID: "pg"}}
	res.Topics = []*keyword.Topic{{ID: "t"}}
	return res
}

func TestAddResult(t *testing.T) {
	summary := GenerateSummary(nil)
	summary.AddResult(testResult(), 1)

	if summary.RunID != "run-9" {
		t.Errorf("expected run id from result, got %q", summary.RunID)
	}
	if summary.Keywords != 2 || summary.Degraded != 1 {
		t.Errorf("expected 2 keywords with 1 degraded, got %d and %d", summary.Keywords, summary.Degraded)
	}
	if summary.Topics != 1 || summary.PageGroups != 1 {
		t.Errorf("expected one topic and one page group")
	}
	if len(summary.TopKeywords) != 1 || summary.TopKeywords[0].Text != "running shoes" {
		t.Errorf("expected the top keyword only, got %+v", summary.TopKeywords)
	}
}

func TestWriteJSON(t *testing.T) {
	summary := Summary{
		TotalCalls: 5,
	}
	var buf bytes.Buffer
	err := WriteJSON(&buf, summary)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(buf.String(), `"TotalCalls": 5`) {
		t.Errorf("expected JSON to contain TotalCalls: 5")
	}
}

func TestWriteText(t *testing.T) {
	summary := GenerateSummary([]*audit.Record{
		{Provider: "serpapi", Attempt: 1, Success: true, QuotaConsumed: 1},
		{Provider: "serpapi", Attempt: 1, ErrorKind: "auth_failure"},
	})
	summary.AddResult(testResult(), 10)

	var buf bytes.Buffer
	err := WriteText(&buf, summary)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"API Calls:     2 calls, 0 cache hits",
		"serpapi: 2 calls, 0 hits, 1 errors",
		"auth_failure: 1",
		"partially_failed",
		"embeddings unavailable",
		"running shoes",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected text to contain %q\n%s", want, out)
		}
	}
}

func TestWriteHTML(t *testing.T) {
	summary := GenerateSummary(nil)
	summary.AddResult(testResult(), 10)

	var buf bytes.Buffer
	err := WriteHTML(&buf, summary)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<title>Seedling Run Report</title>") {
		t.Errorf("expected HTML title")
	}
	if !strings.Contains(out, "serp_collection") {
		t.Errorf("expected HTML to contain the stage table")
	}
	if strings.Contains(out, "<b>trail</b>") {
		t.Errorf("expected keyword text to be escaped")
	}
}
