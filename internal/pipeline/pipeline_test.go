package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/FranksOps/seedling/internal/audit"
	"github.com/FranksOps/seedling/internal/config"
	"github.com/FranksOps/seedling/internal/embed"
	"github.com/FranksOps/seedling/internal/expansion"
	"github.com/FranksOps/seedling/internal/keyword"
	"github.com/FranksOps/seedling/internal/provider"
	"github.com/FranksOps/seedling/internal/serp"
	"github.com/FranksOps/seedling/internal/suggest"
	"github.com/FranksOps/seedling/pkg/httpclient"
	"github.com/FranksOps/seedling/pkg/retry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings() config.Settings {
	cfg := config.Default()
	cfg.Pipeline.Disabled = []string{string(StageExpansion)}
	cfg.Pipeline.Concurrency = 2
	return cfg
}

func noSleep() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

// serpStub serves snapshots through a governed provider.
type serpStub struct {
	mu    sync.Mutex
	calls map[string]int
	fail  func(query string) error
	sink  *audit.Memory
}

func newSerpStub(fail func(string) error) *serpStub {
	return &serpStub{calls: map[string]int{}, fail: fail, sink: audit.NewMemory()}
}

func (s *serpStub) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *serpStub) access(tracker *Tracker) *serp.Access {
	opts := provider.Options{Retry: noSleep(), Audit: s.sink, Logger: quietLogger()}
	if tracker != nil {
		opts.Observer = tracker
	}
	return provider.New[serp.Request, keyword.SerpSnapshot](provider.Funcs[serp.Request, keyword.SerpSnapshot]{
		ID: "stub-serp",
		Call: func(_ context.Context, req serp.Request) ([]byte, error) {
			s.mu.Lock()
			s.calls[req.Query]++
			s.mu.Unlock()
			if s.fail != nil {
				if err := s.fail(req.Query); err != nil {
					return nil, err
				}
			}
			// Identical organic results for every query.
			return json.Marshal(keyword.SerpSnapshot{
				Query: req.Query,
				Results: []keyword.SerpResult{
					{Position: 1, Title: "Running Shoes Guide", Link: "https://www.runnersworld.com/gear/a1/shoes/", Snippet: "how to pick running shoes for road and trail"},
					{Position: 2, Title: "Shop Running Shoes", Link: "https://www.nike.com/", Snippet: "running shoes for men and women"},
					{Position: 3, Title: "Best running shoes tested", Link: "https://www.example.com/reviews/running", Snippet: "we tested forty pairs"},
				},
				PAA:      []string{"How often should you replace running shoes?"},
				Features: []string{"people_also_ask"},
				Ads:      2,
			})
		},
		Decode: func(payload []byte) (keyword.SerpSnapshot, error) {
			var snap keyword.SerpSnapshot
			err := json.Unmarshal(payload, &snap)
			return snap, err
		},
	}, opts)
}

func tenSeeds() []string {
	return []string{
		"compost bin", "raised garden bed", "drip irrigation kit", "tomato cage",
		"pruning shears", "leaf blower", "garden hose reel", "seed starting tray",
		"worm farm", "rain barrel",
	}
}

func TestRun_PartialSerpFailureDegradesOneKeyword(t *testing.T) {
	tracker := NewTracker()
	stub := newSerpStub(func(q string) error {
		if q == "leaf blower" {
			return &httpclient.StatusError{Code: 503, Status: "503 Service Unavailable"}
		}
		return nil
	})
	p := New(Components{SERP: stub.access(tracker)}, Options{Logger: quietLogger(), Tracker: tracker})

	res, err := p.Run(context.Background(), tenSeeds(), testSettings())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Keywords) != 10 {
		t.Fatalf("expected 10 keyword records, got %d", len(res.Keywords))
	}

	degraded := res.Degraded()
	if len(degraded) != 1 || degraded[0].Text != "leaf blower" {
		t.Fatalf("expected only leaf blower degraded, got %d", len(degraded))
	}
	if !degraded[0].DegradedIn(string(StageSerp)) {
		t.Errorf("expected a serp_collection degradation, got %+v", degraded[0].Degraded)
	}
	if got := degraded[0].Degraded[0].ErrorKind; got != string(provider.KindTransient) {
		t.Errorf("expected transient error kind, got %q", got)
	}

	if got := res.Stage(StageSerp).Status; got != StatusPartiallyFailed {
		t.Errorf("expected serp stage partially failed, got %s", got)
	}
	for _, st := range []Stage{StageNormalization, StageClassification, StageScoring, StageClustering} {
		if got := res.Stage(st).Status; got != StatusCompleted {
			t.Errorf("%s: expected completed, got %s", st, got)
		}
	}
	for _, k := range res.Keywords {
		if k.PageGroupID == "" {
			t.Errorf("%q was not clustered", k.Text)
		}
	}

	if !errors.Is(res.Err(), ErrPartialFailure) {
		t.Errorf("expected a partial failure stage error, got %v", res.Err())
	}
	if n := stub.calls["leaf blower"]; n != 3 {
		t.Errorf("expected 3 attempts for the failing keyword, got %d", n)
	}
	if n := stub.sink.Len(); n != 12 {
		t.Errorf("expected 12 audit records, got %d", n)
	}
}

func TestRun_HaltedProviderDegradesRemainingKeywords(t *testing.T) {
	tracker := NewTracker()
	stub := newSerpStub(func(string) error {
		return &httpclient.StatusError{Code: 401, Status: "401 Unauthorized"}
	})
	cfg := testSettings()
	cfg.Pipeline.Concurrency = 1
	p := New(Components{SERP: stub.access(tracker)}, Options{Logger: quietLogger(), Tracker: tracker})

	res, err := p.Run(context.Background(), tenSeeds(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := stub.total(); n != 1 {
		t.Errorf("expected a single call before the provider halted, got %d", n)
	}
	if n := len(res.Degraded()); n != 10 {
		t.Errorf("expected all 10 keywords degraded, got %d", n)
	}
	for _, k := range res.Keywords {
		if got := k.Degraded[0].ErrorKind; got != string(provider.KindAuthFailure) {
			t.Errorf("%q: expected auth_failure, got %q", k.Text, got)
		}
	}
	if got := res.Stage(StageSerp).Status; got != StatusFailed {
		t.Errorf("expected serp stage failed, got %s", got)
	}
	if !errors.Is(res.Err(), ErrTotalFailure) {
		t.Errorf("expected a total failure stage error, got %v", res.Err())
	}
	if got := res.Stage(StageClustering).Status; got != StatusCompleted {
		t.Errorf("expected clustering to run on degraded keywords, got %s", got)
	}
	for _, k := range res.Keywords {
		if k.Difficulty != cfg.Scoring.NeutralDifficulty {
			t.Errorf("%q: expected neutral difficulty, got %v", k.Text, k.Difficulty)
		}
	}
}

func TestRun_InvalidWeightsFailBeforeAnyCall(t *testing.T) {
	stub := newSerpStub(nil)
	p := New(Components{SERP: stub.access(nil)}, Options{Logger: quietLogger()})

	cfg := testSettings()
	cfg.Scoring.Weights.SerpStrength = 0.45

	res, err := p.Run(context.Background(), []string{"running shoes"}, cfg)
	if !errors.Is(err, config.ErrInvalidWeights) {
		t.Fatalf("expected invalid weights, got %v", err)
	}
	if res != nil {
		t.Errorf("expected no result")
	}
	if n := stub.total(); n != 0 {
		t.Errorf("expected no provider calls, got %d", n)
	}
}

func TestRun_UnknownDisabledStage(t *testing.T) {
	p := New(Components{}, Options{Logger: quietLogger()})
	cfg := testSettings()
	cfg.Pipeline.Disabled = []string{"crawling"}

	if _, err := p.Run(context.Background(), []string{"running shoes"}, cfg); !errors.Is(err, config.ErrInvalidSettings) {
		t.Fatalf("expected invalid settings, got %v", err)
	}
}

func TestRun_CancelBetweenStagesAndResume(t *testing.T) {
	tracker := NewTracker()
	stub := newSerpStub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Components{SERP: stub.access(tracker)}, Options{
		Logger:  quietLogger(),
		Tracker: tracker,
		Progress: func(ev Event) {
			if ev.Stage == StageNormalization && ev.Status == StatusCompleted {
				cancel()
			}
		},
	})

	res, err := p.Run(ctx, tenSeeds(), testSettings())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if res == nil || res.Checkpoint == nil {
		t.Fatalf("expected a checkpoint")
	}
	if got := res.Checkpoint.NextStage(); got != StageClassification {
		t.Fatalf("expected to stop before classification, got %s", got)
	}
	if got := res.Stage(StageClustering).Status; got != StatusPending {
		t.Errorf("expected clustering pending, got %s", got)
	}
	callsBefore := stub.total()

	var buf bytes.Buffer
	if err := res.Checkpoint.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	cp, err := ReadCheckpoint(&buf)
	if err != nil {
		t.Fatalf("ReadCheckpoint: %v", err)
	}

	res, err = p.Resume(context.Background(), cp)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !res.Complete() {
		t.Fatalf("expected the resumed run to complete")
	}
	if len(res.Keywords) != 10 || len(res.PageGroups) == 0 {
		t.Errorf("expected 10 clustered keywords, got %d keywords in %d groups", len(res.Keywords), len(res.PageGroups))
	}
	if got := stub.total(); got != callsBefore {
		t.Errorf("expected no SERP calls after resume, got %d more", got-callsBefore)
	}
	if _, err := p.Resume(context.Background(), cp); err == nil {
		t.Errorf("expected resuming a complete run to fail")
	}
}

func TestRun_DisabledStagesPassThrough(t *testing.T) {
	p := New(Components{}, Options{Logger: quietLogger()})
	cfg := testSettings()
	cfg.Pipeline.Disabled = append(cfg.Pipeline.Disabled, string(StageClustering))

	res, err := p.Run(context.Background(), []string{"Best Running Shoes ", "best running shoes", "trail shoes"}, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.Stage(StageSerp).Status; got != StatusDisabled {
		t.Errorf("expected serp stage disabled without a provider, got %s", got)
	}
	if got := res.Stage(StageClustering).Status; got != StatusDisabled {
		t.Errorf("expected clustering disabled, got %s", got)
	}
	if len(res.PageGroups) != 0 {
		t.Errorf("expected no page groups, got %d", len(res.PageGroups))
	}
	if len(res.Keywords) != 2 {
		t.Fatalf("expected duplicates merged into 2 keywords, got %d", len(res.Keywords))
	}
	if res.Stats.Deduplicated != 1 {
		t.Errorf("expected 1 deduplicated keyword, got %d", res.Stats.Deduplicated)
	}
	for _, k := range res.Keywords {
		if k.Difficulty != cfg.Scoring.NeutralDifficulty {
			t.Errorf("%q: expected neutral difficulty without SERP data, got %v", k.Text, k.Difficulty)
		}
	}
}

func TestRun_ExpansionThroughGovernedSuggest(t *testing.T) {
	tracker := NewTracker()
	sg := provider.New[suggest.Request, []string](provider.Funcs[suggest.Request, []string]{
		ID: "stub-suggest",
		Call: func(_ context.Context, req suggest.Request) ([]byte, error) {
			if req.Query != "compost" {
				return json.Marshal([]string{})
			}
			return json.Marshal([]string{"compost bin", "compost tea"})
		},
		Decode: func(payload []byte) ([]string, error) {
			var out []string
			err := json.Unmarshal(payload, &out)
			return out, err
		},
	}, provider.Options{Observer: tracker, Logger: quietLogger()})

	cfg := config.Default()
	cfg.Pipeline.MaxKeywords = 20
	var events []Event
	p := New(Components{Suggest: []expansion.Suggester{sg}}, Options{
		Logger:   quietLogger(),
		Tracker:  tracker,
		Progress: func(ev Event) { events = append(events, ev) },
	})

	res, err := p.Run(context.Background(), []string{"compost"}, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	sources := map[keyword.Source]int{}
	for _, k := range res.Keywords {
		sources[k.Source]++
	}
	if sources[keyword.SourceSeed] != 1 || sources[keyword.SourceAutosuggest] != 2 {
		t.Errorf("unexpected sources %v", sources)
	}
	if res.Stats.Expanded < 3 {
		t.Errorf("expected at least 3 expanded keywords, got %d", res.Stats.Expanded)
	}
	if res.Stats.Providers["stub-suggest"].Calls == 0 {
		t.Errorf("expected suggest calls in stats")
	}

	if len(events) == 0 || events[0].Stage != StageExpansion || events[0].Status != StatusRunning {
		t.Fatalf("expected the first event to start expansion, got %+v", events)
	}
	last := events[len(events)-1]
	if last.Stage != StageClustering || !last.Status.Terminal() {
		t.Errorf("expected the last event to finish clustering, got %s %s", last.Stage, last.Status)
	}
}

func TestRun_NoSeeds(t *testing.T) {
	p := New(Components{}, Options{Logger: quietLogger()})
	res, err := p.Run(context.Background(), []string{"  ", ""}, testSettings())
	if err == nil {
		t.Fatalf("expected an error without seeds")
	}
	if !res.Complete() {
		t.Errorf("expected a failed run not to be resumable")
	}
	if got := res.Stage(StageExpansion).Status; got != StatusFailed {
		t.Errorf("expected expansion failed, got %s", got)
	}
}

func TestRun_BriefsAndRemove(t *testing.T) {
	tracker := NewTracker()
	stub := newSerpStub(nil)
	cfg := testSettings()
	cfg.Pipeline.Briefs = true
	p := New(Components{SERP: stub.access(tracker), Embedder: embed.NewSerp(embed.NewHashing(64), 64, 0)}, Options{Logger: quietLogger(), Tracker: tracker})

	res, err := p.Run(context.Background(), []string{"running shoes", "best running shoes", "compost bin"}, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Briefs) != len(res.PageGroups) {
		t.Fatalf("expected one brief per page group, got %d briefs for %d groups", len(res.Briefs), len(res.PageGroups))
	}
	for _, b := range res.Briefs {
		if b.TargetKeyword == "" || len(b.Outline) == 0 {
			t.Errorf("incomplete brief %+v", b)
		}
	}

	k := res.Keywords[0]
	id, group := k.ID, k.PageGroupID
	if !res.Remove(id) {
		t.Fatalf("expected Remove to find %s", id)
	}
	if _, ok := res.Keyword(id); ok {
		t.Errorf("keyword still listed after Remove")
	}
	if k.PageGroupID != "" || k.TopicID != "" {
		t.Errorf("expected removed keyword to be detached")
	}
	for _, pg := range res.PageGroups {
		if pg.ID == group {
			for _, m := range pg.Members {
				if m == id {
					t.Errorf("page group still references removed keyword")
				}
			}
		}
	}
}

func TestTracker_Accounting(t *testing.T) {
	tr := NewTracker()
	tr.ObserveCall(&audit.Record{Provider: "serp", Attempt: 1, QuotaConsumed: 1, Success: false, ErrorKind: "transient"})
	tr.ObserveCall(&audit.Record{Provider: "serp", Attempt: 2, QuotaConsumed: 1, Success: true})
	tr.ObserveCall(&audit.Record{Provider: "serp", CacheHit: true, Success: true})
	tr.ObserveWait("serp", 2*time.Second)
	tr.ObserveBackoff("serp", time.Second)

	s := tr.Snapshot()
	got := s.Providers["serp"]
	want := ProviderStats{Calls: 2, CacheHits: 1, Failures: 1, Retries: 1, Quota: 2, Wait: 2 * time.Second, Backoff: time.Second}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if s.ErrorsByKind["transient"] != 1 {
		t.Errorf("expected one transient error, got %v", s.ErrorsByKind)
	}
	if s.APICalls() != 2 || s.Quota() != 2 {
		t.Errorf("expected 2 calls and 2 quota, got %d and %d", s.APICalls(), s.Quota())
	}

	s.Providers["serp"] = ProviderStats{}
	if tr.Snapshot().Providers["serp"].Calls != 2 {
		t.Errorf("snapshot shares state with the tracker")
	}
}

func TestStageError_Is(t *testing.T) {
	err := error(&StageError{Stage: StageSerp, Kind: KindPartialFailure})
	if !errors.Is(err, ErrPartialFailure) {
		t.Errorf("expected match on kind")
	}
	if errors.Is(err, ErrTotalFailure) {
		t.Errorf("unexpected match on a different kind")
	}
	if !errors.Is(err, &StageError{Stage: StageSerp, Kind: KindPartialFailure}) {
		t.Errorf("expected match on stage and kind")
	}
	if errors.Is(err, &StageError{Stage: StageMetrics, Kind: KindPartialFailure}) {
		t.Errorf("unexpected match on a different stage")
	}
}
