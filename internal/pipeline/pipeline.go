// Package pipeline runs the keyword research stages in their fixed order
// and collects the per-keyword records, clusters and run statistics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/seedling/internal/analyzer"
	"github.com/FranksOps/seedling/internal/brief"
	"github.com/FranksOps/seedling/internal/classify"
	"github.com/FranksOps/seedling/internal/cluster"
	"github.com/FranksOps/seedling/internal/config"
	"github.com/FranksOps/seedling/internal/embed"
	"github.com/FranksOps/seedling/internal/entity"
	"github.com/FranksOps/seedling/internal/expansion"
	"github.com/FranksOps/seedling/internal/keyword"
	"github.com/FranksOps/seedling/internal/metrics"
	"github.com/FranksOps/seedling/internal/normalize"
	"github.com/FranksOps/seedling/internal/provider"
	"github.com/FranksOps/seedling/internal/scoring"
	"github.com/FranksOps/seedling/internal/serp"
	"github.com/FranksOps/seedling/internal/trends"
	"github.com/FranksOps/seedling/internal/volume"
)

// SerpFetcher returns the SERP snapshot for a query.
type SerpFetcher = expansion.SerpFetcher

// VolumeFetcher returns search volume and CPC for a query.
type VolumeFetcher interface {
	Fetch(ctx context.Context, req volume.Request) (volume.Metrics, error)
}

// TrendsFetcher returns the interest trend for a query.
type TrendsFetcher interface {
	Fetch(ctx context.Context, req trends.Request) (keyword.Trend, error)
}

// Components are the collaborators of a run. A nil provider disables
// what depends on it; nil local components fall back to defaults.
type Components struct {
	Suggest  []expansion.Suggester
	SERP     SerpFetcher
	Volume   VolumeFetcher
	Trends   TrendsFetcher
	Robots   *expansion.Robots
	Sitemaps *expansion.Sitemaps

	Classifier *classify.Classifier
	Entities   entity.Extractor
	// Embedder may be nil, in which case clustering uses token similarity.
	Embedder embed.Embedder
	Briefs   brief.Generator
}

// Event is pushed to the progress callback on every stage transition.
type Event struct {
	RunID  string
	Stage  Stage
	Status Status
	Stats  Stats
}

// Options configures a Pipeline.
type Options struct {
	Logger *slog.Logger
	// Tracker receives provider accounting. Governed providers built for
	// this pipeline must report into the same tracker.
	Tracker  *Tracker
	Progress func(Event)
	// RunID defaults to a random UUID.
	RunID string
}

// Pipeline executes one run. Resume continues it after a cancellation.
type Pipeline struct {
	c        Components
	log      *slog.Logger
	tracker  *Tracker
	progress func(Event)
	runID    string
	closers  []func() error
}

// New creates a pipeline over c.
func New(c Components, opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Tracker == nil {
		opts.Tracker = NewTracker()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if c.Classifier == nil {
		c.Classifier = classify.Default()
	}
	if c.Entities == nil {
		c.Entities = entity.NewGazetteer(nil)
	}
	opts.Tracker.update(func(s *Stats) { s.RunID = opts.RunID })
	return &Pipeline{
		c:        c,
		log:      log.With("run_id", opts.RunID),
		tracker:  opts.Tracker,
		progress: opts.Progress,
		runID:    opts.RunID,
	}
}

// RunID identifies the run in logs and audit records.
func (p *Pipeline) RunID() string { return p.runID }

// Stats returns the current run statistics.
func (p *Pipeline) Stats() Stats { return p.tracker.Snapshot() }

// Close releases the resources opened by Build.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run copies and validates settings, then executes every stage over seeds.
// Invalid settings fail before any provider is called. When ctx is
// cancelled the run stops at the next stage boundary and returns its
// partial result with a Checkpoint together with the context error.
func (p *Pipeline) Run(ctx context.Context, seeds []string, settings config.Settings) (*Result, error) {
	cfg := settings.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cp := &Checkpoint{
		RunID:    p.runID,
		Seeds:    slices.Clone(seeds),
		Settings: cfg,
		States:   initialStates(),
	}
	return p.execute(ctx, cp)
}

// Resume continues a cancelled run from cp with the settings it started with.
func (p *Pipeline) Resume(ctx context.Context, cp *Checkpoint) (*Result, error) {
	if cp == nil {
		return nil, errors.New("resume: nil checkpoint")
	}
	if cp.Done() {
		return nil, errors.New("resume: run already complete")
	}
	if err := cp.Settings.Validate(); err != nil {
		return nil, err
	}
	p.log.Info("resuming run", "next_stage", cp.NextStage(), "keywords", len(cp.Keywords))
	return p.execute(ctx, cp)
}

// run holds the engines built from one settings snapshot.
type run struct {
	cfg      config.Settings
	cp       *Checkpoint
	disabled map[Stage]bool
	scorer   *scoring.Engine
	cluster  *cluster.Engine
	analyzer *analyzer.Analyzer
	clusters cluster.Result
	briefs   []brief.Brief
}

func (p *Pipeline) prepare(cp *Checkpoint) (*run, error) {
	r := &run{cfg: cp.Settings, cp: cp, disabled: map[Stage]bool{}}
	for _, name := range cp.Settings.Pipeline.Disabled {
		st, err := ParseStage(name)
		if err != nil {
			return nil, &config.Error{Kind: config.KindInvalidSettings, Field: "pipeline.disabled_stages", Msg: err.Error()}
		}
		r.disabled[st] = true
	}

	var err error
	if r.scorer, err = scoring.New(cp.Settings.Scoring); err != nil {
		return nil, err
	}
	if r.cluster, err = cluster.New(cp.Settings.Cluster, p.log); err != nil {
		return nil, err
	}
	r.analyzer = analyzer.New(cp.Settings.Scoring.BigBrands)
	return r, nil
}

// errFatal marks a stage failure that leaves nothing for later stages.
var errFatal = errors.New("pipeline aborted")

func (p *Pipeline) execute(ctx context.Context, cp *Checkpoint) (*Result, error) {
	r, err := p.prepare(cp)
	if err != nil {
		return nil, err
	}

	for !cp.Done() {
		if err := ctx.Err(); err != nil {
			p.log.Info("run cancelled", "next_stage", cp.NextStage())
			return p.result(r), err
		}

		st := cp.NextStage()
		state := &cp.States[cp.Next]
		if r.disabled[st] || !p.available(st) {
			if err := p.skip(r, st); err != nil {
				state.Status = StatusFailed
				p.emit(st, state.Status)
				cp.Next = len(Stages)
				return p.result(r), err
			}
			state.Status = StatusDisabled
			p.log.Info("stage disabled", "stage", st)
			p.emit(st, state.Status)
			cp.Next++
			continue
		}

		clearDegradations(cp.Keywords, st)
		start := time.Now()
		state.Status, state.Started = StatusRunning, start
		p.log.Info("stage started", "stage", st, "keywords", len(cp.Keywords))
		p.emit(st, state.Status)

		out, err := p.runStage(ctx, r, st)
		elapsed := time.Since(start)

		if errors.Is(err, errInterrupted) {
			state.Status, state.Started = StatusPending, time.Time{}
			clearDegradations(cp.Keywords, st)
			p.log.Info("stage interrupted", "stage", st, "elapsed", elapsed)
			p.emit(st, state.Status)
			return p.result(r), ctx.Err()
		}

		state.Processed, state.Degraded = out.processed, out.degraded()
		state.Duration, state.Finished = elapsed, start.Add(elapsed)
		state.Status = out.status()
		if err != nil {
			state.Status = StatusFailed
		}
		if serr := out.stageError(st); serr != nil {
			cp.Errors = append(cp.Errors, serr)
		}

		kws := cp.Keywords
		p.tracker.update(func(s *Stats) {
			s.StageTimes[st] += elapsed
			s.Processed = len(kws)
			s.Degraded = countDegraded(kws)
		})
		metrics.RecordStage(string(st), string(state.Status), elapsed, state.Degraded)
		p.emit(st, state.Status)

		if err != nil {
			p.log.Error("stage failed", "stage", st, "err", err)
			cp.Next = len(Stages)
			return p.result(r), err
		}
		level := slog.LevelInfo
		if state.Status != StatusCompleted {
			level = slog.LevelWarn
		}
		p.log.Log(ctx, level, "stage finished", "stage", st, "status", state.Status,
			"duration", elapsed, "processed", state.Processed, "degraded", state.Degraded)
		cp.Next++
	}

	p.writeBriefs(ctx, r)
	return p.result(r), nil
}

func (p *Pipeline) available(st Stage) bool {
	if st == StageSerp {
		return p.c.SERP != nil
	}
	return true
}

func (p *Pipeline) runStage(ctx context.Context, r *run, st Stage) (*outcome, error) {
	switch st {
	case StageExpansion:
		return p.expand(ctx, r)
	case StageSerp:
		return p.collectSerp(ctx, r)
	case StageMetrics:
		return p.enrich(ctx, r)
	case StageNormalization:
		return p.normalize(r)
	case StageClassification:
		return p.classify(ctx, r)
	case StageScoring:
		return p.score(r), nil
	case StageClustering:
		return p.clusterKeywords(ctx, r), nil
	}
	return newOutcome(st, 0), fmt.Errorf("unknown stage %q", st)
}

// skip lets a disabled stage's input through.
func (p *Pipeline) skip(r *run, st Stage) error {
	switch st {
	case StageExpansion:
		for _, s := range r.cp.Seeds {
			if s = strings.TrimSpace(s); s != "" {
				r.cp.Keywords = append(r.cp.Keywords, keyword.New(s, keyword.SourceSeed, len(r.cp.Keywords)))
			}
		}
		if len(r.cp.Keywords) == 0 {
			return fmt.Errorf("%w: %w", errFatal, expansion.ErrNoSeeds)
		}
		n := len(r.cp.Keywords)
		p.tracker.update(func(s *Stats) { s.Expanded, s.Processed = n, n })
	case StageNormalization:
		for _, k := range r.cp.Keywords {
			if k.ID == "" {
				k.ID = keyword.NewID("keyword", fmt.Sprintf("%d:%s", k.Order, k.Text))
			}
		}
	}
	return nil
}

func (p *Pipeline) expand(ctx context.Context, r *run) (*outcome, error) {
	pc := r.cfg.Pipeline
	exp := expansion.New(expansion.Options{
		Suggest:      p.c.Suggest,
		SERP:         p.c.SERP,
		Robots:       p.c.Robots,
		Sitemaps:     p.c.Sitemaps,
		Geo:          pc.Geo,
		Language:     pc.Language,
		ContentFocus: keyword.Intent(pc.ContentFocus),
		PAASeeds:     pc.PAASeeds,
		Competitors:  pc.Competitors,
		Max:          pc.MaxKeywords,
		Concurrency:  pc.Concurrency,
		Logger:       p.log,
	})

	out := newOutcome(StageExpansion, len(r.cp.Seeds))
	res, err := exp.Expand(ctx, r.cp.Seeds)
	if err != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("%w: %w", errInterrupted, err)
		}
		return out, fmt.Errorf("%w: %w", errFatal, err)
	}

	r.cp.Keywords = res.Keywords
	out.usable = len(res.Keywords)
	for _, f := range res.Failures {
		out.failures = append(out.failures, KeywordFailure{
			Keyword:   f.Query,
			Provider:  string(f.Method),
			ErrorKind: errorKind(f.Err),
			Reason:    f.Err.Error(),
		})
	}
	if res.Truncated {
		r.cp.Warnings = append(r.cp.Warnings, fmt.Sprintf("expansion stopped at %d keywords", pc.MaxKeywords))
	}
	n := len(res.Keywords)
	p.tracker.update(func(s *Stats) { s.Expanded = n })
	return out, nil
}

func (p *Pipeline) collectSerp(ctx context.Context, r *run) (*outcome, error) {
	var todo []*keyword.Keyword
	for _, k := range r.cp.Keywords {
		if len(k.Snapshots) == 0 {
			todo = append(todo, k)
		}
	}

	out := newOutcome(StageSerp, len(r.cp.Keywords))
	out.usable = len(r.cp.Keywords) - len(todo)
	g := newGate()
	name := nameOf(p.c.SERP, "serp")
	pc := r.cfg.Pipeline

	err := forEach(ctx, pc.Concurrency, todo, func(ctx context.Context, k *keyword.Keyword) {
		var snap keyword.SerpSnapshot
		err := g.call(name, func() (err error) {
			snap, err = p.c.SERP.Fetch(ctx, serp.Request{Query: k.Raw, Geo: pc.Geo, Language: pc.Language})
			return err
		})
		if err != nil {
			out.degrade(p.log, k, name, err)
			return
		}
		k.AddSnapshot(snap)
		out.ok()
	})
	return out, err
}

func (p *Pipeline) enrich(ctx context.Context, r *run) (*outcome, error) {
	out := newOutcome(StageMetrics, len(r.cp.Keywords))
	g := newGate()
	volName := nameOf(p.c.Volume, "volume")
	trendName := nameOf(p.c.Trends, "trends")
	pc := r.cfg.Pipeline

	err := forEach(ctx, pc.Concurrency, r.cp.Keywords, func(ctx context.Context, k *keyword.Keyword) {
		if snap, ok := k.Latest(); ok {
			k.Metrics = r.analyzer.Analyze(k.Raw, snap)
		}

		usable := p.c.Volume == nil && p.c.Trends == nil
		if p.c.Volume != nil {
			var m volume.Metrics
			err := g.call(volName, func() (err error) {
				m, err = p.c.Volume.Fetch(ctx, volume.Request{Query: k.Raw, Geo: pc.Geo, Language: pc.Language})
				return err
			})
			if err != nil {
				out.degrade(p.log, k, volName, err)
			} else {
				k.Volume, k.CPC = m.Volume, m.CPC
				usable = true
			}
		}
		if p.c.Trends != nil {
			var t keyword.Trend
			err := g.call(trendName, func() (err error) {
				t, err = p.c.Trends.Fetch(ctx, trends.Request{Query: k.Raw, Geo: pc.Geo})
				return err
			})
			if err != nil {
				out.degrade(p.log, k, trendName, err)
			} else {
				k.Trend = t
				usable = true
			}
		}
		if usable {
			out.ok()
		}
	})
	return out, err
}

func (p *Pipeline) normalize(r *run) (*outcome, error) {
	before := len(r.cp.Keywords)
	res := normalize.Dedupe(r.cp.Keywords)
	r.cp.Keywords = res.Keywords
	p.tracker.update(func(s *Stats) {
		s.Deduplicated = res.Merged
		s.Dropped = res.Dropped
	})
	p.log.Debug("keywords normalized", "before", before, "after", len(res.Keywords), "merged", res.Merged, "dropped", res.Dropped)

	out := newOutcome(StageNormalization, before)
	out.usable = len(res.Keywords)
	if len(res.Keywords) == 0 {
		return out, fmt.Errorf("%w: no keywords left after normalization", errFatal)
	}
	return out, nil
}

func (p *Pipeline) classify(ctx context.Context, r *run) (*outcome, error) {
	out := newOutcome(StageClassification, len(r.cp.Keywords))
	err := forEach(ctx, r.cfg.Pipeline.Concurrency, r.cp.Keywords, func(ctx context.Context, k *keyword.Keyword) {
		p.c.Classifier.Apply(k)
		out.ok()

		found, err := p.c.Entities.Extract(ctx, k.Raw)
		k.Entities = entity.Merge(k.Entities, found)
		if err != nil {
			out.degrade(p.log, k, nameOf(p.c.Entities, "entities"), err)
		}

		if p.c.Embedder != nil {
			v, err := embed.Keyword(ctx, p.c.Embedder, k)
			if err != nil {
				k.Embedding = nil
				out.degrade(p.log, k, nameOf(p.c.Embedder, "embedder"), err)
				return
			}
			k.Embedding = v
		}
	})
	return out, err
}

func (p *Pipeline) score(r *run) *outcome {
	for _, k := range r.cp.Keywords {
		r.scorer.Score(k)
	}
	scoring.Rank(r.cp.Keywords)
	out := newOutcome(StageScoring, len(r.cp.Keywords))
	out.usable = len(r.cp.Keywords)
	return out
}

func (p *Pipeline) clusterKeywords(ctx context.Context, r *run) *outcome {
	p.restoreEmbeddings(ctx, r.cp.Keywords)
	r.clusters = r.cluster.Cluster(r.cp.Keywords)
	if w := r.clusters.Warning; w != nil {
		p.log.Warn("clustering degraded", "err", w)
		r.cp.Warnings = append(r.cp.Warnings, w.Error())
	}
	out := newOutcome(StageClustering, len(r.cp.Keywords))
	out.usable = len(r.cp.Keywords)
	return out
}

// restoreEmbeddings recomputes embeddings lost when a checkpoint went
// through serialization. Keywords whose embedding failed stay without one.
func (p *Pipeline) restoreEmbeddings(ctx context.Context, kws []*keyword.Keyword) {
	if p.c.Embedder == nil {
		return
	}
	for _, k := range kws {
		if k.Embedding != nil || k.DegradedIn(string(StageClassification)) {
			continue
		}
		v, err := embed.Keyword(context.WithoutCancel(ctx), p.c.Embedder, k)
		if err != nil {
			p.log.Debug("embedding not restored", "keyword", k.Text, "err", err)
			continue
		}
		k.Embedding = v
	}
}

func (p *Pipeline) writeBriefs(ctx context.Context, r *run) {
	if !r.cfg.Pipeline.Briefs || len(r.clusters.PageGroups) == 0 {
		return
	}
	gen := p.c.Briefs
	if gen == nil {
		gen = &brief.Template{}
	}
	byID := make(map[string]*keyword.Keyword, len(r.cp.Keywords))
	for _, k := range r.cp.Keywords {
		byID[k.ID] = k
	}
	for _, pg := range r.clusters.PageGroups {
		in := brief.Input{Group: pg}
		if k, ok := byID[pg.PillarID]; ok {
			in.Members = append(in.Members, k)
		}
		for _, id := range pg.Members {
			if k, ok := byID[id]; ok && id != pg.PillarID {
				in.Members = append(in.Members, k)
			}
		}
		b, err := gen.Generate(ctx, in)
		if err != nil {
			p.log.Warn("brief not generated", "page_group", pg.ID, "err", err)
			r.cp.Warnings = append(r.cp.Warnings, fmt.Sprintf("brief for %s: %v", pg.Label, err))
			continue
		}
		r.briefs = append(r.briefs, b)
	}
}

func (p *Pipeline) emit(st Stage, status Status) {
	if p.progress == nil {
		return
	}
	p.progress(Event{RunID: p.runID, Stage: st, Status: status, Stats: p.tracker.Snapshot()})
}

// errInterrupted marks a stage stopped by cancellation before every
// keyword was dispatched.
var errInterrupted = errors.New("stage interrupted")

// forEach runs fn over kws on at most limit goroutines. Calls already
// dispatched finish even if ctx is cancelled; no new ones start.
func forEach(ctx context.Context, limit int, kws []*keyword.Keyword, fn func(context.Context, *keyword.Keyword)) error {
	calls := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(max(limit, 1))

	var err error
	for _, k := range kws {
		if err = ctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			fn(calls, k)
			return nil
		})
	}
	_ = g.Wait()
	if err != nil {
		return fmt.Errorf("%w: %w", errInterrupted, err)
	}
	return nil
}

// gate stops calling a provider once it has failed in a way that
// affects every later call.
type gate struct {
	mu     sync.Mutex
	halted map[string]error
}

func newGate() *gate {
	return &gate{halted: map[string]error{}}
}

func (g *gate) call(name string, fn func() error) error {
	g.mu.Lock()
	h := g.halted[name]
	g.mu.Unlock()
	if h != nil {
		return h
	}

	err := fn()
	if provider.KindOf(err).Halts() {
		g.mu.Lock()
		if g.halted[name] == nil {
			g.halted[name] = err
		}
		g.mu.Unlock()
	}
	return err
}

// outcome accumulates one stage's per-keyword results.
type outcome struct {
	mu        sync.Mutex
	stage     Stage
	processed int
	usable    int
	failures  []KeywordFailure
}

func newOutcome(st Stage, processed int) *outcome {
	return &outcome{stage: st, processed: processed}
}

func (o *outcome) ok() {
	o.mu.Lock()
	o.usable++
	o.mu.Unlock()
}

// degrade marks k best-effort for the stage. Only the goroutine owning k
// may call it for k.
func (o *outcome) degrade(log *slog.Logger, k *keyword.Keyword, name string, err error) {
	kind := errorKind(err)
	k.Degrade(keyword.Degradation{Stage: string(o.stage), Provider: name, ErrorKind: kind, Reason: err.Error()})
	log.Warn("keyword degraded", "stage", o.stage, "keyword", k.Raw, "provider", name, "kind", kind, "err", err)

	o.mu.Lock()
	o.failures = append(o.failures, KeywordFailure{
		KeywordID: k.ID,
		Keyword:   k.Raw,
		Provider:  name,
		ErrorKind: kind,
		Reason:    err.Error(),
	})
	o.mu.Unlock()
}

func (o *outcome) degraded() int {
	seen := map[string]struct{}{}
	for _, f := range o.failures {
		seen[f.Keyword] = struct{}{}
	}
	return len(seen)
}

func (o *outcome) status() Status {
	switch {
	case len(o.failures) == 0:
		return StatusCompleted
	case o.usable == 0:
		return StatusFailed
	}
	return StatusPartiallyFailed
}

func (o *outcome) stageError(st Stage) *StageError {
	if len(o.failures) == 0 {
		return nil
	}
	kind := KindPartialFailure
	if o.usable == 0 {
		kind = KindTotalFailure
	}
	return &StageError{Stage: st, Kind: kind, Failures: slices.Clone(o.failures)}
}

func clearDegradations(kws []*keyword.Keyword, st Stage) {
	for _, k := range kws {
		k.Degraded = slices.DeleteFunc(k.Degraded, func(d keyword.Degradation) bool {
			return d.Stage == string(st)
		})
	}
}

func countDegraded(kws []*keyword.Keyword) int {
	n := 0
	for _, k := range kws {
		if k.IsDegraded() {
			n++
		}
	}
	return n
}

func errorKind(err error) string {
	if kind := provider.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func nameOf(v any, fallback string) string {
	if n, ok := v.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fallback
}
