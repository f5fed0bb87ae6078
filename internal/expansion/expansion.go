// Package expansion grows a set of seed keywords into the candidate
// keyword universe of a run.
package expansion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/seedling/internal/keyword"
	"github.com/FranksOps/seedling/internal/normalize"
	"github.com/FranksOps/seedling/internal/serp"
	"github.com/FranksOps/seedling/internal/suggest"
)

const (
	// DefaultMax caps the number of distinct candidates.
	DefaultMax = 500
	// DefaultPAASeeds is how many seeds have their SERP mined for
	// questions and related searches.
	DefaultPAASeeds = 5
	// competitorPages caps the slugs taken from one competitor.
	competitorPages = 50
)

// ErrNoSeeds is returned when no seed survives normalization.
var ErrNoSeeds = errors.New("expansion: no usable seed keywords")

// Suggester returns autosuggest completions for a query.
type Suggester interface {
	Name() string
	Fetch(ctx context.Context, req suggest.Request) ([]string, error)
}

// SerpFetcher returns the SERP snapshot for a query.
type SerpFetcher interface {
	Fetch(ctx context.Context, req serp.Request) (keyword.SerpSnapshot, error)
}

// Options configures an Expander. A nil collaborator disables the
// methods that depend on it.
type Options struct {
	// Suggest lists autosuggest engines. Seeds are sent to all of them,
	// wildcard patterns only to the first.
	Suggest      []Suggester
	SERP         SerpFetcher
	Robots       *Robots
	Sitemaps     *Sitemaps
	Geo          string
	Language     string
	ContentFocus keyword.Intent
	PAASeeds     int
	Competitors  []string
	Max          int
	Concurrency  int
	Logger       *slog.Logger
}

// Failure is one expansion call that produced nothing.
type Failure struct {
	Method keyword.Source
	Query  string
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %q: %v", f.Method, f.Query, f.Err)
}

// Result is the candidate set in discovery order.
type Result struct {
	Keywords  []*keyword.Keyword
	Failures  []Failure
	Attempted int
	// Truncated is set when candidates were dropped at the cap.
	Truncated bool
}

// Expander runs the expansion methods.
type Expander struct {
	opts Options
	log  *slog.Logger
}

// New creates an Expander.
func New(opts Options) *Expander {
	if opts.Max <= 0 {
		opts.Max = DefaultMax
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.ContentFocus == "" {
		opts.ContentFocus = keyword.IntentInformational
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Expander{opts: opts, log: log}
}

// job is one expansion call. Jobs run concurrently but their output is
// merged in job order so the candidate order is stable.
type job struct {
	method keyword.Source
	query  string
	run    func(ctx context.Context) ([]string, error)
}

// Expand returns the seeds followed by autosuggest, modifier, PAA,
// related and competitor candidates, in that order, capped at Max
// distinct canonical forms. Raw forms that collapse onto an existing
// candidate are kept so that normalization can record their provenance.
func (e *Expander) Expand(ctx context.Context, seeds []string) (Result, error) {
	var res Result
	c := newCollector(e.opts.Max)

	var usable []string
	for _, s := range seeds {
		if c.add(s, keyword.SourceSeed) {
			usable = append(usable, strings.TrimSpace(s))
		}
	}
	if len(usable) == 0 {
		return res, ErrNoSeeds
	}

	jobs := e.jobs(usable)
	out := make([][]string, len(jobs))
	errs := make([]error, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			out[i], errs[i] = j.run(gctx)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, err
	}

	merge := func(method keyword.Source) {
		for i, j := range jobs {
			if j.method != method {
				continue
			}
			res.Attempted++
			if errs[i] != nil {
				res.Failures = append(res.Failures, Failure{Method: j.method, Query: j.query, Err: errs[i]})
				e.log.Warn("expansion call failed", "method", j.method, "query", j.query, "err", errs[i])
				continue
			}
			for _, text := range out[i] {
				c.add(text, j.method)
			}
		}
	}
	merge(keyword.SourceAutosuggest)
	for _, s := range usable {
		for _, m := range Modifiers(s, e.opts.ContentFocus) {
			c.add(m, keyword.SourceModifier)
		}
	}
	merge(keyword.SourcePAA)
	merge(keyword.SourceRelated)
	merge(keyword.SourceCompetitor)

	res.Keywords = c.kws
	res.Truncated = c.dropped > 0
	e.log.Info("expanded seeds",
		"seeds", len(usable),
		"candidates", c.distinct,
		"dropped", c.dropped,
		"failures", len(res.Failures))
	return res, nil
}

func (e *Expander) jobs(seeds []string) []job {
	var jobs []job
	for _, s := range seeds {
		for i, sg := range e.opts.Suggest {
			jobs = append(jobs, e.suggestJob(sg, s))
			if i > 0 {
				continue
			}
			for _, w := range Wildcards(s) {
				jobs = append(jobs, e.suggestJob(sg, w))
			}
		}
	}

	if e.opts.SERP != nil {
		n := e.opts.PAASeeds
		if n > len(seeds) {
			n = len(seeds)
		}
		for _, s := range seeds[:n] {
			req := serp.Request{Query: s, Geo: e.opts.Geo, Language: e.opts.Language}
			jobs = append(jobs,
				job{method: keyword.SourcePAA, query: s, run: func(ctx context.Context) ([]string, error) {
					snap, err := e.opts.SERP.Fetch(ctx, req)
					return snap.PAA, err
				}},
				job{method: keyword.SourceRelated, query: s, run: func(ctx context.Context) ([]string, error) {
					snap, err := e.opts.SERP.Fetch(ctx, req)
					return snap.Related, err
				}},
			)
		}
	}

	if e.opts.Sitemaps != nil {
		for _, site := range e.opts.Competitors {
			jobs = append(jobs, job{method: keyword.SourceCompetitor, query: site, run: func(ctx context.Context) ([]string, error) {
				return e.competitor(ctx, site)
			}})
		}
	}
	return jobs
}

func (e *Expander) suggestJob(sg Suggester, query string) job {
	req := suggest.Request{Query: query, Geo: e.opts.Geo, Language: e.opts.Language}
	return job{method: keyword.SourceAutosuggest, query: query, run: func(ctx context.Context) ([]string, error) {
		return sg.Fetch(ctx, req)
	}}
}

// competitor turns a competitor's sitemap page slugs into candidates.
// Sitemaps are taken from robots.txt, falling back to /sitemap.xml, and
// pages disallowed by robots.txt are skipped.
func (e *Expander) competitor(ctx context.Context, site string) ([]string, error) {
	u, err := siteURL(site)
	if err != nil {
		return nil, err
	}

	var maps []string
	if e.opts.Robots != nil {
		maps = e.opts.Robots.Sitemaps(ctx, origin(u))
	}
	if len(maps) == 0 {
		maps = []string{origin(u) + "/sitemap.xml"}
	}

	var (
		out     []string
		lastErr error
	)
	for _, m := range maps {
		pages, err := e.opts.Sitemaps.URLs(ctx, m)
		if err != nil {
			lastErr = err
			continue
		}
		for _, p := range pages {
			if len(out) >= competitorPages {
				return out, nil
			}
			if e.opts.Robots != nil {
				if ok, _ := e.opts.Robots.Allowed(ctx, p); !ok {
					continue
				}
			}
			if slug := Slug(p); slug != "" {
				out = append(out, slug)
			}
		}
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// collector accumulates candidates and enforces the distinct cap.
type collector struct {
	max      int
	seen     map[string]bool
	distinct int
	dropped  int
	kws      []*keyword.Keyword
}

func newCollector(max int) *collector {
	return &collector{max: max, seen: make(map[string]bool)}
}

// add records raw and reports whether it was a new canonical form.
func (c *collector) add(raw string, src keyword.Source) bool {
	raw = strings.TrimSpace(raw)
	canon := normalize.Canonical(raw)
	if canon == "" {
		return false
	}
	if c.seen[canon] {
		c.kws = append(c.kws, keyword.New(raw, src, len(c.kws)))
		return false
	}
	if c.distinct >= c.max {
		c.dropped++
		return false
	}
	c.seen[canon] = true
	c.distinct++
	c.kws = append(c.kws, keyword.New(raw, src, len(c.kws)))
	return true
}
