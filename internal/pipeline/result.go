package pipeline

import (
	"errors"
	"slices"

	"github.com/FranksOps/seedling/internal/brief"
	"github.com/FranksOps/seedling/internal/cluster"
	"github.com/FranksOps/seedling/internal/keyword"
)

// Result is the best-effort outcome of a run. Degraded keywords and
// stage errors are always reported next to the data they affect.
type Result struct {
	RunID    string             `json:"run_id"`
	Keywords []*keyword.Keyword `json:"keywords"`
	cluster.Result
	Briefs   []brief.Brief `json:"briefs,omitempty"`
	Links    []brief.Link  `json:"links,omitempty"`
	Stages   []StageState  `json:"stages"`
	Errors   []*StageError `json:"errors,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Stats    Stats         `json:"stats"`

	// Checkpoint is set when the run stopped before its last stage.
	Checkpoint *Checkpoint `json:"-"`
}

func (p *Pipeline) result(r *run) *Result {
	res := &Result{
		RunID:    p.runID,
		Keywords: r.cp.Keywords,
		Result:   r.clusters,
		Briefs:   r.briefs,
		Stages:   slices.Clone(r.cp.States),
		Errors:   r.cp.Errors,
		Warnings: r.cp.Warnings,
		Stats:    p.tracker.Snapshot(),
	}
	if len(r.clusters.PageGroups) > 0 {
		res.Links = brief.LinkPlan(r.clusters)
	}
	if !r.cp.Done() {
		res.Checkpoint = r.cp
	}
	return res
}

// Complete reports whether every stage ran or was disabled.
func (r *Result) Complete() bool {
	return r.Checkpoint == nil
}

// Err joins the stage errors of the run, or returns nil.
func (r *Result) Err() error {
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Stage returns the recorded state of st.
func (r *Result) Stage(st Stage) StageState {
	for _, s := range r.Stages {
		if s.Stage == st {
			return s
		}
	}
	return StageState{Stage: st, Status: StatusPending}
}

// Degraded returns the keywords with at least one best-effort stage.
func (r *Result) Degraded() []*keyword.Keyword {
	var out []*keyword.Keyword
	for _, k := range r.Keywords {
		if k.IsDegraded() {
			out = append(out, k)
		}
	}
	return out
}

// Keyword returns the record with the given ID.
func (r *Result) Keyword(id string) (*keyword.Keyword, bool) {
	for _, k := range r.Keywords {
		if k.ID == id {
			return k, true
		}
	}
	return nil, false
}

// Remove deletes a keyword from the result and detaches it from its
// PageGroup and Topic.
func (r *Result) Remove(id string) bool {
	i := slices.IndexFunc(r.Keywords, func(k *keyword.Keyword) bool { return k.ID == id })
	if i < 0 {
		return false
	}
	r.Detach(r.Keywords[i])
	r.Keywords = slices.Delete(r.Keywords, i, i+1)
	return true
}
