package report

import (
	"context"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"text/template"
	"time"

	"github.com/FranksOps/seedling/internal/audit"
	"github.com/FranksOps/seedling/internal/pipeline"
)

// ProviderSummary aggregates the audit records of one provider.
type ProviderSummary struct {
	Calls       int
	CacheHits   int
	Errors      int
	Retries     int
	Quota       int
	ErrorKinds  map[string]int
	AvgDuration time.Duration
}

// KeywordLine is one row of the top keyword table.
type KeywordLine struct {
	Text        string
	Intent      string
	Volume      int
	Difficulty  float64
	Opportunity float64
	Degraded    bool
}

// Summary contains aggregated metrics about a pipeline run.
type Summary struct {
	RunID          string
	TotalCalls     int
	TotalCacheHits int
	TotalErrors    int
	TotalQuota     int
	Providers      map[string]*ProviderSummary
	ErrorKinds     map[string]int
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration

	Stages      []pipeline.StageState
	Keywords    int
	Degraded    int
	Topics      int
	PageGroups  int
	Warnings    []string
	TopKeywords []KeywordLine
}

// GenerateSummary processes audit records to generate per-provider metrics.
func GenerateSummary(records []*audit.Record) Summary {
	s := Summary{
		Providers:  make(map[string]*ProviderSummary),
		ErrorKinds: make(map[string]int),
	}

	if len(records) == 0 {
		return s
	}

	s.RunID = records[0].RunID
	s.StartTime = records[0].CreatedAt
	s.EndTime = records[0].CreatedAt
	total := make(map[string]time.Duration)

	for _, r := range records {
		p, ok := s.Providers[r.Provider]
		if !ok {
			p = &ProviderSummary{ErrorKinds: make(map[string]int)}
			s.Providers[r.Provider] = p
		}

		if r.CacheHit {
			p.CacheHits++
			s.TotalCacheHits++
		} else {
			p.Calls++
			s.TotalCalls++
			total[r.Provider] += r.Duration
			if r.Attempt > 1 {
				p.Retries++
			}
		}
		p.Quota += r.QuotaConsumed
		s.TotalQuota += r.QuotaConsumed
		if !r.Success {
			p.Errors++
			s.TotalErrors++
			p.ErrorKinds[r.ErrorKind]++
			s.ErrorKinds[r.ErrorKind]++
		}

		if r.CreatedAt.Before(s.StartTime) {
			s.StartTime = r.CreatedAt
		}
		if r.CreatedAt.After(s.EndTime) {
			s.EndTime = r.CreatedAt
		}
	}

	for name, p := range s.Providers {
		if p.Calls > 0 {
			p.AvgDuration = total[name] / time.Duration(p.Calls)
		}
	}
	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// FromSink summarizes the records of one run stored in sink.
func FromSink(ctx context.Context, sink audit.Sink, runID string) (Summary, error) {
	recs, err := sink.Query(ctx, audit.Filter{RunID: runID})
	if err != nil {
		return Summary{}, fmt.Errorf("query audit records: %w", err)
	}
	s := GenerateSummary(recs)
	s.RunID = runID
	return s, nil
}

// AddResult adds the stage table, cluster counts and the top keywords of
// a pipeline result.
func (s *Summary) AddResult(res *pipeline.Result, top int) {
	if res == nil {
		return
	}
	if s.RunID == "" {
		s.RunID = res.RunID
	}
	if s.Duration == 0 {
		s.Duration = res.Stats.Elapsed
	}
	s.Stages = res.Stages
	s.Keywords = len(res.Keywords)
	s.Degraded = len(res.Degraded())
	s.Topics = len(res.Topics)
	s.PageGroups = len(res.PageGroups)
	s.Warnings = res.Warnings

	s.TopKeywords = s.TopKeywords[:0]
	for i, k := range res.Keywords {
		if i == top {
			break
		}
		s.TopKeywords = append(s.TopKeywords, KeywordLine{
			Text:        k.Text,
			Intent:      string(k.Intent),
			Volume:      k.Volume,
			Difficulty:  k.Difficulty,
			Opportunity: k.Opportunity,
			Degraded:    k.IsDegraded(),
		})
	}
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Seedling Run Summary
--------------------
Run:           {{.RunID}}
Duration:      {{.Duration}}
Keywords:      {{.Keywords}} ({{.Degraded}} degraded)
Clusters:      {{.Topics}} topics, {{.PageGroups}} page groups
API Calls:     {{.TotalCalls}} calls, {{.TotalCacheHits}} cache hits
Quota Used:    {{.TotalQuota}}
Total Errors:  {{.TotalErrors}}

Stages:
{{- range .Stages}}
  {{printf "%-20s" .Stage}} {{printf "%-17s" .Status}} {{.Duration}}{{if .Degraded}} ({{.Degraded}} degraded){{end}}
{{- else}}
  None
{{- end}}

Providers:
{{- range $name, $p := .Providers}}
  {{$name}}: {{$p.Calls}} calls, {{$p.CacheHits}} hits, {{$p.Errors}} errors, {{$p.Retries}} retries, quota {{$p.Quota}}
{{- else}}
  None
{{- end}}

Errors By Kind:
{{- range $kind, $count := .ErrorKinds}}
  {{$kind}}: {{$count}}
{{- else}}
  None
{{- end}}
{{- if .Warnings}}

Warnings:
{{- range .Warnings}}
  {{.}}
{{- end}}
{{- end}}
{{- if .TopKeywords}}

Top Keywords:
{{- range .TopKeywords}}
  {{printf "%-40s" .Text}} vol {{.Volume}}  kd {{printf "%.0f" .Difficulty}}  opp {{printf "%.1f" .Opportunity}}{{if .Degraded}}  *{{end}}
{{- end}}
{{- end}}
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("parse text template: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render text report: %w", err)
	}

	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Seedling Run Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Seedling Run Report</h1>
  <p><strong>Run:</strong> {{.RunID}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Keywords</div>
    <div class="stat-val">{{.Keywords}}</div>
  </div>
  <div class="stat-card">
    <div>Degraded</div>
    <div class="stat-val" style="color: {{if gt .Degraded 0}}red{{else}}green{{end}};">{{.Degraded}}</div>
  </div>
  <div class="stat-card">
    <div>Page Groups</div>
    <div class="stat-val">{{.PageGroups}}</div>
  </div>
  <div class="stat-card">
    <div>API Calls</div>
    <div class="stat-val">{{.TotalCalls}}</div>
  </div>

  <h3>Stages</h3>
  <table>
    <tr><th>Stage</th><th>Status</th><th>Duration</th><th>Degraded</th></tr>
    {{- range .Stages}}
    <tr><td>{{.Stage}}</td><td>{{.Status}}</td><td>{{.Duration}}</td><td>{{.Degraded}}</td></tr>
    {{- else}}
    <tr><td colspan="4">None</td></tr>
    {{- end}}
  </table>

  <h3>Providers</h3>
  <table>
    <tr><th>Provider</th><th>Calls</th><th>Cache Hits</th><th>Errors</th><th>Quota</th></tr>
    {{- range $name, $p := .Providers}}
    <tr><td>{{$name}}</td><td>{{$p.Calls}}</td><td>{{$p.CacheHits}}</td><td>{{$p.Errors}}</td><td>{{$p.Quota}}</td></tr>
    {{- else}}
    <tr><td colspan="5">None</td></tr>
    {{- end}}
  </table>

  <h3>Top Keywords</h3>
  <table>
    <tr><th>Keyword</th><th>Intent</th><th>Volume</th><th>Difficulty</th><th>Opportunity</th></tr>
    {{- range .TopKeywords}}
    <tr><td>{{.Text}}</td><td>{{.Intent}}</td><td>{{.Volume}}</td><td>{{printf "%.0f" .Difficulty}}</td><td>{{printf "%.1f" .Opportunity}}</td></tr>
    {{- else}}
    <tr><td colspan="5">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	// Keyword text comes from third-party suggestions, so it is escaped.
	t, err := htmltemplate.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("parse html template: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}

	return nil
}
