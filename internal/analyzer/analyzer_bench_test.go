package analyzer

import (
	"fmt"
	"testing"

	"github.com/FranksOps/seedling/internal/keyword"
)

func benchmarkSnapshot(n int) keyword.SerpSnapshot {
	titles := []string{
		"HVAC maintenance checklist for industrial facilities",
		"Heat exchanger maintenance: a complete guide",
		"Commercial HVAC repair services near you",
		"Corrosion protection for marine heat exchangers",
		"Industrial heat exchanger inspection schedule",
	}
	snap := keyword.SerpSnapshot{Ads: 2, Features: []string{"people_also_ask"}}
	for i := 0; i < n; i++ {
		snap.Results = append(snap.Results, keyword.SerpResult{
			Position: i + 1,
			Title:    titles[i%len(titles)],
			Link:     fmt.Sprintf("https://site%d.example.com/guides/heat-exchanger-maintenance", i),
			Snippet:  "Regular preventive maintenance helps prevent corrosion and extends equipment life significantly.",
		})
	}
	return snap
}

func BenchmarkAnalyze(b *testing.B) {
	a := New([]string{"amazon.com", "wikipedia.org", "youtube.com"})
	snap := benchmarkSnapshot(10)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		a.Analyze("heat exchanger maintenance", snap)
	}
}

func BenchmarkMatchTitles(b *testing.B) {
	snap := benchmarkSnapshot(100)
	titles := make([]string, len(snap.Results))
	for i, r := range snap.Results {
		titles[i] = r.Title
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		MatchTitles("heat exchanger maintenance", titles)
	}
}
