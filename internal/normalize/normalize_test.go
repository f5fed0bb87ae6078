package normalize

import (
	"testing"

	"github.com/FranksOps/seedling/internal/keyword"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Best Running Shoes ", "best running shoes"},
		{"best running shoes", "best running shoes"},
		{"  BEST\trunning\n shoes", "best running shoes"},
		{"Café Crème near me", "cafe creme near me"},
		{"what's the best running shoe?", "what's the best running shoe"},
		{"\"running shoes\"", "running shoes"},
		{"running shoes - reviews", "running shoes reviews"},
		{"nike vs. adidas", "nike vs. adidas"},
		{"?!", ""},
		{"", ""},
		{"ｆｕｌｌwidth", "fullwidth"},
	}

	for _, tt := range tests {
		got := Canonical(tt.in)
		if got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := Canonical(got); again != got {
			t.Errorf("Canonical is not idempotent for %q: %q then %q", tt.in, got, again)
		}
	}
}

func TestDedupe(t *testing.T) {
	kws := []*keyword.Keyword{
		keyword.New("Best Running Shoes ", keyword.SourceSeed, 0),
		keyword.New("running shoes", keyword.SourceSeed, 1),
		keyword.New("best running shoes", keyword.SourceAutosuggest, 2),
		keyword.New("...", keyword.SourceRelated, 3),
		keyword.New("BEST RUNNING SHOES!", keyword.SourcePAA, 4),
	}
	kws[0].Volume = 1000
	kws[2].Volume = 5

	res := Dedupe(kws)

	if len(res.Keywords) != 2 || res.Merged != 2 || res.Dropped != 1 {
		t.Fatalf("expected 2 keywords, 2 merged, 1 dropped, got %d/%d/%d", len(res.Keywords), res.Merged, res.Dropped)
	}

	first := res.Keywords[0]
	if first.Text != "best running shoes" || first.Raw != "Best Running Shoes " {
		t.Errorf("unexpected survivor %q (raw %q)", first.Text, first.Raw)
	}
	if first.Volume != 1000 {
		t.Errorf("expected first-seen metrics kept, got volume %d", first.Volume)
	}
	if len(first.Alt) != 2 || first.Alt[0].Source != keyword.SourceAutosuggest || first.Alt[1].Source != keyword.SourcePAA {
		t.Errorf("expected alternate provenance recorded, got %+v", first.Alt)
	}
	if first.ID != keyword.NewID("keyword", "best running shoes") {
		t.Errorf("expected deterministic ID, got %s", first.ID)
	}
	if res.Keywords[1].Text != "running shoes" {
		t.Errorf("expected order preserved, got %q second", res.Keywords[1].Text)
	}
}

func TestDedupe_DuplicateFillsMissingSerp(t *testing.T) {
	failed := keyword.New("Trail Shoes", keyword.SourceSeed, 0)
	failed.Degrade(keyword.Degradation{Stage: "serp", Provider: "serpapi", ErrorKind: "transient", Reason: "503"})
	ok := keyword.New("trail shoes", keyword.SourceAutosuggest, 1)
	ok.AddSnapshot(keyword.SerpSnapshot{Query: "trail shoes", Provider: "serpapi"})
	ok.Metrics.ResultCount = 10
	ok.Degrade(keyword.Degradation{Stage: "metrics", Provider: "volume", Reason: "quota"})

	res := Dedupe([]*keyword.Keyword{failed, ok})
	if len(res.Keywords) != 1 {
		t.Fatalf("expected one keyword, got %d", len(res.Keywords))
	}
	k := res.Keywords[0]
	if k.Raw != "Trail Shoes" {
		t.Errorf("expected the first-seen record to survive, got %q", k.Raw)
	}
	if snap, found := k.Latest(); !found || snap.Query != "trail shoes" || k.Metrics.ResultCount != 10 {
		t.Errorf("expected the duplicate's SERP data carried over, got %+v", k.Snapshots)
	}
	if !k.DegradedIn("serp") || !k.DegradedIn("metrics") || len(k.Degraded) != 2 {
		t.Errorf("expected both degradations kept, got %+v", k.Degraded)
	}

	// A survivor with its own snapshot keeps it.
	own := keyword.New("trail shoes", keyword.SourceSeed, 0)
	own.AddSnapshot(keyword.SerpSnapshot{Query: "own"})
	dup := keyword.New("Trail shoes", keyword.SourceRelated, 1)
	dup.AddSnapshot(keyword.SerpSnapshot{Query: "dup"})
	res = Dedupe([]*keyword.Keyword{own, dup})
	if snap, _ := res.Keywords[0].Latest(); snap.Query != "own" || len(res.Keywords[0].Snapshots) != 1 {
		t.Errorf("expected first-seen snapshots kept, got %+v", res.Keywords[0].Snapshots)
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("  Best   Running Shoes!")
	if len(got) != 3 || got[2] != "shoes" {
		t.Errorf("unexpected tokens %v", got)
	}
}
