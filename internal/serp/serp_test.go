package serp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/FranksOps/seedling/internal/config"
	"github.com/FranksOps/seedling/internal/provider"
	"github.com/FranksOps/seedling/pkg/httpclient"
)

const serpAPIFixture = `{
  "search_metadata": {"processed_at": "2024-03-01 10:00:00 UTC"},
  "search_parameters": {"q": "running shoes"},
  "search_information": {"total_results": 123000000},
  "organic_results": [
    {"position": 1, "title": "Best Running Shoes 2024", "link": "https://www.runnersworld.com/gear/best-running-shoes", "snippet": "We tested dozens of pairs to find the best running shoes for every runner."},
    {"position": 2, "title": "Running Shoes | Nike", "link": "https://www.nike.com/", "snippet": "Shop running shoes."},
    {"position": 3, "title": "Men's Running Shoes", "link": "https://www.amazon.com/s?k=running+shoes", "snippet": "Results for running shoes."}
  ],
  "related_questions": [{"question": "What are the best running shoes?"}, {"question": "How often should I replace running shoes?"}],
  "related_searches": [{"query": "running shoes women"}, {"query": "trail running shoes"}],
  "ads": [{"title": "ad"}],
  "top_ads": [{"title": "ad2"}],
  "knowledge_graph": {"title": "Running shoe"},
  "shopping_results": [{"title": "x"}]
}`

func TestRequest_CacheKey(t *testing.T) {
	a := Request{Query: "Best  Running Shoes", Geo: "US", Language: "EN"}
	b := Request{Query: "best running shoes", Geo: "us", Language: "en", Device: "desktop"}
	if a.CacheKey() != b.CacheKey() {
		t.Errorf("expected equivalent requests to share a key: %q vs %q", a.CacheKey(), b.CacheKey())
	}
	if a.CacheKey() == (Request{Query: "best running shoes", Geo: "GB"}).CacheKey() {
		t.Errorf("expected geo to be part of the key")
	}
}

func TestSerpAPI_FetchAndParse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("q") != "running shoes" || r.URL.Query().Get("gl") != "US" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(serpAPIFixture))
	}))
	defer ts.Close()

	client, _ := httpclient.New(httpclient.Config{})
	tr := NewSerpAPI(client, ts.URL, "k")

	raw, err := tr.RawCall(context.Background(), Request{Query: "running shoes", Geo: "US", Language: "en"})
	if err != nil {
		t.Fatalf("RawCall: %v", err)
	}
	snap, err := tr.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if snap.Query != "running shoes" || len(snap.Results) != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Results[1].Link != "https://www.nike.com/" || snap.Results[1].Position != 2 {
		t.Errorf("unexpected second result %+v", snap.Results[1])
	}
	if len(snap.PAA) != 2 || len(snap.Related) != 2 {
		t.Errorf("expected 2 PAA and 2 related, got %v %v", snap.PAA, snap.Related)
	}
	if snap.Ads != 2 {
		t.Errorf("expected 2 ads, got %d", snap.Ads)
	}
	if snap.TotalResults != 123000000 {
		t.Errorf("unexpected total results %d", snap.TotalResults)
	}
	want := map[string]bool{FeatureKnowledgeGraph: true, FeaturePAA: true, FeatureShopping: true}
	if len(snap.Features) != len(want) {
		t.Errorf("expected features %v, got %v", want, snap.Features)
	}
	for _, f := range snap.Features {
		if !want[f] {
			t.Errorf("unexpected feature %s", f)
		}
	}
	if snap.RetrievedAt.Year() != 2024 || snap.Provider != "serpapi" {
		t.Errorf("unexpected provenance %v %s", snap.RetrievedAt, snap.Provider)
	}

	bad := NewSerpAPI(client, ts.URL, "wrong")
	_, err = bad.RawCall(context.Background(), Request{Query: "running shoes"})
	if got := provider.Classify("serpapi", err).Kind; got != provider.KindAuthFailure {
		t.Errorf("expected auth failure, got %s", got)
	}
}

func TestSerpAPI_ParseErrors(t *testing.T) {
	tr := NewSerpAPI(nil, "", "")

	if _, err := tr.Parse([]byte("<html>")); err == nil {
		t.Errorf("expected decode error")
	}
	if _, err := tr.Parse([]byte(`{"error":"Invalid API key."}`)); err == nil {
		t.Errorf("expected error payload to fail")
	}
	snap, err := tr.Parse([]byte(`{"error":"Google hasn't returned any results for this query."}`))
	if err != nil || len(snap.Results) != 0 {
		t.Errorf("expected empty snapshot for no results, got %+v %v", snap, err)
	}
}

const resultsPage = `<html><body>
<form><input name="q" value="running shoes"></form>
<div data-text-ad="1">Ad one</div>
<div id="rso">
  <div class="g"><a href="/url?q=https://www.runnersworld.com/gear/&sa=U"><h3>Best Running Shoes</h3></a><div class="VwiC3b">Tested by runners, for runners.</div></div>
  <div class="g"><a href="https://www.nike.com/"><h3>Nike Running</h3></a><div class="VwiC3b">Shop now.</div></div>
  <div class="g"><a href="https://example.com/no-title"></a></div>
</div>
<div class="related-question-pair" data-q="Are running shoes worth it?"></div>
<div class="kp-wholepage">Knowledge</div>
<div id="botstuff"><a href="/search?q=trail">trail running shoes</a></div>
</body></html>`

func TestScraper_Parse(t *testing.T) {
	s := NewScraper(nil, "", nil)
	snap, err := s.Parse([]byte(resultsPage))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if snap.Query != "running shoes" {
		t.Errorf("unexpected query %q", snap.Query)
	}
	if len(snap.Results) != 2 {
		t.Fatalf("expected 2 results, got %+v", snap.Results)
	}
	if snap.Results[0].Link != "https://www.runnersworld.com/gear/" {
		t.Errorf("expected unwrapped redirect link, got %s", snap.Results[0].Link)
	}
	if snap.Results[0].Snippet != "Tested by runners, for runners." {
		t.Errorf("unexpected snippet %q", snap.Results[0].Snippet)
	}
	if snap.Ads != 1 || len(snap.PAA) != 1 || len(snap.Related) != 1 {
		t.Errorf("unexpected ads/paa/related: %d %v %v", snap.Ads, snap.PAA, snap.Related)
	}

	hasKG := false
	for _, f := range snap.Features {
		if f == FeatureKnowledgeGraph {
			hasKG = true
		}
	}
	if !hasKG {
		t.Errorf("expected knowledge graph feature, got %v", snap.Features)
	}

	if _, err := s.Parse([]byte("<html><body>nothing here</body></html>")); err == nil {
		t.Errorf("expected error for page without results container")
	}
}

func TestScraper_BlockedIsRateLimited(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		source  string
	}{
		{"google sorry", http.StatusOK, nil, `<form action="/sorry/index">Our systems have detected unusual traffic from your computer network.</form>`, "Google"},
		{"cloudflare", http.StatusForbidden, map[string]string{"Server": "cloudflare"}, "blocked", "Cloudflare"},
		{"akamai", http.StatusForbidden, nil, "Access Denied. Reference #18.abc", "Akamai"},
		{"datadome", http.StatusForbidden, map[string]string{"X-DataDome": "protected"}, "", "DataDome"},
		{"perimeterx", http.StatusForbidden, nil, `<div id="px-captcha"></div>`, "PerimeterX"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			client, _ := httpclient.New(httpclient.Config{})
			s := NewScraper(client, ts.URL, nil)

			_, err := s.RawCall(context.Background(), Request{Query: "running shoes"})
			if !errors.Is(err, provider.ErrRateLimited) {
				t.Fatalf("expected rate limited error, got %v", err)
			}
			if blocked, source := detect(page{status: tt.status, header: headerOf(tt.headers), body: []byte(tt.body)}, DefaultDetectors()); !blocked || source != tt.source {
				t.Errorf("expected %s, got blocked=%v source=%s", tt.source, blocked, source)
			}
		})
	}
}

func TestScraper_NotBlocked(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer ts.Close()

	client, _ := httpclient.New(httpclient.Config{})
	s := NewScraper(client, ts.URL, nil)
	raw, err := s.RawCall(context.Background(), Request{Query: "running shoes"})
	if err != nil {
		t.Fatalf("RawCall: %v", err)
	}
	if _, err := s.Parse(raw); err != nil {
		t.Fatalf("Parse: %v", err)
	}
}

func TestNewTransport(t *testing.T) {
	if tr, err := NewTransport(config.Provider{Kind: "serpapi"}, nil); err != nil || tr.Name() != "serpapi" {
		t.Errorf("expected serpapi transport, got %v %v", tr, err)
	}
	if tr, err := NewTransport(config.Provider{Kind: "scrape", Profile: "chrome"}, nil); err != nil || tr.Name() != "serp-scrape" {
		t.Errorf("expected scrape transport, got %v %v", tr, err)
	}
	if _, err := NewTransport(config.Provider{Kind: "bing-api"}, nil); err == nil {
		t.Errorf("expected unknown kind error")
	}
}

func TestNewTransport_ScrapeThroughProxies(t *testing.T) {
	var via string
	egress := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		via = r.Host
		w.Write([]byte(resultsPage))
	}))
	defer egress.Close()

	list := filepath.Join(t.TempDir(), "proxies.txt")
	if err := os.WriteFile(list, []byte(egress.URL+"\n"), 0o644); err != nil {
		t.Fatalf("write proxy list: %v", err)
	}

	tr, err := NewTransport(config.Provider{Kind: "scrape", BaseURL: "http://serp.seedling.test/search", Proxies: list}, nil)
	if err != nil {
		t.Fatalf("build transport: %v", err)
	}
	if _, err := tr.RawCall(context.Background(), Request{Query: "running shoes"}); err != nil {
		t.Fatalf("raw call: %v", err)
	}
	if via != "serp.seedling.test" {
		t.Errorf("expected the request to go through the proxy, got host %q", via)
	}

	if _, err := NewTransport(config.Provider{Kind: "scrape", Proxies: filepath.Join(t.TempDir(), "none.txt")}, nil); err == nil {
		t.Errorf("expected an error for a missing proxy list")
	}
}

func headerOf(m map[string]string) http.Header {
	h := http.Header{}
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
