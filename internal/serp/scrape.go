package serp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/FranksOps/seedling/internal/keyword"
	"github.com/FranksOps/seedling/internal/provider"
	"github.com/FranksOps/seedling/pkg/httpclient"
)

const defaultSearchURL = "https://www.google.com/search"

// Scraper reads SERPs from a search engine's HTML results page. Block and
// challenge pages are reported as RateLimited so the caller backs off.
type Scraper struct {
	client    *httpclient.Client
	baseURL   string
	detectors []Detector
	log       *slog.Logger
	now       func() time.Time
}

// NewScraper creates an HTML scraping transport. An empty baseURL uses Google.
func NewScraper(client *httpclient.Client, baseURL string, logger *slog.Logger) *Scraper {
	if baseURL == "" {
		baseURL = defaultSearchURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		client:    client,
		baseURL:   baseURL,
		detectors: DefaultDetectors(),
		log:       logger,
		now:       time.Now,
	}
}

func (s *Scraper) Name() string { return "serp-scrape" }

func (s *Scraper) RawCall(ctx context.Context, req Request) ([]byte, error) {
	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("num", "10")
	if req.Geo != "" {
		q.Set("gl", req.Geo)
	}
	if req.Language != "" {
		q.Set("hl", req.Language)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &provider.Error{Kind: provider.KindInvalidRequest, Provider: s.Name(), Err: err}
	}
	hreq.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(ctx, hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpclient.DefaultMaxBody))
	if err != nil {
		return nil, fmt.Errorf("read results page: %w", err)
	}

	if blocked, source := detect(page{status: resp.StatusCode, header: resp.Header, body: body}, s.detectors); blocked {
		s.log.Warn("results page blocked", "source", source, "status", resp.StatusCode, "query", req.Query)
		return nil, &provider.Error{
			Kind:     provider.KindRateLimited,
			Provider: s.Name(),
			Err:      fmt.Errorf("blocked by %s (status %d)", source, resp.StatusCode),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &httpclient.StatusError{Code: resp.StatusCode, Status: resp.Status, Body: body}
	}
	return body, nil
}

// feature selectors are matched against the whole results page.
var featureSelectors = []struct {
	name     string
	selector string
}{
	{FeatureFeaturedSnippet, "div.xpdopen, block-component, [data-attrid='wa:/description']"},
	{FeatureKnowledgeGraph, "div.kp-wholepage, div.knowledge-panel, [data-attrid='title']"},
	{FeatureAnswerBox, "div.answer-box, div.IZ6rdc, div[data-tts='answers']"},
	{FeatureMapPack, "div.local-results, div[data-local-attribute], #lu_map"},
	{FeatureTopStories, "g-section-with-header, div.top-stories"},
	{FeatureImages, "div#imagebox_bigimages, div.image-pack"},
	{FeatureVideos, "video-voyager, div.video-pack"},
	{FeatureShopping, "div.commercial-unit-desktop-top, div.pla-unit, div.shopping-results"},
}

func (s *Scraper) Parse(payload []byte) (keyword.SerpSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return keyword.SerpSnapshot{}, fmt.Errorf("parse results page: %w", err)
	}

	snap := keyword.SerpSnapshot{
		Provider:    s.Name(),
		RetrievedAt: s.now().UTC(),
	}
	if v, ok := doc.Find("input[name='q']").First().Attr("value"); ok {
		snap.Query = v
	}

	doc.Find("div.g").Each(func(_ int, g *goquery.Selection) {
		title := strings.TrimSpace(g.Find("h3").First().Text())
		link, _ := g.Find("a[href]").First().Attr("href")
		if title == "" || link == "" {
			return
		}
		snippet := strings.TrimSpace(g.Find("div.VwiC3b, span.st, div[data-sncf]").First().Text())
		snap.Results = append(snap.Results, keyword.SerpResult{
			Position: len(snap.Results) + 1,
			Title:    title,
			Link:     cleanLink(link),
			Snippet:  snippet,
		})
	})

	doc.Find("div.related-question-pair, div[jsname='yEVEwb']").Each(func(_ int, q *goquery.Selection) {
		text, ok := q.Attr("data-q")
		if !ok {
			text = q.Find("span").First().Text()
		}
		if text = strings.TrimSpace(text); text != "" {
			snap.PAA = append(snap.PAA, text)
		}
	})

	doc.Find("#botstuff a, div.related-searches a").Each(func(_ int, a *goquery.Selection) {
		if text := strings.TrimSpace(a.Text()); text != "" {
			snap.Related = append(snap.Related, text)
		}
	})

	snap.Ads = doc.Find("div[data-text-ad], li.ads-ad").Length()

	for _, f := range featureSelectors {
		if doc.Find(f.selector).Length() > 0 {
			snap.Features = append(snap.Features, f.name)
		}
	}
	if len(snap.PAA) > 0 {
		snap.Features = append(snap.Features, FeaturePAA)
	}

	if len(snap.Results) == 0 && doc.Find("div#search, div#rso").Length() == 0 {
		return keyword.SerpSnapshot{}, fmt.Errorf("no results container in page")
	}
	return snap, nil
}

// cleanLink unwraps Google's /url?q= redirect links.
func cleanLink(href string) string {
	if !strings.HasPrefix(href, "/url?") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if q := u.Query().Get("q"); q != "" {
		return q
	}
	return href
}
