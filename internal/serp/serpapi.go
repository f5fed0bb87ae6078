package serp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/seedling/internal/keyword"
	"github.com/FranksOps/seedling/pkg/httpclient"
)

const defaultSerpAPIURL = "https://serpapi.com/search.json"

// SerpAPI fetches SERPs from the serpapi.com JSON API.
type SerpAPI struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string
	now     func() time.Time
}

// NewSerpAPI creates a SerpAPI transport. An empty baseURL uses the public endpoint.
func NewSerpAPI(client *httpclient.Client, baseURL, apiKey string) *SerpAPI {
	if baseURL == "" {
		baseURL = defaultSerpAPIURL
	}
	return &SerpAPI{client: client, baseURL: baseURL, apiKey: apiKey, now: time.Now}
}

func (s *SerpAPI) Name() string { return "serpapi" }

func (s *SerpAPI) RawCall(ctx context.Context, req Request) ([]byte, error) {
	q := url.Values{}
	q.Set("engine", "google")
	q.Set("q", req.Query)
	q.Set("api_key", s.apiKey)
	q.Set("num", "10")
	if req.Geo != "" {
		q.Set("gl", req.Geo)
	}
	if req.Language != "" {
		q.Set("hl", req.Language)
	}
	if req.Device != "" {
		q.Set("device", req.Device)
	}
	return s.client.Get(ctx, s.baseURL+"?"+q.Encode(), nil)
}

type serpAPIPayload struct {
	Error          string `json:"error"`
	SearchMetadata struct {
		ProcessedAt string `json:"processed_at"`
	} `json:"search_metadata"`
	SearchParameters struct {
		Q string `json:"q"`
	} `json:"search_parameters"`
	SearchInformation struct {
		TotalResults int64 `json:"total_results"`
	} `json:"search_information"`
	OrganicResults []struct {
		Position int    `json:"position"`
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
	} `json:"organic_results"`
	RelatedQuestions []struct {
		Question string `json:"question"`
	} `json:"related_questions"`
	RelatedSearches []struct {
		Query string `json:"query"`
	} `json:"related_searches"`
	Ads        []json.RawMessage `json:"ads"`
	TopAds     []json.RawMessage `json:"top_ads"`
	BottomAds  []json.RawMessage `json:"bottom_ads"`
	Featured   json.RawMessage   `json:"featured_snippet"`
	Knowledge  json.RawMessage   `json:"knowledge_graph"`
	AnswerBox  json.RawMessage   `json:"answer_box"`
	Local      json.RawMessage   `json:"local_results"`
	LocalMap   json.RawMessage   `json:"local_map"`
	TopStories json.RawMessage   `json:"top_stories"`
	Images     json.RawMessage   `json:"images"`
	Inline     json.RawMessage   `json:"inline_images"`
	Videos     json.RawMessage   `json:"videos"`
	InlineVids json.RawMessage   `json:"inline_videos"`
	Shopping   json.RawMessage   `json:"shopping_results"`
}

func (s *SerpAPI) Parse(payload []byte) (keyword.SerpSnapshot, error) {
	var p serpAPIPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return keyword.SerpSnapshot{}, fmt.Errorf("decode serpapi payload: %w", err)
	}
	// An empty result page is reported as an error string, not a failure.
	if p.Error != "" && len(p.OrganicResults) == 0 && !strings.Contains(p.Error, "hasn't returned any results") {
		return keyword.SerpSnapshot{}, fmt.Errorf("serpapi: %s", p.Error)
	}

	snap := keyword.SerpSnapshot{
		Query:        p.SearchParameters.Q,
		TotalResults: p.SearchInformation.TotalResults,
		Ads:          len(p.Ads) + len(p.TopAds) + len(p.BottomAds),
		Provider:     s.Name(),
		RetrievedAt:  s.now().UTC(),
	}
	if t, err := time.Parse("2006-01-02 15:04:05 MST", p.SearchMetadata.ProcessedAt); err == nil {
		snap.RetrievedAt = t.UTC()
	}

	for i, r := range p.OrganicResults {
		pos := r.Position
		if pos == 0 {
			pos = i + 1
		}
		snap.Results = append(snap.Results, keyword.SerpResult{
			Position: pos,
			Title:    r.Title,
			Link:     r.Link,
			Snippet:  r.Snippet,
		})
	}
	for _, q := range p.RelatedQuestions {
		if q.Question != "" {
			snap.PAA = append(snap.PAA, q.Question)
		}
	}
	for _, r := range p.RelatedSearches {
		if r.Query != "" {
			snap.Related = append(snap.Related, r.Query)
		}
	}

	present := func(raws ...json.RawMessage) bool {
		for _, r := range raws {
			if len(r) > 0 && string(r) != "null" {
				return true
			}
		}
		return false
	}
	for _, f := range []struct {
		name string
		ok   bool
	}{
		{FeatureFeaturedSnippet, present(p.Featured)},
		{FeatureKnowledgeGraph, present(p.Knowledge)},
		{FeatureAnswerBox, present(p.AnswerBox)},
		{FeaturePAA, len(p.RelatedQuestions) > 0},
		{FeatureMapPack, present(p.Local, p.LocalMap)},
		{FeatureTopStories, present(p.TopStories)},
		{FeatureImages, present(p.Images, p.Inline)},
		{FeatureVideos, present(p.Videos, p.InlineVids)},
		{FeatureShopping, present(p.Shopping)},
	} {
		if f.ok {
			snap.Features = append(snap.Features, f.name)
		}
	}

	return snap, nil
}
