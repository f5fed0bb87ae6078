package serp

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/FranksOps/seedling/internal/config"
	"github.com/FranksOps/seedling/internal/keyword"
	"github.com/FranksOps/seedling/internal/provider"
	"github.com/FranksOps/seedling/pkg/httpclient"
	"github.com/FranksOps/seedling/pkg/proxy"
)

// Feature names reported in SerpSnapshot.Features.
const (
	FeatureFeaturedSnippet = "featured_snippet"
	FeatureKnowledgeGraph  = "knowledge_graph"
	FeatureAnswerBox       = "answer_box"
	FeaturePAA             = "people_also_ask"
	FeatureMapPack         = "map_pack"
	FeatureTopStories      = "top_stories"
	FeatureImages          = "images"
	FeatureVideos          = "videos"
	FeatureShopping        = "shopping"
)

// Request asks for the first page of results for one query.
type Request struct {
	Query    string
	Geo      string
	Language string
	Device   string
}

// CacheKey normalizes the request so equivalent queries share a cache entry.
func (r Request) CacheKey() string {
	device := r.Device
	if device == "" {
		device = "desktop"
	}
	return strings.Join([]string{
		strings.ToLower(strings.Join(strings.Fields(r.Query), " ")),
		strings.ToLower(r.Geo),
		strings.ToLower(r.Language),
		device,
	}, "|")
}

// Transport is a SERP data source.
type Transport = provider.Transport[Request, keyword.SerpSnapshot]

// Access is a governed SERP provider.
type Access = provider.Access[Request, keyword.SerpSnapshot]

// NewTransport builds the SERP transport selected by cfg.Kind.
func NewTransport(cfg config.Provider, logger *slog.Logger) (Transport, error) {
	var pool *proxy.Pool
	if cfg.Proxies != "" {
		var err error
		if pool, err = proxy.Load(cfg.Proxies, proxy.Config{}); err != nil {
			return nil, fmt.Errorf("serp proxies: %w", err)
		}
	}
	client, err := httpclient.New(httpclient.Config{
		Timeout:         cfg.Timeout,
		Profile:         httpclient.Profile(cfg.Profile),
		RotateUserAgent: cfg.Kind == "scrape",
		Headers:         map[string]string{"Accept-Language": "en-US,en;q=0.9"},
		Proxies:         pool,
	})
	if err != nil {
		return nil, fmt.Errorf("serp client: %w", err)
	}

	switch cfg.Kind {
	case "", "serpapi":
		return NewSerpAPI(client, cfg.BaseURL, cfg.APIKey), nil
	case "scrape":
		return NewScraper(client, cfg.BaseURL, logger), nil
	}
	return nil, fmt.Errorf("unknown serp provider kind %q", cfg.Kind)
}
