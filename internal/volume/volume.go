// Package volume reads monthly search volume and cost-per-click figures
// from a keyword metrics API.
package volume

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/FranksOps/seedling/internal/config"
	"github.com/FranksOps/seedling/internal/provider"
	"github.com/FranksOps/seedling/pkg/httpclient"
)

const defaultURL = "https://api.keywordmetrics.io/v1/volume"

// Request asks for the metrics of one keyword in one market.
type Request struct {
	Query    string
	Geo      string
	Language string
}

func (r Request) CacheKey() string {
	return strings.Join([]string{
		strings.ToLower(strings.Join(strings.Fields(r.Query), " ")),
		strings.ToUpper(r.Geo),
		strings.ToLower(r.Language),
	}, "|")
}

// Metrics are the market figures for a keyword.
type Metrics struct {
	Volume      int     `json:"search_volume"`
	CPC         float64 `json:"cpc"`
	Competition float64 `json:"competition"`
}

// Transport is a volume data source.
type Transport = provider.Transport[Request, Metrics]

// Access is a governed volume provider.
type Access = provider.Access[Request, Metrics]

// Client calls a JSON keyword metrics endpoint authenticated by bearer token.
type Client struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string
}

// New creates a volume transport. An empty baseURL uses the public endpoint.
func New(client *httpclient.Client, baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	return &Client{client: client, baseURL: baseURL, apiKey: apiKey}
}

// NewTransport builds the volume transport from provider settings.
func NewTransport(cfg config.Provider) (*Client, error) {
	client, err := httpclient.New(httpclient.Config{
		Timeout: cfg.Timeout,
		Profile: httpclient.Profile(cfg.Profile),
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("volume client: %w", err)
	}
	return New(client, cfg.BaseURL, cfg.APIKey), nil
}

func (c *Client) Name() string { return "volume" }

func (c *Client) RawCall(ctx context.Context, req Request) ([]byte, error) {
	q := url.Values{}
	q.Set("keyword", req.Query)
	if req.Geo != "" {
		q.Set("location", strings.ToUpper(req.Geo))
	}
	if req.Language != "" {
		q.Set("language", req.Language)
	}

	h := http.Header{}
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.client.Get(ctx, c.baseURL+"?"+q.Encode(), h)
}

type payload struct {
	Keyword     string   `json:"keyword"`
	Volume      *int     `json:"search_volume"`
	CPC         *float64 `json:"cpc"`
	Competition *float64 `json:"competition"`
}

func (c *Client) Parse(raw []byte) (Metrics, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Metrics{}, fmt.Errorf("decode volume payload: %w", err)
	}
	if p.Volume == nil {
		return Metrics{}, fmt.Errorf("volume payload for %q has no search_volume", p.Keyword)
	}
	if *p.Volume < 0 {
		return Metrics{}, fmt.Errorf("negative search volume %d", *p.Volume)
	}

	m := Metrics{Volume: *p.Volume}
	if p.CPC != nil && *p.CPC > 0 {
		m.CPC = *p.CPC
	}
	if p.Competition != nil {
		m.Competition = min(max(*p.Competition, 0), 1)
	}
	return m, nil
}
