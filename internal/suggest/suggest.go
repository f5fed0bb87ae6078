// Package suggest fetches autocomplete suggestions from search engines'
// public suggest endpoints.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/FranksOps/seedling/internal/config"
	"github.com/FranksOps/seedling/internal/provider"
	"github.com/FranksOps/seedling/pkg/httpclient"
	"github.com/FranksOps/seedling/pkg/proxy"
)

const (
	googleURL = "https://suggestqueries.google.com/complete/search"
	bingURL   = "https://api.bing.com/osjson.aspx"
)

// Request asks for completions of one prefix.
type Request struct {
	Query    string
	Geo      string
	Language string
}

func (r Request) CacheKey() string {
	return strings.Join([]string{
		strings.ToLower(strings.Join(strings.Fields(r.Query), " ")),
		strings.ToLower(r.Geo),
		strings.ToLower(r.Language),
	}, "|")
}

// Transport is an autosuggest data source.
type Transport = provider.Transport[Request, []string]

// Access is a governed autosuggest provider.
type Access = provider.Access[Request, []string]

// Engine selects the suggest endpoint dialect.
type Engine string

const (
	EngineGoogle Engine = "google"
	EngineBing   Engine = "bing"
)

// Client reads OpenSearch-style suggestion arrays: [query, [s1, s2, ...], ...].
type Client struct {
	engine  Engine
	client  *httpclient.Client
	baseURL string
}

// New creates a suggest transport for engine. An empty baseURL uses the
// engine's public endpoint.
func New(engine Engine, client *httpclient.Client, baseURL string) (*Client, error) {
	switch engine {
	case EngineGoogle:
		if baseURL == "" {
			baseURL = googleURL
		}
	case EngineBing:
		if baseURL == "" {
			baseURL = bingURL
		}
	default:
		return nil, fmt.Errorf("unknown suggest engine %q", engine)
	}
	return &Client{engine: engine, client: client, baseURL: baseURL}, nil
}

// NewTransport builds the suggest transport selected by cfg.Kind.
func NewTransport(cfg config.Provider) (*Client, error) {
	var pool *proxy.Pool
	if cfg.Proxies != "" {
		var err error
		if pool, err = proxy.Load(cfg.Proxies, proxy.Config{}); err != nil {
			return nil, fmt.Errorf("suggest proxies: %w", err)
		}
	}
	client, err := httpclient.New(httpclient.Config{
		Timeout:         cfg.Timeout,
		Profile:         httpclient.Profile(cfg.Profile),
		RotateUserAgent: true,
		Proxies:         pool,
	})
	if err != nil {
		return nil, fmt.Errorf("suggest client: %w", err)
	}
	kind := Engine(cfg.Kind)
	if kind == "" {
		kind = EngineGoogle
	}
	return New(kind, client, cfg.BaseURL)
}

func (c *Client) Name() string { return "suggest-" + string(c.engine) }

func (c *Client) RawCall(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, &provider.Error{Kind: provider.KindInvalidRequest, Provider: c.Name(), Err: fmt.Errorf("empty query")}
	}

	q := url.Values{}
	switch c.engine {
	case EngineGoogle:
		q.Set("client", "firefox")
		q.Set("q", req.Query)
		if req.Geo != "" {
			q.Set("gl", strings.ToLower(req.Geo))
		}
		if req.Language != "" {
			q.Set("hl", req.Language)
		}
	case EngineBing:
		q.Set("query", req.Query)
		if req.Language != "" && req.Geo != "" {
			q.Set("market", req.Language+"-"+strings.ToUpper(req.Geo))
		}
	}
	return c.client.Get(ctx, c.baseURL+"?"+q.Encode(), nil)
}

func (c *Client) Parse(payload []byte) ([]string, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(payload, &arr); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	if len(arr) < 2 {
		return nil, fmt.Errorf("decode suggestions: expected at least 2 elements, got %d", len(arr))
	}

	var raw []string
	if err := json.Unmarshal(arr[1], &raw); err != nil {
		return nil, fmt.Errorf("decode suggestion list: %w", err)
	}

	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}
