// Package trends reads relative search interest over time and summarizes
// its direction and seasonality.
package trends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/FranksOps/seedling/internal/config"
	"github.com/FranksOps/seedling/internal/keyword"
	"github.com/FranksOps/seedling/internal/provider"
	"github.com/FranksOps/seedling/pkg/httpclient"
)

const (
	defaultURL       = "https://trends.google.com/trends/api/widgetdata/multiline"
	defaultTimeframe = "today 12-m"
)

// Direction labels.
const (
	Rising    = "rising"
	Stable    = "stable"
	Declining = "declining"
	Unknown   = "unknown"
)

// Request asks for the interest series of one keyword.
type Request struct {
	Query     string
	Geo       string
	Timeframe string
}

func (r Request) CacheKey() string {
	tf := r.Timeframe
	if tf == "" {
		tf = defaultTimeframe
	}
	return strings.Join([]string{
		strings.ToLower(strings.Join(strings.Fields(r.Query), " ")),
		strings.ToUpper(r.Geo),
		tf,
	}, "|")
}

// Transport is a trends data source.
type Transport = provider.Transport[Request, keyword.Trend]

// Access is a governed trends provider.
type Access = provider.Access[Request, keyword.Trend]

// Client reads the interest-over-time widget format.
type Client struct {
	client  *httpclient.Client
	baseURL string
}

// New creates a trends transport. An empty baseURL uses Google Trends.
func New(client *httpclient.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	return &Client{client: client, baseURL: baseURL}
}

// NewTransport builds the trends transport from provider settings.
func NewTransport(cfg config.Provider) (*Client, error) {
	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		Profile:      httpclient.Profile(cfg.Profile),
		UseCookieJar: true,
	})
	if err != nil {
		return nil, fmt.Errorf("trends client: %w", err)
	}
	return New(client, cfg.BaseURL), nil
}

func (c *Client) Name() string { return "trends" }

func (c *Client) RawCall(ctx context.Context, req Request) ([]byte, error) {
	tf := req.Timeframe
	if tf == "" {
		tf = defaultTimeframe
	}
	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("geo", strings.ToUpper(req.Geo))
	q.Set("time", tf)
	q.Set("hl", "en-US")
	return c.client.Get(ctx, c.baseURL+"?"+q.Encode(), nil)
}

type multiline struct {
	Default struct {
		TimelineData []struct {
			Time      string `json:"time"`
			Value     []int  `json:"value"`
			IsPartial bool   `json:"isPartial"`
		} `json:"timelineData"`
	} `json:"default"`
}

// xssiPrefix guards JSON responses from being evaluated as script.
var xssiPrefix = []byte(")]}'")

func (c *Client) Parse(payload []byte) (keyword.Trend, error) {
	payload = bytes.TrimSpace(payload)
	if bytes.HasPrefix(payload, xssiPrefix) {
		payload = bytes.TrimLeft(payload[len(xssiPrefix):], ",\r\n ")
	}

	var m multiline
	if err := json.Unmarshal(payload, &m); err != nil {
		return keyword.Trend{}, fmt.Errorf("decode trends payload: %w", err)
	}

	series := make([]int, 0, len(m.Default.TimelineData))
	for _, p := range m.Default.TimelineData {
		if p.IsPartial || len(p.Value) == 0 {
			continue
		}
		series = append(series, p.Value[0])
	}
	return Analyze(series), nil
}

// Analyze summarizes an interest series. The last four points (at most half
// the series) are compared with the rest: a recent mean above 1.2x the older
// mean is rising and below 0.8x is declining. A series is seasonal when its
// peak exceeds 1.5x its mean.
func Analyze(series []int) keyword.Trend {
	t := keyword.Trend{Direction: Unknown, Series: series}
	if len(series) == 0 {
		return t
	}

	sum, peak := 0, series[0]
	for _, v := range series {
		sum += v
		if v > peak {
			peak = v
		}
	}
	mean := float64(sum) / float64(len(series))
	t.Current = series[len(series)-1]
	t.Average = int(mean)
	t.Peak = peak
	t.Seasonal = float64(peak) > mean*1.5

	if len(series) < 2 {
		return t
	}
	recentN := min(4, len(series)/2)
	recent := meanOf(series[len(series)-recentN:])
	older := meanOf(series[:len(series)-recentN])
	switch {
	case recent > older*1.2:
		t.Direction = Rising
	case recent < older*0.8:
		t.Direction = Declining
	default:
		t.Direction = Stable
	}
	return t
}

func meanOf(vs []int) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0
	for _, v := range vs {
		sum += v
	}
	return float64(sum) / float64(len(vs))
}
