package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"github.com/FranksOps/seedling/pkg/proxy"
)

// DefaultMaxBody caps how much of a response body Fetch reads.
const DefaultMaxBody = 8 << 20

// Config defines the setup for the HTTP Client.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	// Profile selects a TLS fingerprint. Empty means the standard Go stack.
	Profile Profile
	// UserAgents rotates the User-Agent header per request. Empty keeps
	// the caller's header, or DefaultUserAgents when RotateUserAgent is set.
	UserAgents      []string
	RotateUserAgent bool
	// Headers are added to every request that does not already set them.
	Headers map[string]string
	MaxBody int64
	// Provide a custom Transport. It takes precedence over Profile.
	Transport http.RoundTripper
	// Proxies routes each request through the next healthy proxy. Tunnels
	// through a proxy use the standard TLS stack.
	Proxies *proxy.Pool
}

// Client wraps a standard http.Client with timeouts, redirect policy,
// cookies, fingerprinting and User-Agent rotation.
type Client struct {
	*http.Client
	agents  *AgentPool
	proxies *proxy.Pool
	headers map[string]string
	maxBody int64
}

// StatusError is returned by Fetch for a non-2xx response.
type StatusError struct {
	Code       int
	Status     string
	Body       []byte
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

// RetryHint returns the wait the server asked for, if any.
func (e *StatusError) RetryHint() time.Duration { return e.RetryAfter }

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests ||
		e.Code == http.StatusRequestTimeout ||
		e.Code >= 500
}

// New creates a new HTTP client based on the provided configuration.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = DefaultMaxBody
	}

	c := &http.Client{
		Timeout: cfg.Timeout,
	}

	if cfg.MaxRedirects >= 0 {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		}
	} else {
		// Don't follow any redirects if max < 0
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	if cfg.UseCookieJar {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		c.Jar = jar
	}

	switch {
	case cfg.Transport != nil:
		c.Transport = cfg.Transport
	case cfg.Profile != "" && cfg.Profile != ProfileGo:
		rt, err := Transport(cfg.Profile)
		if err != nil {
			return nil, err
		}
		c.Transport = rt
	}

	if cfg.Proxies != nil {
		tr, ok := c.Transport.(*http.Transport)
		switch {
		case c.Transport == nil:
			tr = http.DefaultTransport.(*http.Transport).Clone()
		case !ok:
			return nil, errors.New("proxies need an *http.Transport")
		}
		tr.Proxy = proxy.FromRequest
		c.Transport = tr
	}

	client := &Client{Client: c, proxies: cfg.Proxies, headers: cfg.Headers, maxBody: cfg.MaxBody}
	if len(cfg.UserAgents) > 0 || cfg.RotateUserAgent {
		client.agents = NewAgentPool(cfg.UserAgents)
	}
	return client, nil
}

// Do executes an HTTP request. The provided context.Context should control
// the overarching request timeout/cancellation independent of the client timeout.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		return nil, errors.New("context cannot be nil")
	}

	var via *url.URL
	if c.proxies != nil {
		if via = c.proxies.Next(); via == nil {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, proxy.ErrExhausted)
		}
		ctx = proxy.WithURL(ctx, via)
	}

	r := req.Clone(ctx)
	for k, v := range c.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	if c.agents != nil {
		r.Header.Set("User-Agent", c.agents.Next())
	}

	resp, err := c.Client.Do(r)
	if via != nil {
		c.proxies.Report(via, err == nil && !proxyBlocked(resp.StatusCode))
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, err)
	}
	return resp, nil
}

// proxyBlocked reports statuses that point at the egress address rather
// than the request.
func proxyBlocked(code int) bool {
	return code == http.StatusForbidden ||
		code == http.StatusProxyAuthRequired ||
		code == http.StatusTooManyRequests
}

// Fetch executes req and returns the response body. A non-2xx status is
// returned as a *StatusError carrying the (truncated) body.
func (c *Client) Fetch(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Code:       resp.StatusCode,
			Status:     resp.Status,
			Body:       body,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}

// Get is Fetch for a GET of rawURL with optional extra headers.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.Fetch(ctx, req)
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
