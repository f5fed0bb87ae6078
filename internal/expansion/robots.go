package expansion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"

	"github.com/FranksOps/seedling/pkg/httpclient"
)

// UserAgent is the robots.txt group competitor discovery obeys.
const UserAgent = "seedling"

// Robots fetches and caches robots.txt per origin.
type Robots struct {
	client *httpclient.Client
	logger *slog.Logger
	mu     sync.RWMutex
	cache  map[string]*robotstxt.RobotsData
}

// NewRobots creates a robots.txt reader over client.
func NewRobots(client *httpclient.Client, logger *slog.Logger) *Robots {
	if logger == nil {
		logger = slog.Default()
	}
	return &Robots{
		client: client,
		logger: logger,
		cache:  make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether targetURL may be read under the origin's
// robots.txt. A missing or unreadable robots.txt allows everything.
func (r *Robots) Allowed(ctx context.Context, targetURL string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("invalid url: %w", err)
	}

	data, err := r.load(ctx, origin(u))
	if err != nil {
		r.logger.Debug("robots.txt unavailable, allowing", "host", u.Host, "err", err)
		return true, nil
	}
	if data == nil {
		return true, nil
	}
	return data.FindGroup(UserAgent).Test(u.Path), nil
}

// Sitemaps returns the Sitemap entries of the origin's robots.txt.
func (r *Robots) Sitemaps(ctx context.Context, site string) []string {
	u, err := siteURL(site)
	if err != nil {
		return nil
	}
	data, err := r.load(ctx, origin(u))
	if err != nil || data == nil {
		return nil
	}
	return data.Sitemaps
}

func (r *Robots) load(ctx context.Context, host string) (*robotstxt.RobotsData, error) {
	r.mu.RLock()
	data, ok := r.cache[host]
	r.mu.RUnlock()
	if ok {
		return data, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if data, ok = r.cache[host]; ok {
		return data, nil
	}

	body, err := r.client.Get(ctx, host+"/robots.txt", nil)
	if err != nil {
		r.cache[host] = nil
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}

	parsed, err := robotstxt.FromBytes(body)
	if err != nil {
		r.cache[host] = nil
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	r.cache[host] = parsed
	return parsed, nil
}

func origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// siteURL accepts a bare domain or a URL.
func siteURL(site string) (*url.URL, error) {
	if !strings.HasPrefix(site, "http://") && !strings.HasPrefix(site, "https://") {
		site = "https://" + site
	}
	u, err := url.Parse(site)
	if err != nil {
		return nil, fmt.Errorf("invalid site %q: %w", site, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid site %q: no host", site)
	}
	return u, nil
}
