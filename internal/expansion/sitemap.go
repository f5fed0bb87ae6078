package expansion

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"unicode"

	sitemap "github.com/oxffaa/gopher-parse-sitemap"

	"github.com/FranksOps/seedling/pkg/httpclient"
)

// maxSitemapDepth bounds sitemap index recursion.
const maxSitemapDepth = 3

// Sitemaps reads sitemap and sitemap index documents.
type Sitemaps struct {
	client *httpclient.Client
	logger *slog.Logger
}

// NewSitemaps creates a sitemap reader over client.
func NewSitemaps(client *httpclient.Client, logger *slog.Logger) *Sitemaps {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sitemaps{client: client, logger: logger}
}

// URLs fetches a sitemap or sitemap index and returns every page URL,
// following nested sitemaps.
func (s *Sitemaps) URLs(ctx context.Context, sitemapURL string) ([]string, error) {
	return s.urls(ctx, sitemapURL, 0)
}

func (s *Sitemaps) urls(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	s.logger.Debug("fetching sitemap", "url", sitemapURL)

	body, err := s.client.Get(ctx, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}

	var urls []string
	err = sitemap.Parse(bytes.NewReader(body), func(e sitemap.Entry) error {
		urls = append(urls, e.GetLocation())
		return nil
	})
	if err == nil && len(urls) > 0 {
		return urls, nil
	}

	var nested []string
	indexErr := sitemap.ParseIndex(bytes.NewReader(body), func(e sitemap.IndexEntry) error {
		nested = append(nested, e.GetLocation())
		return nil
	})
	if indexErr != nil || len(nested) == 0 {
		return nil, fmt.Errorf("parse sitemap %s: not a sitemap or index", sitemapURL)
	}
	if depth >= maxSitemapDepth {
		return nil, fmt.Errorf("parse sitemap %s: index nested too deep", sitemapURL)
	}

	for _, n := range nested {
		more, err := s.urls(ctx, n, depth+1)
		if err != nil {
			s.logger.Warn("skipping nested sitemap", "url", n, "err", err)
			continue
		}
		urls = append(urls, more...)
	}
	return urls, nil
}

// Slug turns the last path segment of a page URL into keyword text:
// "/blog/best-trail-running-shoes.html" becomes "best trail running shoes".
// It returns "" for home pages, numeric IDs and single-word slugs.
func Slug(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	last := path.Base(strings.TrimSuffix(u.Path, "/"))
	if last == "." || last == "/" || last == "" {
		return ""
	}
	last = strings.TrimSuffix(last, path.Ext(last))

	words := strings.FieldsFunc(strings.ToLower(last), func(r rune) bool {
		return r == '-' || r == '_' || r == '+' || r == ' '
	})
	var kept []string
	for _, w := range words {
		if strings.IndexFunc(w, unicode.IsLetter) < 0 {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) < 2 {
		return ""
	}
	return strings.Join(kept, " ")
}
