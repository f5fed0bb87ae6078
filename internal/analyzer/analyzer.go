// Package analyzer derives scoring signals from a SERP snapshot.
package analyzer

import (
	"net/url"
	"strings"

	"github.com/FranksOps/seedling/internal/keyword"
)

// TopN is how many organic results the ratios are computed over.
const TopN = 10

// Analyzer turns SERP snapshots into SerpMetrics.
type Analyzer struct {
	brands []string
}

// New creates an analyzer that counts results on any of bigBrands (or
// their subdomains) toward the brand presence ratio.
func New(bigBrands []string) *Analyzer {
	brands := make([]string, 0, len(bigBrands))
	for _, b := range bigBrands {
		b = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(b)), "www.")
		if b != "" {
			brands = append(brands, b)
		}
	}
	return &Analyzer{brands: brands}
}

// Analyze computes the metrics of snap for the keyword text.
func (a *Analyzer) Analyze(text string, snap keyword.SerpSnapshot) keyword.SerpMetrics {
	top := snap.Results
	if len(top) > TopN {
		top = top[:TopN]
	}

	m := keyword.SerpMetrics{
		ResultCount: len(top),
		AdCount:     snap.Ads,
		Features:    append([]string(nil), snap.Features...),
	}
	if len(top) == 0 {
		return m
	}

	var homepages, brands, words int
	titles := make([]string, len(top))
	for i, r := range top {
		if IsHomepage(r.Link) {
			homepages++
		}
		if a.IsBrand(r.Link) {
			brands++
		}
		words += len(strings.Fields(r.Snippet))
		titles[i] = r.Title
	}

	n := float64(len(top))
	m.HomepageRatio = float64(homepages) / n
	m.BrandRatio = float64(brands) / n
	m.AvgWordCount = float64(words) / n
	m.ExactMatchTitles, m.PartialTitles = MatchTitles(text, titles)
	return m
}

// IsHomepage reports whether link points at a site root.
func IsHomepage(link string) bool {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Host == "" {
		return false
	}
	path := strings.Trim(u.Path, "/")
	return (path == "" || path == "index.html" || path == "index.php") && u.RawQuery == ""
}

// IsBrand reports whether link is hosted on a configured big-brand domain.
func (a *Analyzer) IsBrand(link string) bool {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" {
		return false
	}
	for _, b := range a.brands {
		if host == b || strings.HasSuffix(host, "."+b) {
			return true
		}
	}
	return false
}
