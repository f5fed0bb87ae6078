package embed

import (
	"context"
	"math"
	"net/url"
	"strings"

	"github.com/FranksOps/seedling/internal/keyword"
	"github.com/FranksOps/seedling/internal/normalize"
)

// DefaultSerpShare is the part of a vector's squared norm given to the SERP
// block when a keyword has results.
const DefaultSerpShare = 0.95

// serpDepth is how many top results describe a SERP.
const serpDepth = 10

// KeywordEmbedder embeds a keyword together with what it ranks alongside.
type KeywordEmbedder interface {
	EmbedKeyword(ctx context.Context, k *keyword.Keyword) ([]float32, error)
}

// Keyword embeds k with e, handing over the whole keyword when e can use it.
func Keyword(ctx context.Context, e Embedder, k *keyword.Keyword) ([]float32, error) {
	if ke, ok := e.(KeywordEmbedder); ok {
		return ke.EmbedKeyword(ctx, k)
	}
	return e.Embed(ctx, k.Text)
}

// Serp appends a hashed view of a keyword's latest SERP to a text
// embedding. Keywords whose top results are the same pages land next to
// each other even when their wording differs, which is what decides
// whether two keywords can share one page. A keyword without results gets
// an empty SERP block, so it is compared on text alone.
type Serp struct {
	text  Embedder
	dims  int
	share float64
}

// ensure Serp implements Embedder
var _ Embedder = (*Serp)(nil)

// ensure Serp implements KeywordEmbedder
var _ KeywordEmbedder = (*Serp)(nil)

// NewSerp wraps text. dims sizes the SERP block and share is its part of
// the squared norm; zero values get defaults.
func NewSerp(text Embedder, dims int, share float64) *Serp {
	if dims <= 0 {
		dims = 256
	}
	if share <= 0 || share >= 1 {
		share = DefaultSerpShare
	}
	return &Serp{text: text, dims: dims, share: share}
}

// Name identifies the wrapped text embedder in degradation records.
func (s *Serp) Name() string {
	if n, ok := s.text.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "embedder"
}

// Embed embeds text with an empty SERP block.
func (s *Serp) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.combine(ctx, text, nil)
}

func (s *Serp) EmbedKeyword(ctx context.Context, k *keyword.Keyword) ([]float32, error) {
	var results []keyword.SerpResult
	if snap, ok := k.Latest(); ok {
		results = snap.Results
	}
	return s.combine(ctx, k.Text, results)
}

func (s *Serp) combine(ctx context.Context, text string, results []keyword.SerpResult) ([]float32, error) {
	t, err := s.text.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	v := make([]float32, len(t)+s.dims)
	head, tail := v[:len(t)], v[len(t):]
	copy(head, t)
	unitNormalize(head)

	if !serpFeatures(tail, results) {
		return v, nil
	}
	unitNormalize(tail)
	a, b := float32(math.Sqrt(1-s.share)), float32(math.Sqrt(s.share))
	for i := range head {
		head[i] *= a
	}
	for i := range tail {
		tail[i] *= b
	}
	return v, nil
}

// serpFeatures hashes the top results into v and reports whether any
// result contributed.
func serpFeatures(v []float32, results []keyword.SerpResult) bool {
	n := 0
	for _, r := range results {
		if n == serpDepth {
			break
		}
		host, page := resultKey(r.Link)
		if host == "" {
			continue
		}
		n++
		addFeature(v, "u:"+page, 1)
		addFeature(v, "d:"+host, 0.5)
		for _, tok := range normalize.Tokens(r.Title) {
			addFeature(v, "t:"+tok, 0.1)
		}
	}
	return n > 0
}

// resultKey reduces a result link to its host and a scheme-less page key.
func resultKey(link string) (host, page string) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", ""
	}
	host = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" {
		return "", ""
	}
	return host, host + "/" + strings.Trim(u.EscapedPath(), "/")
}
