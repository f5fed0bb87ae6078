package cluster

import (
	"github.com/FranksOps/seedling/internal/embed"
	"github.com/FranksOps/seedling/internal/keyword"
	"github.com/FranksOps/seedling/internal/normalize"
)

// Jaccard returns |a ∩ b| / |a ∪ b| over token sets, 0 when both are empty.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter, union := 0, len(set)
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// matrix holds the symmetric pairwise similarity of a keyword set.
type matrix struct {
	n   int
	sim []float64
}

func (m *matrix) at(i, j int) float64 { return m.sim[i*m.n+j] }

// embeddingsUsable reports whether every keyword carries an embedding of
// one shared, non-zero length.
func embeddingsUsable(kws []*keyword.Keyword) bool {
	if len(kws) == 0 {
		return true
	}
	dims := len(kws[0].Embedding)
	if dims == 0 {
		return false
	}
	for _, k := range kws[1:] {
		if len(k.Embedding) != dims {
			return false
		}
	}
	return true
}

// buildMatrix computes alpha*cosine + (1-alpha)*jaccard for every pair, or
// plain Jaccard when useEmbeddings is false.
func buildMatrix(kws []*keyword.Keyword, alpha float64, useEmbeddings bool) *matrix {
	n := len(kws)
	tokens := make([][]string, n)
	for i, k := range kws {
		tokens[i] = normalize.Tokens(k.Text)
	}

	m := &matrix{n: n, sim: make([]float64, n*n)}
	for i := 0; i < n; i++ {
		m.sim[i*n+i] = 1
		for j := i + 1; j < n; j++ {
			s := Jaccard(tokens[i], tokens[j])
			if useEmbeddings {
				s = alpha*embed.Cosine(kws[i].Embedding, kws[j].Embedding) + (1-alpha)*s
			}
			m.sim[i*n+j] = s
			m.sim[j*n+i] = s
		}
	}
	return m
}
