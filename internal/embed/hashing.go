package embed

import (
	"context"

	"github.com/cespare/xxhash/v2"

	"github.com/FranksOps/seedling/internal/normalize"
)

// Hashing is an offline embedder using the hashing trick over word
// unigrams, word bigrams and character trigrams. Texts sharing many words
// land close together; it needs no model and is fully deterministic.
type Hashing struct {
	dims int
}

// ensure Hashing implements Embedder
var _ Embedder = (*Hashing)(nil)

// NewHashing creates a hashing embedder producing dims-length vectors.
func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = 256
	}
	return &Hashing{dims: dims}
}

func (h *Hashing) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, h.dims)
	tokens := normalize.Tokens(text)

	for i, t := range tokens {
		addFeature(v, "w:"+t, 1)
		if i > 0 {
			addFeature(v, "b:"+tokens[i-1]+" "+t, 0.5)
		}
		padded := []rune("^" + t + "$")
		for j := 0; j+3 <= len(padded); j++ {
			addFeature(v, "c:"+string(padded[j:j+3]), 0.25)
		}
	}
	unitNormalize(v)
	return v, nil
}

// addFeature hashes feature into one bucket of v.
func addFeature(v []float32, feature string, weight float32) {
	sum := xxhash.Sum64String(feature)
	idx := sum % uint64(len(v))
	// The top bit picks the sign so collisions cancel rather than pile up.
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}
