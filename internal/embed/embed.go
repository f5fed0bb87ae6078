// Package embed turns keyword text into fixed-length vectors for clustering.
package embed

import (
	"context"
	"math"
)

// Embedder returns one vector per text. Vectors from one Embedder share a
// fixed length.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cosine returns the cosine similarity of a and b mapped to [0,1], or 0
// when the lengths differ or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Clamp rounding noise and map negative similarity to 0.
	return min(max(c, 0), 1)
}

// unitNormalize scales v to unit length in place. Zero vectors are left alone.
func unitNormalize(v []float32) {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	if n == 0 {
		return
	}
	n = math.Sqrt(n)
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
}
