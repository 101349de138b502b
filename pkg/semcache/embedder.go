package semcache

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder converts text into a fixed-length, L2-normalized vector. The
// cache treats the embedding model as an external dependency behind this
// contract; production deployments plug in a real model.
type Embedder interface {
	// Embed returns the vector for text. The result must have length
	// Dimension() and unit L2 norm (unless the text embeds to the zero
	// vector).
	Embed(text string) ([]float32, error)

	// Dimension returns the fixed vector length.
	Dimension() int
}

// HashEmbedder is a deterministic stand-in embedder that buckets token
// hashes into a fixed-length vector and normalizes it. It exists to
// exercise the similarity machinery without a model; it does not capture
// meaning and should be replaced in production.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hash embedder with the given dimension.
// Dimension must be positive; 128 is a reasonable default.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		panic(fmt.Sprintf("semcache: invalid embedder dimension %d", dim))
	}
	return &HashEmbedder{dim: dim}
}

// Dimension returns the fixed vector length.
func (e *HashEmbedder) Dimension() int { return e.dim }

// Embed hashes each lowercased token into a bucket, accumulates token
// weights, and L2-normalizes the result. Identical text always embeds to
// the identical vector.
func (e *HashEmbedder) Embed(text string) ([]float32, error) {
	vec := make([]float32, e.dim)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()
		idx := int(sum % uint32(e.dim))
		// Sign from a higher hash bit spreads tokens across both
		// directions, which keeps unrelated texts from all pointing
		// into the positive orthant.
		if sum&0x80000000 != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	normalize(vec)
	return vec, nil
}

// normalize scales vec to unit L2 norm in place. The zero vector is left
// unchanged.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Mismatched vector lengths are a programming error and panic.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("semcache: cosine similarity on mismatched dimensions %d and %d", len(a), len(b)))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
