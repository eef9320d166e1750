// Package mock provides deterministic hash-based embeddings.
//
// The vectors carry no meaning: equal texts map to equal vectors and
// different texts to unrelated ones. They keep the vector backend
// exercisable without a model.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

// DefaultDimensions is the vector size used by New.
const DefaultDimensions = 384

// Embedder generates pseudo-random unit vectors seeded by a text hash.
type Embedder struct {
	dimensions int
}

// New creates an embedder producing DefaultDimensions-sized vectors.
func New() *Embedder {
	return NewWithDimensions(DefaultDimensions)
}

// NewWithDimensions creates an embedder of the given size. A non-positive
// size uses DefaultDimensions.
func NewWithDimensions(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dimensions: dims}
}

// Embed hashes text and expands the hash into a normalized vector.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		// LCG step, mapped to [-1, 1].
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}

	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}
