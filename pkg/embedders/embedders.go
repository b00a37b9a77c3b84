// Package embedders provides dense and sparse embeddings for document
// chunks and queries. The dense embedder talks to an OpenAI-compatible
// endpoint; the sparse encoder runs in-process.
package embedders

import "context"

// Embedder produces dense vectors for texts.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the width of returned vectors.
	Dimension() int
	Close() error
}

// SparseVector maps token ids to weights. The sparse half of hybrid search
// is computed app-side from these.
type SparseVector map[int]float32

// Dot computes the sparse dot product of two vectors.
func (v SparseVector) Dot(other SparseVector) float32 {
	if len(other) < len(v) {
		v, other = other, v
	}
	var sum float32
	for id, w := range v {
		if ow, ok := other[id]; ok {
			sum += w * ow
		}
	}
	return sum
}
