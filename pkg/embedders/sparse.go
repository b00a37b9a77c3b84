package embedders

import (
	"math"

	"github.com/murtaza-nasir/maestro-sub003/pkg/utils"
)

// SparseEncoder builds token-frequency sparse vectors using the tokenizer's
// vocabulary as the id space. Weights are log-scaled term frequencies,
// L2-normalized so dot products stay comparable across lengths.
type SparseEncoder struct {
	counter *utils.TokenCounter
}

// NewSparseEncoder creates an encoder over the given tokenizer.
func NewSparseEncoder(counter *utils.TokenCounter) *SparseEncoder {
	return &SparseEncoder{counter: counter}
}

// Encode produces the sparse vector for a text. Empty text yields an empty
// vector.
func (e *SparseEncoder) Encode(text string) (SparseVector, error) {
	ids := e.counter.Encode(text)
	if len(ids) == 0 {
		return SparseVector{}, nil
	}

	counts := make(map[int]int, len(ids))
	for _, id := range ids {
		counts[id]++
	}

	vec := make(SparseVector, len(counts))
	var norm float64
	for id, n := range counts {
		w := float32(1 + math.Log(float64(n)))
		vec[id] = w
		norm += float64(w) * float64(w)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for id := range vec {
			vec[id] = float32(float64(vec[id]) / norm)
		}
	}
	return vec, nil
}
