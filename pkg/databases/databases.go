// Package databases implements the document-chunk vector store behind
// hybrid dense+sparse retrieval. pgvector is the primary backend; qdrant
// and chromem are alternatives behind the same interface. The sparse half
// of every hybrid score is computed app-side from int→float maps.
package databases

import (
	"context"
	"sort"

	"github.com/murtaza-nasir/maestro-sub003/pkg/embedders"
)

// Chunk is a retrieved document fragment.
type Chunk struct {
	ChunkID    string         `json:"chunk_id"`
	DocID      string         `json:"doc_id"`
	ChunkIndex int            `json:"chunk_index"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Score      float64        `json:"score"`
}

// StoredChunk is a chunk plus its embeddings, as written at ingest time.
type StoredChunk struct {
	Chunk
	Dense  []float32
	Sparse embedders.SparseVector
}

// HybridQuery is one retrieval request. DenseWeight and SparseWeight are
// normalized to sum to 1 before scoring.
type HybridQuery struct {
	Dense        []float32
	Sparse       embedders.SparseVector
	Limit        int
	DenseWeight  float64
	SparseWeight float64
	FilterDocIDs []string
}

// VectorStore is the document-chunk store. Implementations are singletons
// and safe for concurrent use.
type VectorStore interface {
	Upsert(ctx context.Context, chunks []StoredChunk) error
	HybridSearch(ctx context.Context, query HybridQuery) ([]Chunk, error)
	DeleteDocument(ctx context.Context, docID string) error
	CheckHealth(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// normalizeWeights scales the two weights so they sum to 1. Both zero
// falls back to an even split.
func normalizeWeights(dense, sparse float64) (float64, float64) {
	total := dense + sparse
	if total <= 0 {
		return 0.5, 0.5
	}
	return dense / total, sparse / total
}

// combineAndRank merges dense scores with app-computed sparse scores and
// returns the top limit chunks by combined score.
func combineAndRank(candidates []StoredChunk, query HybridQuery, denseScores []float64) []Chunk {
	dw, sw := normalizeWeights(query.DenseWeight, query.SparseWeight)

	out := make([]Chunk, 0, len(candidates))
	for i, cand := range candidates {
		sparseScore := float64(query.Sparse.Dot(cand.Sparse))
		chunk := cand.Chunk
		chunk.Score = dw*denseScores[i] + sw*sparseScore
		out = append(out, chunk)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out
}
