package databases

import (
	"context"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
)

// ChromemStore is the embedded, file-backed vector store used for local
// development and the CLI's offline mode. No external service required.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromemStoreFromConfig opens (or creates) the persistent database.
// An empty path yields an in-memory store.
func NewChromemStoreFromConfig(cfg *config.VectorStoreConfig) (*ChromemStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem database: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	name := cfg.Collection
	if name == "" {
		name = "document_chunks"
	}
	// Embeddings are always supplied by the caller, so the embedding func
	// is never invoked.
	collection, err := db.GetOrCreateCollection(name, nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem store requires precomputed embeddings")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem collection: %w", err)
	}
	return &ChromemStore{db: db, collection: collection}, nil
}

// Upsert writes chunks as chromem documents.
func (s *ChromemStore) Upsert(ctx context.Context, chunks []StoredChunk) error {
	for _, c := range chunks {
		sparseJSON, err := marshalSparse(c.Sparse)
		if err != nil {
			return err
		}
		meta := map[string]string{
			"doc_id":           c.DocID,
			"chunk_index":      strconv.Itoa(c.ChunkIndex),
			"sparse_embedding": string(sparseJSON),
		}
		for k, v := range c.Metadata {
			meta["meta_"+k] = fmt.Sprintf("%v", v)
		}
		doc := chromem.Document{
			ID:        c.ChunkID,
			Metadata:  meta,
			Embedding: c.Dense,
			Content:   c.Text,
		}
		if err := s.collection.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to add chunk %s: %w", c.ChunkID, err)
		}
	}
	return nil
}

// HybridSearch queries by dense similarity, then re-scores with the sparse
// dot product like the other backends.
func (s *ChromemStore) HybridSearch(ctx context.Context, query HybridQuery) ([]Chunk, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 10
	}
	n := limit * candidateFactor
	if total := s.collection.Count(); n > total {
		n = total
	}
	if n == 0 {
		return nil, nil
	}

	var where map[string]string
	if len(query.FilterDocIDs) == 1 {
		where = map[string]string{"doc_id": query.FilterDocIDs[0]}
	}

	results, err := s.collection.QueryEmbedding(ctx, query.Dense, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query failed: %w", err)
	}

	allowed := make(map[string]bool, len(query.FilterDocIDs))
	for _, id := range query.FilterDocIDs {
		allowed[id] = true
	}

	var candidates []StoredChunk
	var denseScores []float64
	for _, r := range results {
		docID := r.Metadata["doc_id"]
		if len(allowed) > 0 && !allowed[docID] {
			continue
		}
		sparse, err := unmarshalSparse([]byte(r.Metadata["sparse_embedding"]))
		if err != nil {
			return nil, err
		}
		chunkIndex, _ := strconv.Atoi(r.Metadata["chunk_index"])

		meta := make(map[string]any)
		for k, v := range r.Metadata {
			if len(k) > 5 && k[:5] == "meta_" {
				meta[k[5:]] = v
			}
		}
		cand := StoredChunk{
			Chunk: Chunk{
				ChunkID:    r.ID,
				DocID:      docID,
				ChunkIndex: chunkIndex,
				Text:       r.Content,
			},
			Sparse: sparse,
		}
		if len(meta) > 0 {
			cand.Metadata = meta
		}
		candidates = append(candidates, cand)
		denseScores = append(denseScores, float64(r.Similarity))
	}
	return combineAndRank(candidates, query, denseScores), nil
}

// DeleteDocument removes all chunks of a document.
func (s *ChromemStore) DeleteDocument(ctx context.Context, docID string) error {
	if err := s.collection.Delete(ctx, map[string]string{"doc_id": docID}, nil); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", docID, err)
	}
	return nil
}

// CheckHealth always succeeds for the embedded store.
func (s *ChromemStore) CheckHealth(ctx context.Context) error {
	return nil
}

// Count returns the number of stored chunks.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Close is a no-op; chromem persists on write.
func (s *ChromemStore) Close() error {
	return nil
}
