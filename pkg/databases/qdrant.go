package databases

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
)

// QdrantStore backs retrieval with a Qdrant collection. Dense search uses
// the server; the sparse embedding travels in the payload and is re-scored
// app-side like the other backends.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStoreFromConfig connects to a Qdrant instance.
func NewQdrantStoreFromConfig(cfg *config.VectorStoreConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "document_chunks"
	}
	return &QdrantStore{client: client, collection: collection}, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, vectorSize int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Upsert writes chunks as points keyed by chunk id.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []StoredChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, len(chunks[0].Dense)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		sparseJSON, err := marshalSparse(c.Sparse)
		if err != nil {
			return err
		}
		payload := map[string]any{
			"doc_id":           c.DocID,
			"chunk_index":      c.ChunkIndex,
			"chunk_text":       c.Text,
			"sparse_embedding": string(sparseJSON),
		}
		for k, v := range c.Metadata {
			payload["meta_"+k] = v
		}
		qp := qdrant.NewValueMap(payload)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(c.ChunkID),
			Vectors: qdrant.NewVectors(c.Dense...),
			Payload: qp,
		})
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// HybridSearch runs a dense search on the server, then re-scores the
// candidates with the sparse dot product.
func (s *QdrantStore) HybridSearch(ctx context.Context, query HybridQuery) ([]Chunk, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 10
	}

	req := &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         query.Dense,
		Limit:          uint64(limit * candidateFactor),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(query.FilterDocIDs) > 0 {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchKeywords("doc_id", query.FilterDocIDs...),
			},
		}
	}

	result, err := s.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	var candidates []StoredChunk
	var denseScores []float64
	for _, point := range result.Result {
		cand, err := pointToChunk(point)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, cand)
		denseScores = append(denseScores, float64(point.Score))
	}
	return combineAndRank(candidates, query, denseScores), nil
}

func pointToChunk(point *qdrant.ScoredPoint) (StoredChunk, error) {
	var cand StoredChunk
	if point.Id != nil {
		if uid, ok := point.Id.PointIdOptions.(*qdrant.PointId_Uuid); ok {
			cand.ChunkID = uid.Uuid
		} else if num, ok := point.Id.PointIdOptions.(*qdrant.PointId_Num); ok {
			cand.ChunkID = fmt.Sprintf("%d", num.Num)
		}
	}

	meta := make(map[string]any)
	for key, value := range point.Payload {
		switch v := value.Kind.(type) {
		case *qdrant.Value_StringValue:
			switch key {
			case "doc_id":
				cand.DocID = v.StringValue
			case "chunk_text":
				cand.Text = v.StringValue
			case "sparse_embedding":
				sparse, err := unmarshalSparse([]byte(v.StringValue))
				if err != nil {
					return cand, err
				}
				cand.Sparse = sparse
			default:
				meta[strings.TrimPrefix(key, "meta_")] = v.StringValue
			}
		case *qdrant.Value_IntegerValue:
			if key == "chunk_index" {
				cand.ChunkIndex = int(v.IntegerValue)
			} else {
				meta[strings.TrimPrefix(key, "meta_")] = v.IntegerValue
			}
		case *qdrant.Value_DoubleValue:
			meta[strings.TrimPrefix(key, "meta_")] = v.DoubleValue
		case *qdrant.Value_BoolValue:
			meta[strings.TrimPrefix(key, "meta_")] = v.BoolValue
		}
	}
	if len(meta) > 0 {
		cand.Metadata = meta
	}
	return cand, nil
}

// DeleteDocument removes every point whose doc_id matches.
func (s *QdrantStore) DeleteDocument(ctx context.Context, docID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchKeyword("doc_id", docID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", docID, err)
	}
	return nil
}

// CheckHealth verifies the server responds.
func (s *QdrantStore) CheckHealth(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("vector store unavailable: %w", err)
	}
	return nil
}

// Count returns the number of stored points.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

// Close shuts down the client connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
