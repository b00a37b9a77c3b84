package databases

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/embedders"
)

// candidateFactor controls how many dense candidates are pulled before the
// app-side sparse re-score.
const candidateFactor = 4

// PgVectorStore backs retrieval with PostgreSQL + pgvector. The dense half
// of a hybrid query runs as a `<=>` cosine search; sparse similarity is
// computed in the app from the stored jsonb maps.
type PgVectorStore struct {
	db    *sql.DB
	table string
}

// NewPgVectorStoreFromConfig opens the connection pool. The schema is
// created on first use if missing; an HNSW index is expected but not
// required.
func NewPgVectorStoreFromConfig(cfg *config.VectorStoreConfig) (*PgVectorStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pgvector store requires a DSN")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	table := cfg.Collection
	if table == "" {
		table = "document_chunks"
	}
	return &PgVectorStore{db: db, table: table}, nil
}

// EnsureSchema creates the chunk table if it does not exist.
func (s *PgVectorStore) EnsureSchema(ctx context.Context, dimension int) error {
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	chunk_id        TEXT PRIMARY KEY,
	doc_id          TEXT NOT NULL,
	chunk_index     INTEGER NOT NULL,
	chunk_text      TEXT NOT NULL,
	dense_embedding vector(%d),
	sparse_embedding jsonb,
	chunk_metadata  jsonb
)`, pq.QuoteIdentifier(s.table), dimension)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to ensure chunk table: %w", err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (doc_id)`,
		pq.QuoteIdentifier(s.table+"_doc_id_idx"), pq.QuoteIdentifier(s.table))
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("failed to ensure doc_id index: %w", err)
	}
	return nil
}

// Upsert writes chunks, replacing rows that share a chunk id.
func (s *PgVectorStore) Upsert(ctx context.Context, chunks []StoredChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	stmt := fmt.Sprintf(`
INSERT INTO %s (chunk_id, doc_id, chunk_index, chunk_text, dense_embedding, sparse_embedding, chunk_metadata)
VALUES ($1, $2, $3, $4, $5::vector, $6, $7)
ON CONFLICT (chunk_id) DO UPDATE SET
	doc_id = EXCLUDED.doc_id,
	chunk_index = EXCLUDED.chunk_index,
	chunk_text = EXCLUDED.chunk_text,
	dense_embedding = EXCLUDED.dense_embedding,
	sparse_embedding = EXCLUDED.sparse_embedding,
	chunk_metadata = EXCLUDED.chunk_metadata`, pq.QuoteIdentifier(s.table))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range chunks {
		sparseJSON, err := marshalSparse(c.Sparse)
		if err != nil {
			return err
		}
		metaJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, stmt,
			c.ChunkID, c.DocID, c.ChunkIndex, c.Text,
			vectorLiteral(c.Dense), sparseJSON, metaJSON,
		); err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

// HybridSearch pulls dense candidates via `<=>`, re-scores them with the
// app-side sparse dot product, and returns the top weighted results.
func (s *PgVectorStore) HybridSearch(ctx context.Context, query HybridQuery) ([]Chunk, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 10
	}
	candidateLimit := limit * candidateFactor

	var (
		rows *sql.Rows
		err  error
	)
	base := fmt.Sprintf(`
SELECT chunk_id, doc_id, chunk_index, chunk_text, sparse_embedding, chunk_metadata,
       1 - (dense_embedding <=> $1::vector) AS dense_score
FROM %s`, pq.QuoteIdentifier(s.table))

	if len(query.FilterDocIDs) > 0 {
		rows, err = s.db.QueryContext(ctx,
			base+` WHERE doc_id = ANY($2) ORDER BY dense_embedding <=> $1::vector LIMIT $3`,
			vectorLiteral(query.Dense), pq.Array(query.FilterDocIDs), candidateLimit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			base+` ORDER BY dense_embedding <=> $1::vector LIMIT $2`,
			vectorLiteral(query.Dense), candidateLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("hybrid search query failed: %w", err)
	}
	defer rows.Close()

	var candidates []StoredChunk
	var denseScores []float64
	for rows.Next() {
		var (
			cand       StoredChunk
			sparseJSON []byte
			metaJSON   []byte
			denseScore float64
		)
		if err := rows.Scan(&cand.ChunkID, &cand.DocID, &cand.ChunkIndex, &cand.Text,
			&sparseJSON, &metaJSON, &denseScore); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		cand.Sparse, err = unmarshalSparse(sparseJSON)
		if err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &cand.Metadata); err != nil {
				return nil, fmt.Errorf("failed to parse chunk metadata: %w", err)
			}
		}
		candidates = append(candidates, cand)
		denseScores = append(denseScores, denseScore)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hybrid search row iteration failed: %w", err)
	}

	return combineAndRank(candidates, query, denseScores), nil
}

// DeleteDocument removes all chunks of a document.
func (s *PgVectorStore) DeleteDocument(ctx context.Context, docID string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE doc_id = $1`, pq.QuoteIdentifier(s.table))
	if _, err := s.db.ExecContext(ctx, stmt, docID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", docID, err)
	}
	return nil
}

// CheckHealth pings the database.
func (s *PgVectorStore) CheckHealth(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("vector store unavailable: %w", err)
	}
	return nil
}

// Count returns the number of stored chunks.
func (s *PgVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	stmt := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, pq.QuoteIdentifier(s.table))
	if err := s.db.QueryRowContext(ctx, stmt).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Close releases the connection pool.
func (s *PgVectorStore) Close() error {
	return s.db.Close()
}

// vectorLiteral renders a dense vector in pgvector's text form.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// marshalSparse stores the int→float map as a jsonb object with string keys.
func marshalSparse(v embedders.SparseVector) ([]byte, error) {
	m := make(map[string]float32, len(v))
	for id, w := range v {
		m[strconv.Itoa(id)] = w
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sparse embedding: %w", err)
	}
	return data, nil
}

func unmarshalSparse(data []byte) (embedders.SparseVector, error) {
	if len(data) == 0 {
		return embedders.SparseVector{}, nil
	}
	var m map[string]float32
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse sparse embedding: %w", err)
	}
	vec := make(embedders.SparseVector, len(m))
	for key, w := range m {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid sparse embedding key %q: %w", key, err)
		}
		vec[id] = w
	}
	return vec, nil
}
