// Package ingest turns document files into embedded chunks in the vector
// store. It extracts text from pdf, docx, and plain-text files, splits it
// into token-bounded overlapping chunks, embeds each chunk densely and
// sparsely, and upserts the batch. A watcher ingests files dropped into a
// folder.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/murtaza-nasir/maestro-sub003/pkg/databases"
	"github.com/murtaza-nasir/maestro-sub003/pkg/embedders"
)

// embedBatchSize bounds one embedding request.
const embedBatchSize = 32

// Document summarizes one ingested file.
type Document struct {
	DocID      string `json:"doc_id"`
	Path       string `json:"path"`
	Title      string `json:"title"`
	ChunkCount int    `json:"chunk_count"`
}

// Ingestor drives extraction, chunking, embedding, and storage.
type Ingestor struct {
	store   databases.VectorStore
	dense   embedders.Embedder
	sparse  *embedders.SparseEncoder
	chunker *Chunker
	logger  *slog.Logger
}

func NewIngestor(store databases.VectorStore, dense embedders.Embedder, sparse *embedders.SparseEncoder, chunker *Chunker, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:   store,
		dense:   dense,
		sparse:  sparse,
		chunker: chunker,
		logger:  logger,
	}
}

// DocIDForPath derives the stable document id for a file: the first 16 hex
// of SHA1(base name). Re-ingesting the same file replaces its chunks.
func DocIDForPath(path string) string {
	sum := sha1.Sum([]byte(filepath.Base(path)))
	return hex.EncodeToString(sum[:])[:16]
}

// IngestFile processes one document end to end and returns its summary.
func (ing *Ingestor) IngestFile(ctx context.Context, path string) (*Document, error) {
	if !SupportedExtension(path) {
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}

	text, err := ExtractText(path)
	if err != nil {
		return nil, err
	}

	docID := DocIDForPath(path)
	title := filepath.Base(path)

	pieces := ing.chunker.Split(text)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("no content to ingest in %s", path)
	}

	// Replace any previous version of the document.
	if err := ing.store.DeleteDocument(ctx, docID); err != nil {
		ing.logger.Warn("could not clear previous chunks", "doc_id", docID, "error", err)
	}

	for start := 0; start < len(pieces); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(pieces) {
			end = len(pieces)
		}
		if err := ing.upsertBatch(ctx, docID, title, path, pieces[start:end], start); err != nil {
			return nil, err
		}
	}

	ing.logger.Info("document ingested", "doc_id", docID, "path", path, "chunks", len(pieces))
	return &Document{DocID: docID, Path: path, Title: title, ChunkCount: len(pieces)}, nil
}

func (ing *Ingestor) upsertBatch(ctx context.Context, docID, title, path string, texts []string, offset int) error {
	dense, err := ing.dense.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %s: %w", path, err)
	}
	if len(dense) != len(texts) {
		return fmt.Errorf("embedding %s: got %d vectors for %d chunks", path, len(dense), len(texts))
	}

	chunks := make([]databases.StoredChunk, 0, len(texts))
	for i, text := range texts {
		sparse, err := ing.sparse.Encode(text)
		if err != nil {
			return fmt.Errorf("sparse encoding %s: %w", path, err)
		}
		index := offset + i
		chunks = append(chunks, databases.StoredChunk{
			Chunk: databases.Chunk{
				ChunkID:    fmt.Sprintf("%s_%d", docID, index),
				DocID:      docID,
				ChunkIndex: index,
				Text:       text,
				Metadata: map[string]any{
					"title":  title,
					"source": path,
				},
			},
			Dense:  dense[i],
			Sparse: sparse,
		})
	}
	return ing.store.Upsert(ctx, chunks)
}

// DeleteDocument removes every chunk of a document.
func (ing *Ingestor) DeleteDocument(ctx context.Context, docID string) error {
	return ing.store.DeleteDocument(ctx, docID)
}

// Watch ingests supported files created or modified under dir until the
// context ends. Writes are debounced so partially copied files settle
// before extraction.
func (ing *Ingestor) Watch(ctx context.Context, dir string, settle time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	if settle <= 0 {
		settle = 2 * time.Second
	}

	pending := make(map[string]*time.Timer)
	ingestLater := func(path string) {
		if timer, ok := pending[path]; ok {
			timer.Stop()
		}
		pending[path] = time.AfterFunc(settle, func() {
			if _, err := ing.IngestFile(ctx, path); err != nil {
				ing.logger.Warn("watch ingestion failed", "path", path, "error", err)
			}
		})
	}

	ing.logger.Info("watching for documents", "dir", dir)
	for {
		select {
		case <-ctx.Done():
			for _, timer := range pending {
				timer.Stop()
			}
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !SupportedExtension(event.Name) {
				continue
			}
			ingestLater(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			ing.logger.Warn("watcher error", "error", err)
		}
	}
}
