package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murtaza-nasir/maestro-sub003/pkg/databases"
	"github.com/murtaza-nasir/maestro-sub003/pkg/embedders"
	"github.com/murtaza-nasir/maestro-sub003/pkg/utils"
)

type fakeEmbedder struct {
	calls [][]string
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }
func (f *fakeEmbedder) Close() error   { return nil }

type fakeStore struct {
	databases.VectorStore
	upserted []databases.StoredChunk
	deleted  []string
}

func (f *fakeStore) Upsert(_ context.Context, chunks []databases.StoredChunk) error {
	f.upserted = append(f.upserted, chunks...)
	return nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, docID string) error {
	f.deleted = append(f.deleted, docID)
	return nil
}

func newTestIngestor(t *testing.T) (*Ingestor, *fakeStore, *fakeEmbedder) {
	t.Helper()
	counter, err := utils.NewTokenCounter("gpt-4o-mini")
	require.NoError(t, err)
	store := &fakeStore{}
	embedder := &fakeEmbedder{}
	ing := NewIngestor(store, embedder, embedders.NewSparseEncoder(counter), NewChunker(counter, 64, 8), nil)
	return ing, store, embedder
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngestTextFile(t *testing.T) {
	ing, store, _ := newTestIngestor(t)
	path := writeTempFile(t, "notes.txt", "Solar adoption grew rapidly over the past decade.")

	doc, err := ing.IngestFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, DocIDForPath(path), doc.DocID)
	assert.Equal(t, "notes.txt", doc.Title)
	assert.Equal(t, 1, doc.ChunkCount)

	require.Len(t, store.upserted, 1)
	chunk := store.upserted[0]
	assert.Equal(t, doc.DocID+"_0", chunk.ChunkID)
	assert.Equal(t, 0, chunk.ChunkIndex)
	assert.Contains(t, chunk.Text, "Solar adoption")
	assert.Equal(t, "notes.txt", chunk.Metadata["title"])
	assert.NotEmpty(t, chunk.Dense)
	assert.NotEmpty(t, chunk.Sparse)
}

func TestIngestReplacesPreviousVersion(t *testing.T) {
	ing, store, _ := newTestIngestor(t)
	path := writeTempFile(t, "report.md", "first version")

	_, err := ing.IngestFile(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("second version"), 0o644))
	doc, err := ing.IngestFile(context.Background(), path)
	require.NoError(t, err)

	// Same file name keeps the same document id across versions.
	assert.Equal(t, []string{doc.DocID, doc.DocID}, store.deleted)
}

func TestIngestLongTextProducesOverlappingChunks(t *testing.T) {
	ing, store, _ := newTestIngestor(t)
	var b strings.Builder
	for i := 0; i < 400; i++ {
		b.WriteString("renewable energy storage capacity ")
	}
	path := writeTempFile(t, "long.txt", b.String())

	doc, err := ing.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Greater(t, doc.ChunkCount, 1)
	require.Len(t, store.upserted, doc.ChunkCount)
	for i, chunk := range store.upserted {
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.Equal(t, doc.DocID, chunk.DocID)
	}
}

func TestIngestRejectsUnsupportedType(t *testing.T) {
	ing, _, _ := newTestIngestor(t)
	path := writeTempFile(t, "image.png", "binary")

	_, err := ing.IngestFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestIngestEmptyFileFails(t *testing.T) {
	ing, _, _ := newTestIngestor(t)
	path := writeTempFile(t, "empty.txt", "   \n  ")

	_, err := ing.IngestFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no content")
}

func TestDocIDForPathIsStable(t *testing.T) {
	a := DocIDForPath("/tmp/a/paper.pdf")
	b := DocIDForPath("/var/data/paper.pdf")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, DocIDForPath("/tmp/other.pdf"))
}

func TestSupportedExtension(t *testing.T) {
	assert.True(t, SupportedExtension("a.pdf"))
	assert.True(t, SupportedExtension("b.DOCX"))
	assert.True(t, SupportedExtension("c.txt"))
	assert.True(t, SupportedExtension("d.md"))
	assert.False(t, SupportedExtension("e.png"))
	assert.False(t, SupportedExtension("noext"))
}
