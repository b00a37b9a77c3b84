package research

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murtaza-nasir/maestro-sub003/pkg/databases"
	"github.com/murtaza-nasir/maestro-sub003/pkg/embedders"
	"github.com/murtaza-nasir/maestro-sub003/pkg/utils"
	"github.com/murtaza-nasir/maestro-sub003/pkg/websearch"
)

type fakeWebProvider struct {
	results []websearch.Result
	err     error
	query   string
}

func (p *fakeWebProvider) Name() string { return "fake" }

func (p *fakeWebProvider) Search(_ context.Context, query string, _ int) ([]websearch.Result, error) {
	p.query = query
	return p.results, p.err
}

func TestWebSearcherMapsResults(t *testing.T) {
	provider := &fakeWebProvider{results: []websearch.Result{
		{Title: "Grid study", Snippet: "storage findings", URL: "https://example.org/grid"},
		{Title: "no link", Snippet: "dropped"},
	}}

	candidates, err := NewWebSearcher(provider).Search(context.Background(), "grid storage", 5)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "grid storage", provider.query)
	assert.Equal(t, "https://example.org/grid", candidates[0].URL)
	assert.Equal(t, "Grid study", candidates[0].Title)
	assert.False(t, candidates[0].Full)
}

func TestWebSearcherPropagatesError(t *testing.T) {
	provider := &fakeWebProvider{err: errors.New("upstream down")}

	_, err := NewWebSearcher(provider).Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fake")
}

type fakePages struct {
	text string
	url  string
}

func (p *fakePages) Fetch(_ context.Context, pageURL string) (string, error) {
	p.url = pageURL
	return p.text, nil
}

func TestContentFetcherRequiresURL(t *testing.T) {
	fetcher := NewContentFetcher(&fakePages{text: "body"})

	_, err := fetcher.FetchContent(context.Background(), Candidate{Title: "doc hit", DocID: "abc"})
	require.Error(t, err)

	text, err := fetcher.FetchContent(context.Background(), Candidate{URL: "https://example.org"})
	require.NoError(t, err)
	assert.Equal(t, "body", text)
}

type fakeHybridStore struct {
	databases.VectorStore
	chunks []databases.Chunk
	query  databases.HybridQuery
}

func (s *fakeHybridStore) HybridSearch(_ context.Context, query databases.HybridQuery) ([]databases.Chunk, error) {
	s.query = query
	return s.chunks, nil
}

type fakeDenseEmbedder struct{}

func (fakeDenseEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0}
	}
	return vectors, nil
}

func (fakeDenseEmbedder) Dimension() int { return 2 }
func (fakeDenseEmbedder) Close() error   { return nil }

func TestDocumentSearcherReturnsFullChunks(t *testing.T) {
	store := &fakeHybridStore{chunks: []databases.Chunk{
		{
			DocID:    "doc1",
			ChunkID:  "doc1_0",
			Text:     strings.Repeat("solar output data ", 30),
			Metadata: map[string]any{"title": "Solar Report"},
		},
		{ChunkID: "orphan", Text: "no doc id"},
	}}
	counter, err := utils.NewTokenCounter("gpt-4o-mini")
	require.NoError(t, err)
	searcher := NewDocumentSearcher(store, fakeDenseEmbedder{}, embedders.NewSparseEncoder(counter))

	candidates, err := searcher.Search(context.Background(), "solar output", 4)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, "doc1", c.DocID)
	assert.Equal(t, "Solar Report", c.Title)
	assert.True(t, c.Full)
	assert.Equal(t, store.chunks[0].Text, c.Content)
	assert.LessOrEqual(t, len(c.Snippet), snippetLimit)

	assert.Equal(t, 4, store.query.Limit)
	assert.InDelta(t, 0.7, store.query.DenseWeight, 1e-9)
	assert.NotEmpty(t, store.query.Sparse)
}
