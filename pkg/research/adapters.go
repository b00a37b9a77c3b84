package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/murtaza-nasir/maestro-sub003/pkg/databases"
	"github.com/murtaza-nasir/maestro-sub003/pkg/embedders"
	"github.com/murtaza-nasir/maestro-sub003/pkg/websearch"
)

// snippetLimit bounds the snippet synthesized for document hits, which
// arrive as full chunks rather than search summaries.
const snippetLimit = 300

// WebSearcher adapts a web search provider to the pipeline.
type WebSearcher struct {
	provider websearch.Provider
}

func NewWebSearcher(provider websearch.Provider) *WebSearcher {
	return &WebSearcher{provider: provider}
}

func (s *WebSearcher) Search(ctx context.Context, query string, maxResults int) ([]Candidate, error) {
	results, err := s.provider.Search(ctx, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("web search via %s: %w", s.provider.Name(), err)
	}
	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		if r.URL == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Title:   r.Title,
			Snippet: r.Snippet,
			URL:     r.URL,
		})
	}
	return candidates, nil
}

// PageFetcher retrieves the readable text of a web page.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// ContentFetcher adapts a page fetcher to the pipeline's per-candidate
// fetch step.
type ContentFetcher struct {
	pages PageFetcher
}

func NewContentFetcher(pages PageFetcher) *ContentFetcher {
	return &ContentFetcher{pages: pages}
}

func (f *ContentFetcher) FetchContent(ctx context.Context, candidate Candidate) (string, error) {
	if candidate.URL == "" {
		return "", fmt.Errorf("candidate %q has no URL to fetch", candidate.Title)
	}
	return f.pages.Fetch(ctx, candidate.URL)
}

// DocumentSearcher runs hybrid retrieval over the vector store and returns
// chunks as candidates carrying their full text, so the document pipeline
// needs no fetcher.
type DocumentSearcher struct {
	store        databases.VectorStore
	embedder     embedders.Embedder
	sparse       *embedders.SparseEncoder
	denseWeight  float64
	sparseWeight float64
}

func NewDocumentSearcher(store databases.VectorStore, embedder embedders.Embedder, sparse *embedders.SparseEncoder) *DocumentSearcher {
	return &DocumentSearcher{
		store:        store,
		embedder:     embedder,
		sparse:       sparse,
		denseWeight:  0.7,
		sparseWeight: 0.3,
	}
}

func (s *DocumentSearcher) Search(ctx context.Context, query string, maxResults int) ([]Candidate, error) {
	dense, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	sparse, err := s.sparse.Encode(query)
	if err != nil {
		return nil, fmt.Errorf("encoding sparse query: %w", err)
	}

	chunks, err := s.store.HybridSearch(ctx, databases.HybridQuery{
		Dense:        dense[0],
		Sparse:       sparse,
		Limit:        maxResults,
		DenseWeight:  s.denseWeight,
		SparseWeight: s.sparseWeight,
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	candidates := make([]Candidate, 0, len(chunks))
	for _, c := range chunks {
		if c.DocID == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Title:   chunkTitle(c),
			Snippet: clipSnippet(c.Text),
			DocID:   c.DocID,
			Page:    chunkPage(c),
			Content: c.Text,
			Full:    true,
		})
	}
	return candidates, nil
}

func chunkTitle(c databases.Chunk) string {
	if title, ok := c.Metadata["title"].(string); ok && title != "" {
		return title
	}
	return c.DocID
}

func chunkPage(c databases.Chunk) string {
	if page, ok := c.Metadata["page"].(string); ok {
		return page
	}
	return ""
}

func clipSnippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= snippetLimit {
		return text
	}
	return text[:snippetLimit]
}
