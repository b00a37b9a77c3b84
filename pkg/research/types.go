// Package research implements the iterative, decomposed, quality-assessed
// search pipeline used by the writing assistant. A query is decomposed into
// focused sub-queries, each enriched with conversation context, then run
// through an inner loop of search → parallel relevance assessment →
// parallel content fetch → quality scoring → query refinement.
package research

import (
	"context"

	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
)

// Mode selects web or document search behavior.
type Mode string

const (
	ModeWeb      Mode = "web"
	ModeDocument Mode = "document"
)

// Source is a citable origin produced by the pipeline. Identity is RefID.
type Source struct {
	Type     string `json:"type"` // web or document
	RefID    string `json:"ref_id"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	DocID    string `json:"doc_id,omitempty"`
	Page     string `json:"page,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// Candidate is one raw search hit before relevance and quality assessment.
type Candidate struct {
	Title   string
	Snippet string
	URL     string // web mode
	DocID   string // document mode
	Page    string
	Content string // full text once fetched
	Full    bool   // Content holds full text rather than the snippet
}

// Key returns the deduplication key: URL for web results, doc id for
// documents.
func (c *Candidate) Key() string {
	if c.URL != "" {
		return c.URL
	}
	return c.DocID
}

// Searcher executes one search. Implementations wrap the web provider or
// the document store.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Candidate, error)
}

// Fetcher retrieves the full content for a relevant candidate.
type Fetcher interface {
	FetchContent(ctx context.Context, candidate Candidate) (string, error)
}

// Dispatcher is the slice of the model dispatcher the pipeline needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, messages []llms.Message, role model.Role, opts *model.Options) (*llms.Response, *model.Details, error)
}

// Result is the pipeline output: concatenated context for the writing LLM
// plus the sources backing it.
type Result struct {
	Context        string
	Sources        []Source
	QualitySummary QualitySummary
}

// QualitySummary aggregates the per-result quality scores.
type QualitySummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}
