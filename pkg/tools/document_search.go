package tools

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/murtaza-nasir/maestro-sub003/pkg/databases"
	"github.com/murtaza-nasir/maestro-sub003/pkg/embedders"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
)

// ModelDispatcher is the slice of the dispatcher the tools need.
type ModelDispatcher interface {
	Dispatch(ctx context.Context, messages []llms.Message, role model.Role, opts *model.Options) (*llms.Response, *model.Details, error)
}

// Query rewriting techniques the strategist may choose.
const (
	techniqueOriginal = "original"
	techniqueSubQuery = "sub_query"
	techniqueStepBack = "step_back"
)

// DocumentSearchTool runs hybrid retrieval over the document store with
// LLM-driven query strategy and preparation, followed by an optional
// re-rank against the original query.
type DocumentSearchTool struct {
	dispatcher ModelDispatcher
	store      databases.VectorStore
	embedder   embedders.Embedder
	sparse     *embedders.SparseEncoder
}

type documentSearchArgs struct {
	Query           string   `json:"query" jsonschema:"description=Search query"`
	NResults        int      `json:"n_results,omitempty" jsonschema:"description=Maximum chunks to return"`
	FilterDocID     string   `json:"filter_doc_id,omitempty" jsonschema:"description=Restrict to one document"`
	FilterDocIDs    []string `json:"filter_doc_ids,omitempty" jsonschema:"description=Restrict to a set of documents"`
	DenseWeight     float64  `json:"dense_weight,omitempty"`
	SparseWeight    float64  `json:"sparse_weight,omitempty"`
	UseReranker     bool     `json:"use_reranker,omitempty"`
	ResearchContext string   `json:"research_context,omitempty"`
	AgentContext    string   `json:"agent_context,omitempty"`
}

// NewDocumentSearchTool wires the retrieval dependencies.
func NewDocumentSearchTool(dispatcher ModelDispatcher, store databases.VectorStore, embedder embedders.Embedder, sparse *embedders.SparseEncoder) *DocumentSearchTool {
	return &DocumentSearchTool{
		dispatcher: dispatcher,
		store:      store,
		embedder:   embedder,
		sparse:     sparse,
	}
}

func (t *DocumentSearchTool) GetName() string { return "document_search" }

func (t *DocumentSearchTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: "Search the user's document collection with hybrid dense+sparse retrieval.",
		Parameters:  schemaFor(&documentSearchArgs{}),
	}
}

// Execute runs strategy → preparation → parallel retrieval → dedupe →
// optional re-rank.
func (t *DocumentSearchTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	started := time.Now()

	var params documentSearchArgs
	if err := decodeArgs(args, &params); err != nil {
		return errorResult(t.GetName(), err.Error(), started), nil
	}
	if strings.TrimSpace(params.Query) == "" {
		return errorResult(t.GetName(), "query is required", started), nil
	}
	if params.NResults <= 0 {
		params.NResults = 5
	}
	if params.DenseWeight == 0 && params.SparseWeight == 0 {
		params.DenseWeight, params.SparseWeight = 0.7, 0.3
	}

	if err := t.store.CheckHealth(ctx); err != nil {
		return errorResult(t.GetName(), err.Error(), started), nil
	}

	filterDocIDs := params.FilterDocIDs
	if params.FilterDocID != "" {
		filterDocIDs = append(filterDocIDs, params.FilterDocID)
	}

	techniques := t.chooseTechniques(ctx, params)
	prepared := t.prepareQueries(ctx, params, techniques)

	chunks, err := t.retrieveAll(ctx, params, prepared, filterDocIDs)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), started), nil
	}

	chunks = dedupeChunks(chunks)

	if params.UseReranker && len(chunks) > 1 {
		chunks = t.rerank(ctx, params.Query, chunks)
	}
	if len(chunks) > params.NResults {
		chunks = chunks[:params.NResults]
	}

	output := make([]map[string]any, 0, len(chunks))
	var b strings.Builder
	for _, c := range chunks {
		meta := map[string]any{
			"doc_id":      c.DocID,
			"chunk_id":    c.ChunkID,
			"chunk_index": c.ChunkIndex,
			"score":       c.Score,
		}
		for k, v := range c.Metadata {
			meta[k] = v
		}
		output = append(output, map[string]any{"text": c.Text, "metadata": meta})
		fmt.Fprintf(&b, "[%s] %s\n\n", c.DocID, c.Text)
	}

	return successResult(t.GetName(), strings.TrimSpace(b.String()), output, started), nil
}

// chooseTechniques asks the strategist which rewriting techniques to apply.
// Failures fall back to searching with the original query only.
func (t *DocumentSearchTool) chooseTechniques(ctx context.Context, params documentSearchArgs) []string {
	prompt := fmt.Sprintf(`Choose query rewriting techniques for a document search.
Query: %s
Research context: %s

Available techniques: "sub_query" (split into narrower queries), "step_back" (generalize to background concepts), "original" (use the query as-is).
Respond with JSON: {"techniques": ["..."]}`, params.Query, params.ResearchContext)

	resp, _, err := t.dispatcher.Dispatch(ctx, []llms.Message{
		{Role: "user", Content: prompt},
	}, model.RoleQueryStrategy, nil)
	if err != nil {
		return []string{techniqueOriginal}
	}

	var parsed struct {
		Techniques []string `json:"techniques"`
	}
	if err := model.ExtractJSON(resp.Content, &parsed); err != nil || len(parsed.Techniques) == 0 {
		return []string{techniqueOriginal}
	}

	var valid []string
	for _, tech := range parsed.Techniques {
		switch tech {
		case techniqueOriginal, techniqueSubQuery, techniqueStepBack:
			valid = append(valid, tech)
		}
	}
	if len(valid) == 0 {
		return []string{techniqueOriginal}
	}
	return valid
}

// prepareQueries rewrites the query once per technique. Failures keep the
// original query for that technique.
func (t *DocumentSearchTool) prepareQueries(ctx context.Context, params documentSearchArgs, techniques []string) []string {
	seen := map[string]bool{}
	var prepared []string
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q != "" && !seen[q] {
			seen[q] = true
			prepared = append(prepared, q)
		}
	}

	for _, technique := range techniques {
		if technique == techniqueOriginal {
			add(params.Query)
			continue
		}

		prompt := fmt.Sprintf(`Rewrite the search query using the %q technique.
Query: %s
Agent context: %s

Respond with JSON: {"queries": ["..."]}`, technique, params.Query, params.AgentContext)

		resp, _, err := t.dispatcher.Dispatch(ctx, []llms.Message{
			{Role: "user", Content: prompt},
		}, model.RoleQueryPreparation, nil)
		if err != nil {
			add(params.Query)
			continue
		}

		var parsed struct {
			Queries []string `json:"queries"`
		}
		if err := model.ExtractJSON(resp.Content, &parsed); err != nil || len(parsed.Queries) == 0 {
			add(params.Query)
			continue
		}
		for _, q := range parsed.Queries {
			add(q)
		}
	}
	if len(prepared) == 0 {
		add(params.Query)
	}
	return prepared
}

// retrieveAll runs all prepared queries in parallel and aggregates the
// results.
func (t *DocumentSearchTool) retrieveAll(ctx context.Context, params documentSearchArgs, queries []string, filterDocIDs []string) ([]databases.Chunk, error) {
	var mu sync.Mutex
	var all []databases.Chunk

	g, groupCtx := errgroup.WithContext(ctx)
	for _, query := range queries {
		query := query
		g.Go(func() error {
			dense, err := t.embedder.Embed(groupCtx, []string{query})
			if err != nil {
				return fmt.Errorf("failed to embed query: %w", err)
			}
			sparse, err := t.sparse.Encode(query)
			if err != nil {
				return fmt.Errorf("failed to encode sparse query: %w", err)
			}
			chunks, err := t.store.HybridSearch(groupCtx, databases.HybridQuery{
				Dense:        dense[0],
				Sparse:       sparse,
				Limit:        params.NResults * 2,
				DenseWeight:  params.DenseWeight,
				SparseWeight: params.SparseWeight,
				FilterDocIDs: filterDocIDs,
			})
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, chunks...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

// dedupeChunks removes repeats by chunk id, synthesizing no_id_<hash> keys
// for chunks missing one. First occurrence wins.
func dedupeChunks(chunks []databases.Chunk) []databases.Chunk {
	seen := make(map[string]bool, len(chunks))
	var out []databases.Chunk
	for _, c := range chunks {
		key := c.ChunkID
		if key == "" {
			sum := sha1.Sum([]byte(c.Text))
			key = "no_id_" + hex.EncodeToString(sum[:])[:12]
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// rerank orders the aggregated set against the original query with the
// reranker role. Failures keep the hybrid-score order.
func (t *DocumentSearchTool) rerank(ctx context.Context, originalQuery string, chunks []databases.Chunk) []databases.Chunk {
	var b strings.Builder
	fmt.Fprintf(&b, "Rank these passages by relevance to the query.\nQuery: %s\n\n", originalQuery)
	for i, c := range chunks {
		excerpt := c.Text
		if len(excerpt) > 600 {
			excerpt = excerpt[:600]
		}
		fmt.Fprintf(&b, "Passage %d:\n%s\n\n", i, excerpt)
	}
	b.WriteString(`Respond with JSON: {"ranking": [most relevant passage numbers in order]}`)

	resp, _, err := t.dispatcher.Dispatch(ctx, []llms.Message{
		{Role: "user", Content: b.String()},
	}, model.RoleVerifier, nil)
	if err != nil {
		return chunks
	}

	var parsed struct {
		Ranking []int `json:"ranking"`
	}
	if err := model.ExtractJSON(resp.Content, &parsed); err != nil || len(parsed.Ranking) == 0 {
		return chunks
	}

	used := make(map[int]bool, len(parsed.Ranking))
	var out []databases.Chunk
	for _, idx := range parsed.Ranking {
		if idx >= 0 && idx < len(chunks) && !used[idx] {
			used[idx] = true
			out = append(out, chunks[idx])
		}
	}
	for i, c := range chunks {
		if !used[i] {
			out = append(out, c)
		}
	}
	return out
}
