package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
)

// sufficientContentLen is the fallback sufficiency threshold when the
// quality-scoring call fails.
const sufficientContentLen = 500

// Pipeline runs the iterative search loop for one mode.
type Pipeline struct {
	dispatcher Dispatcher
	searcher   Searcher
	fetcher    Fetcher
	resolver   *config.Resolver
	mode       Mode
	logger     *slog.Logger
	now        func() time.Time
}

// NewPipeline wires a pipeline. fetcher may be nil in document mode, where
// search results already carry their text.
func NewPipeline(dispatcher Dispatcher, searcher Searcher, fetcher Fetcher, resolver *config.Resolver, mode Mode, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		dispatcher: dispatcher,
		searcher:   searcher,
		fetcher:    fetcher,
		resolver:   resolver,
		mode:       mode,
		logger:     logger,
		now:        time.Now,
	}
}

// Request is one pipeline invocation.
type Request struct {
	Query     string
	History   []llms.Message
	MissionID string
}

// Run executes decompose → enrich → inner loops. Focused queries run
// sequentially so the global seen set holds across them; within one focused
// query, relevance and fetch run in parallel. Cancellation returns partial
// results without error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	maxQueries, _ := p.resolver.GetInt(config.ParamMaxDecomposedQueries, req.MissionID)
	maxAttempts, _ := p.resolver.GetInt(config.ParamMaxSearchIterations, req.MissionID)
	maxResults := p.maxResults(req.MissionID)
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	focused := p.Decompose(ctx, req.Query, maxQueries)

	globalSeen := make(map[string]bool)
	var kept []Candidate
	var scores []float64

	for _, focusedQuery := range focused {
		if ctx.Err() != nil {
			break
		}
		accepted, score := p.runFocusedQuery(ctx, req, focusedQuery, maxAttempts, maxResults, globalSeen)
		kept = append(kept, accepted...)
		if score > 0 {
			scores = append(scores, score)
		}
	}

	return p.assemble(kept, scores), nil
}

func (p *Pipeline) maxResults(missionID string) int {
	param := config.ParamMaxDocResults
	if p.mode == ModeWeb {
		param = config.ParamMaxSearchResults
	}
	n, err := p.resolver.GetInt(param, missionID)
	if err != nil || n < 1 {
		return 5
	}
	return n
}

// runFocusedQuery drives the inner loop for one focused query. Returns the
// accepted candidates and the final quality score (0 when never scored).
func (p *Pipeline) runFocusedQuery(ctx context.Context, req Request, focusedQuery string, maxAttempts, maxResults int, globalSeen map[string]bool) ([]Candidate, float64) {
	currentQuery := p.Enrich(ctx, focusedQuery, req.History, p.mode)
	localSeen := make(map[string]bool)

	var accepted []Candidate
	var lastScore float64

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return accepted, lastScore
		}

		results, err := p.searcher.Search(ctx, currentQuery, maxResults)
		if err != nil {
			p.logger.Warn("search failed", "query", currentQuery, "error", err)
			return accepted, lastScore
		}

		// Drop anything seen by an earlier focused query or an earlier
		// iteration of this one.
		fresh := results[:0:0]
		for _, r := range results {
			key := r.Key()
			if key == "" || globalSeen[key] || localSeen[key] {
				continue
			}
			localSeen[key] = true
			fresh = append(fresh, r)
		}

		relevant := p.assessRelevance(ctx, req.Query, fresh)
		p.fetchContent(ctx, relevant)

		for i := range relevant {
			globalSeen[relevant[i].Key()] = true
		}
		accepted = append(accepted, relevant...)

		assessment := p.assessQuality(ctx, req.Query, accepted)
		lastScore = assessment.QualityScore
		if assessment.IsSufficient || attempt == maxAttempts {
			break
		}
		if refined := strings.TrimSpace(assessment.RefinedQuery); refined != "" {
			currentQuery = refined
		}
	}
	return accepted, lastScore
}

// assessRelevance asks the fast model YES/NO for every candidate in
// parallel, against the original query. Assessment errors exclude the
// candidate. Output preserves input order.
func (p *Pipeline) assessRelevance(ctx context.Context, originalQuery string, candidates []Candidate) []Candidate {
	if len(candidates) == 0 {
		return nil
	}

	verdicts := make([]bool, len(candidates))
	var wg sync.WaitGroup
	for i := range candidates {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verdicts[i] = p.isRelevant(ctx, originalQuery, candidates[i])
		}(i)
	}
	wg.Wait()

	var relevant []Candidate
	for i, ok := range verdicts {
		if ok {
			relevant = append(relevant, candidates[i])
		}
	}
	return relevant
}

func (p *Pipeline) isRelevant(ctx context.Context, originalQuery string, c Candidate) bool {
	prompt := fmt.Sprintf(`Is this search result relevant to the query? Answer YES or NO.

Query: %s

Title: %s
Snippet: %s`, originalQuery, c.Title, c.Snippet)

	resp, _, err := p.dispatcher.Dispatch(ctx, []llms.Message{
		{Role: "user", Content: prompt},
	}, model.RoleQueryStrategy, nil)
	if err != nil {
		return false
	}
	return model.ParseYesNo(resp.Content)
}

// fetchContent retrieves full text for candidates in parallel. A fetch
// error keeps the snippet.
func (p *Pipeline) fetchContent(ctx context.Context, candidates []Candidate) {
	if p.fetcher == nil {
		for i := range candidates {
			if candidates[i].Content == "" {
				candidates[i].Content = candidates[i].Snippet
			}
		}
		return
	}

	var wg sync.WaitGroup
	for i := range candidates {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			full, err := p.fetcher.FetchContent(ctx, candidates[i])
			if err != nil || strings.TrimSpace(full) == "" {
				candidates[i].Content = candidates[i].Snippet
				return
			}
			candidates[i].Content = full
			candidates[i].Full = true
		}(i)
	}
	wg.Wait()
}

type qualityAssessment struct {
	QualityScore float64 `json:"quality_score"`
	IsSufficient bool    `json:"is_sufficient"`
	RefinedQuery string  `json:"refined_query,omitempty"`
}

// assessQuality scores the accumulated content 1–10 and decides whether to
// stop. On a parse or call failure the documented fallback applies:
// score 5, sufficient when the content is already substantial.
func (p *Pipeline) assessQuality(ctx context.Context, originalQuery string, accepted []Candidate) qualityAssessment {
	var content strings.Builder
	for _, c := range accepted {
		content.WriteString(c.Content)
		content.WriteString("\n")
	}

	fallback := qualityAssessment{
		QualityScore: 5,
		IsSufficient: content.Len() > sufficientContentLen,
	}
	if len(accepted) == 0 {
		fallback.IsSufficient = false
		return fallback
	}

	excerpt := content.String()
	if len(excerpt) > 8000 {
		excerpt = excerpt[:8000]
	}

	prompt := fmt.Sprintf(`Rate how well the gathered content answers the query on a 1-10 scale
and decide whether it is sufficient. If not sufficient, propose one
refined search query.

Query: %s

Content:
%s

Respond with JSON: {"quality_score": 1-10, "is_sufficient": true/false, "refined_query": "..."}`,
		originalQuery, excerpt)

	resp, _, err := p.dispatcher.Dispatch(ctx, []llms.Message{
		{Role: "user", Content: prompt},
	}, model.RoleResearch, nil)
	if err != nil {
		return fallback
	}

	var assessment qualityAssessment
	if err := model.ExtractJSON(resp.Content, &assessment); err != nil {
		return fallback
	}
	if assessment.QualityScore < 1 || assessment.QualityScore > 10 {
		assessment.QualityScore = 5
	}
	return assessment
}

// assemble formats the accepted candidates, in original order, into the
// textual context and the source list.
func (p *Pipeline) assemble(kept []Candidate, scores []float64) *Result {
	result := &Result{}
	seenRefs := make(map[string]bool)

	var b strings.Builder
	for _, c := range kept {
		source := candidateSource(c)
		if !seenRefs[source.RefID] {
			seenRefs[source.RefID] = true
			result.Sources = append(result.Sources, source)
		}

		marker := ""
		if c.Full {
			marker = " [FULL CONTENT]"
		}
		fmt.Fprintf(&b, "Source [%s]: %s%s\n%s\n\n", source.RefID, c.Title, marker, c.Content)
	}
	result.Context = strings.TrimSpace(b.String())
	result.QualitySummary = summarizeScores(scores)
	return result
}

func candidateSource(c Candidate) Source {
	if c.URL != "" {
		return Source{
			Type:  "web",
			RefID: mission.RefIDForURL(c.URL),
			Title: c.Title,
			URL:   c.URL,
		}
	}
	return Source{
		Type:  "document",
		RefID: mission.RefIDForDoc(c.DocID),
		Title: c.Title,
		DocID: c.DocID,
		Page:  c.Page,
	}
}

func summarizeScores(scores []float64) QualitySummary {
	if len(scores) == 0 {
		return QualitySummary{}
	}
	mean, _ := stats.Mean(scores)
	median, _ := stats.Median(scores)
	min, _ := stats.Min(scores)
	max, _ := stats.Max(scores)
	return QualitySummary{
		Count:  len(scores),
		Mean:   mean,
		Median: median,
		Min:    min,
		Max:    max,
	}
}
