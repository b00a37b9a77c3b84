package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
)

type answer struct {
	needle  string
	content string
}

// fakeDispatcher answers by matching prompt substrings in order, so one
// instance can serve decomposition, enrichment, relevance, and quality
// calls within the same run.
type fakeDispatcher struct {
	mu      sync.Mutex
	answers []answer
	failAll bool
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, messages []llms.Message, role model.Role, opts *model.Options) (*llms.Response, *model.Details, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll {
		return nil, nil, errors.New("llm unavailable")
	}
	prompt := messages[len(messages)-1].Content
	for _, a := range d.answers {
		if strings.Contains(prompt, a.needle) {
			return &llms.Response{Content: a.content}, &model.Details{}, nil
		}
	}
	return &llms.Response{Content: "NO"}, &model.Details{}, nil
}

type fakeSearcher struct {
	mu      sync.Mutex
	byQuery map[string][]Candidate
	deflt   []Candidate
	calls   []string
}

func (s *fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, query)
	if hits, ok := s.byQuery[query]; ok {
		return hits, nil
	}
	return s.deflt, nil
}

type fakeFetcher struct {
	content map[string]string // key → full text
	err     error
}

func (f *fakeFetcher) FetchContent(ctx context.Context, c Candidate) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.content[c.Key()], nil
}

func newTestPipeline(d Dispatcher, s Searcher, f Fetcher, mode Mode) *Pipeline {
	p := NewPipeline(d, s, f, config.NewResolver(nil, nil), mode, nil)
	p.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	return p
}

// standardAnswers covers the pipeline's scripted calls: decomposition,
// enrichment, relevance, and quality, in matching priority order.
func standardAnswers(decomposed, enriched, quality string) []answer {
	return []answer{
		{"focused sub-queries", decomposed},
		{"rewritten query", enriched},
		{"relevant to the query", "YES"},
		{"quality_score", quality},
	}
}

func TestSplitQueryActivitiesPattern(t *testing.T) {
	got := SplitQuery("fun weekend activities in Wichita and fun weekend activities in Denver")
	assert.Equal(t, []string{
		"fun weekend activities and attractions in Wichita",
		"fun weekend activities and attractions in Denver",
	}, got)

	// Elided second half: "activities in X and in Y".
	got = SplitQuery("outdoor activities in Austin and in Dallas")
	assert.Equal(t, []string{
		"outdoor activities and attractions in Austin",
		"outdoor activities and attractions in Dallas",
	}, got)
}

func TestSplitQuerySubstantiveHalves(t *testing.T) {
	got := SplitQuery("history of solar power and future of wind energy")
	assert.Equal(t, []string{"history of solar power", "future of wind energy"}, got)

	got = SplitQuery("impacts of climate change on agriculture, adaptation strategies for farmers")
	assert.Equal(t, []string{
		"impacts of climate change on agriculture",
		"adaptation strategies for farmers",
	}, got)
}

func TestSplitQueryKeepsNonSplittable(t *testing.T) {
	// No "and" or comma is the sole-query fixed point.
	assert.Equal(t, []string{"quantum computing"}, SplitQuery("quantum computing"))
	// "and" with short halves stays whole.
	assert.Equal(t, []string{"cats and dogs"}, SplitQuery("cats and dogs"))
}

func TestDecomposeFallsBackOnLLMFailure(t *testing.T) {
	p := newTestPipeline(&fakeDispatcher{failAll: true}, &fakeSearcher{}, nil, ModeWeb)
	got := p.Decompose(context.Background(), "fun weekend activities in Wichita and fun weekend activities in Denver", 3)
	assert.Equal(t, []string{
		"fun weekend activities and attractions in Wichita",
		"fun weekend activities and attractions in Denver",
	}, got)
}

func TestDecomposeUsesLLMQueriesUpToLimit(t *testing.T) {
	d := &fakeDispatcher{answers: []answer{
		{"focused sub-queries", `{"queries": ["solar cost trends", "solar policy changes", "solar storage", "extra"]}`},
	}}
	p := newTestPipeline(d, &fakeSearcher{}, nil, ModeWeb)
	got := p.Decompose(context.Background(), "solar power outlook", 3)
	assert.Equal(t, []string{"solar cost trends", "solar policy changes", "solar storage"}, got)
}

func TestDecomposeFallsBackOnMalformedJSON(t *testing.T) {
	d := &fakeDispatcher{answers: []answer{
		{"focused sub-queries", "sure, here are some ideas without json"},
	}}
	p := newTestPipeline(d, &fakeSearcher{}, nil, ModeWeb)
	got := p.Decompose(context.Background(), "quantum computing", 3)
	assert.Equal(t, []string{"quantum computing"}, got)
}

func TestEnrichFallsBackToFocusedQuery(t *testing.T) {
	p := newTestPipeline(&fakeDispatcher{failAll: true}, &fakeSearcher{}, nil, ModeWeb)
	got := p.Enrich(context.Background(), "solar power", nil, ModeWeb)
	assert.Equal(t, "solar power", got)
}

func TestRunDeduplicatesAcrossFocusedQueries(t *testing.T) {
	shared := Candidate{Title: "SharedResult", Snippet: "about both topics", URL: "https://example.com/shared"}
	d := &fakeDispatcher{answers: standardAnswers(
		`{"queries": ["topic one", "topic two"]}`,
		"enriched",
		`{"quality_score": 8, "is_sufficient": true}`,
	)}
	s := &fakeSearcher{deflt: []Candidate{shared}}
	p := newTestPipeline(d, s, &fakeFetcher{err: errors.New("no fetch")}, ModeWeb)

	result, err := p.Run(context.Background(), Request{Query: "both topics"})
	require.NoError(t, err)

	// The shared URL appears once despite being returned for both focused
	// queries.
	assert.Len(t, result.Sources, 1)
	assert.Equal(t, "web", result.Sources[0].Type)
	assert.Len(t, result.Sources[0].RefID, 8)
	assert.Equal(t, 1, strings.Count(result.Context, "SharedResult"))
}

func TestRunFetchErrorKeepsSnippet(t *testing.T) {
	hit := Candidate{Title: "Kept", Snippet: "short snippet text", URL: "https://example.com/a"}
	d := &fakeDispatcher{answers: standardAnswers(
		`{"queries": ["only query here"]}`,
		"enriched",
		`{"quality_score": 6, "is_sufficient": true}`,
	)}
	s := &fakeSearcher{deflt: []Candidate{hit}}
	p := newTestPipeline(d, s, &fakeFetcher{err: errors.New("fetch down")}, ModeWeb)

	result, err := p.Run(context.Background(), Request{Query: "anything"})
	require.NoError(t, err)
	require.Len(t, result.Sources, 1)
	assert.Contains(t, result.Context, "short snippet text")
	assert.NotContains(t, result.Context, "[FULL CONTENT]")
}

func TestRunRelevanceErrorExcludesResult(t *testing.T) {
	hit := Candidate{Title: "Dropped", Snippet: "irrelevant", URL: "https://example.com/drop"}
	// Relevance answers are absent, so the default NO verdict applies.
	d := &fakeDispatcher{answers: []answer{
		{"focused sub-queries", `{"queries": ["only query here"]}`},
		{"rewritten query", "enriched"},
		{"quality_score", `{"quality_score": 2, "is_sufficient": true}`},
	}}
	s := &fakeSearcher{deflt: []Candidate{hit}}
	p := newTestPipeline(d, s, nil, ModeWeb)

	result, err := p.Run(context.Background(), Request{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, result.Sources)
}

func TestRunMarksFullContent(t *testing.T) {
	hit := Candidate{Title: "Paper", Snippet: "snippet", URL: "https://example.com/p"}
	d := &fakeDispatcher{answers: standardAnswers(
		`{"queries": ["single query here"]}`,
		"enriched",
		`{"quality_score": 9, "is_sufficient": true}`,
	)}
	s := &fakeSearcher{deflt: []Candidate{hit}}
	f := &fakeFetcher{content: map[string]string{"https://example.com/p": "the complete article body"}}
	p := newTestPipeline(d, s, f, ModeWeb)

	result, err := p.Run(context.Background(), Request{Query: "anything"})
	require.NoError(t, err)
	assert.Contains(t, result.Context, "[FULL CONTENT]")
	assert.Contains(t, result.Context, "the complete article body")
	assert.NotContains(t, result.Context, "snippet")
}

func TestRunRefinesQueryWhenInsufficient(t *testing.T) {
	first := Candidate{Title: "Weak", Snippet: "thin result", URL: "https://example.com/weak"}
	second := Candidate{Title: "Strong", Snippet: "solid result", URL: "https://example.com/strong"}

	d := &fakeDispatcher{answers: []answer{
		{"focused sub-queries", `{"queries": ["initial query here"]}`},
		{"rewritten query", "enriched query"},
		{"relevant to the query", "YES"},
		// Once both snippets are in the gathered content, the check passes.
		{"thin result\nsolid result", `{"quality_score": 8, "is_sufficient": true}`},
		{"thin result", `{"quality_score": 3, "is_sufficient": false, "refined_query": "better query"}`},
	}}
	s := &fakeSearcher{
		byQuery: map[string][]Candidate{
			"enriched query": {first},
			"better query":   {second},
		},
	}
	p := newTestPipeline(d, s, &fakeFetcher{err: errors.New("no fetch")}, ModeWeb)

	result, err := p.Run(context.Background(), Request{Query: "anything"})
	require.NoError(t, err)
	assert.Len(t, result.Sources, 2)
	assert.Contains(t, s.calls, "better query")
}

func TestQualityFallbackOnFailure(t *testing.T) {
	p := newTestPipeline(&fakeDispatcher{failAll: true}, &fakeSearcher{}, nil, ModeWeb)

	long := Candidate{Content: strings.Repeat("x", sufficientContentLen+1)}
	got := p.assessQuality(context.Background(), "q", []Candidate{long})
	assert.Equal(t, float64(5), got.QualityScore)
	assert.True(t, got.IsSufficient)

	short := Candidate{Content: "tiny"}
	got = p.assessQuality(context.Background(), "q", []Candidate{short})
	assert.Equal(t, float64(5), got.QualityScore)
	assert.False(t, got.IsSufficient)
}

func TestCancelledContextReturnsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(&fakeDispatcher{failAll: true}, &fakeSearcher{}, nil, ModeWeb)
	result, err := p.Run(ctx, Request{Query: "anything goes here"})
	require.NoError(t, err)
	assert.Empty(t, result.Sources)
}

func TestSummarizeScores(t *testing.T) {
	s := summarizeScores([]float64{4, 8, 6})
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 6, s.Mean, 1e-9)
	assert.InDelta(t, 6, s.Median, 1e-9)
	assert.InDelta(t, 4, s.Min, 1e-9)
	assert.InDelta(t, 8, s.Max, 1e-9)

	assert.Equal(t, QualitySummary{}, summarizeScores(nil))
}
