package agents

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/controller"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
	"github.com/murtaza-nasir/maestro-sub003/pkg/research"
)

// needleDispatcher answers by prompt content so concurrent calls stay
// deterministic, and records usage details for stats assertions.
type needleDispatcher struct {
	mu      sync.Mutex
	answers map[string]string // prompt substring → response
	errOn   string
	calls   []string
	roles   []model.Role
	details model.Details
}

func (d *needleDispatcher) Dispatch(_ context.Context, messages []llms.Message, role model.Role, opts *model.Options) (*llms.Response, *model.Details, error) {
	prompt := messages[len(messages)-1].Content
	d.mu.Lock()
	d.calls = append(d.calls, prompt)
	d.roles = append(d.roles, role)
	d.mu.Unlock()

	if d.errOn != "" && strings.Contains(prompt, d.errOn) {
		return nil, nil, errors.New("scripted failure")
	}
	for needle, answer := range d.answers {
		if strings.Contains(prompt, needle) {
			details := d.details
			return &llms.Response{Content: answer}, &details, nil
		}
	}
	return nil, nil, errors.New("no answer for prompt: " + prompt[:min(80, len(prompt))])
}

func (d *needleDispatcher) prompts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// fixedSearcher returns the same candidates for every query.
type fixedSearcher struct {
	candidates []research.Candidate
}

func (s *fixedSearcher) Search(_ context.Context, _ string, _ int) ([]research.Candidate, error) {
	return append([]research.Candidate(nil), s.candidates...), nil
}

func newTeam(d Dispatcher, store *mission.ContextStore, web research.Searcher) *Team {
	return newTeamWithSettings(d, store, web, nil)
}

// newTeamWithSettings pins mission-layer parameters so tests control round
// and depth counts.
func newTeamWithSettings(d Dispatcher, store *mission.ContextStore, web research.Searcher, settings map[string]any) *Team {
	resolver := config.NewResolver(func(_, key string) (any, bool) {
		v, ok := settings[key]
		return v, ok
	}, nil)
	return NewTeam(store, d, resolver, web, nil, nil, nil, nil)
}

// pipelineAnswers are the responses the research pipeline needs to accept
// one web candidate and stop after one iteration.
func pipelineAnswers() map[string]string {
	return map[string]string{
		"relevant to the query": "YES",
		"quality_score":         `{"quality_score": 8, "is_sufficient": true}`,
		"rewritten query":       "enriched query",
	}
}

func webCandidate() research.Candidate {
	return research.Candidate{
		Title:   "Grid study",
		Snippet: "storage capacity findings",
		URL:     "https://example.org/grid",
	}
}

func TestPhasesOrderMatchesLifecycle(t *testing.T) {
	team := newTeam(&needleDispatcher{}, mission.NewContextStore(nil, 10), nil)

	var names []string
	for _, p := range team.Phases() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{
		controller.PhasePlanning,
		controller.PhaseInitialExploration,
		controller.PhaseStructuredResearch,
		controller.PhaseReplan,
		controller.PhaseNoteAssignment,
		controller.PhaseWriting,
		controller.PhaseFinalization,
	}, names)

	for _, p := range team.Phases() {
		assert.Equal(t, p.Name == controller.PhaseReplan, p.Optional)
	}
}

func TestPlanningSetsValidatedPlan(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := store.CreateMission("u1", "how do heat pumps work")

	d := &needleDispatcher{answers: map[string]string{
		"Plan a research report": `{"mission_goal": "explain heat pumps", "report_outline": [
			{"section_id": "intro", "title": "Introduction", "description": "opening", "research_strategy": "content_based"},
			{"section_id": "tech", "title": "Technology", "description": "how they work", "research_strategy": "research_based"}
		]}`,
	}}
	team := newTeam(d, store, nil)

	require.NoError(t, team.runPlanning(context.Background(), m.ID))

	got, err := store.Get(m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Plan)
	assert.Equal(t, "explain heat pumps", got.Plan.MissionGoal)
	assert.Len(t, got.Plan.ReportOutline, 2)
	require.NotEmpty(t, got.Goals)
	assert.Contains(t, got.Goals[0].Text, "how do heat pumps work")
	assert.Equal(t, model.RolePlanning, d.roles[0])
}

func TestPlanningRetriesThenFails(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := store.CreateMission("u1", "a question")

	d := &needleDispatcher{answers: map[string]string{
		"Plan a research report": "I cannot produce an outline right now.",
	}}
	team := newTeam(d, store, nil)

	err := team.runPlanning(context.Background(), m.ID)
	require.Error(t, err)
	assert.Len(t, d.prompts(), maxPlanningAttempts)

	got, _ := store.Get(m.ID)
	assert.Nil(t, got.Plan)
}

func TestInitialExplorationProducesNotes(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := store.CreateMission("u1", "grid scale storage")

	refID := mission.RefIDForURL("https://example.org/grid")
	answers := pipelineAnswers()
	answers["focused research questions"] = `{"questions": ["what storage technologies dominate"]}`
	answers["Extract self-contained factual notes"] = `{"notes": [
		{"content": "Lithium-ion dominates new grid storage.", "ref_id": "` + refID + `"}
	]}`
	answers["focused sub-queries"] = `{"queries": ["storage technologies"]}`

	d := &needleDispatcher{answers: answers}
	team := newTeamWithSettings(d, store, &fixedSearcher{candidates: []research.Candidate{webCandidate()}}, map[string]any{
		"initial_research_max_questions": 1,
		"initial_research_max_depth":     1,
		"max_decomposed_queries":         1,
		"max_search_iterations":          1,
	})

	require.NoError(t, team.runInitialExploration(context.Background(), m.ID))

	got, err := store.Get(m.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got.Notes)
	note := got.Notes[0]
	assert.Equal(t, mission.SourceWeb, note.SourceType)
	assert.Equal(t, "https://example.org/grid", note.SourceID)
	assert.True(t, strings.HasPrefix(note.NoteID, "note_"))
	assert.Len(t, note.NoteID, len("note_")+8)
	assert.Equal(t, refID, note.RefID())
	assert.Equal(t, 1, got.Stats.WebSearches)
}

func TestExtractNotesDropsUnknownSources(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := store.CreateMission("u1", "q")

	d := &needleDispatcher{answers: map[string]string{
		"Extract self-contained factual notes": `{"notes": [
			{"content": "good note", "ref_id": "aabbccdd"},
			{"content": "orphan note", "ref_id": "99999999"}
		]}`,
	}}
	team := newTeam(d, store, nil)

	result := &research.Result{
		Context: "Source [aabbccdd]: Grid study\ncontent",
		Sources: []research.Source{{Type: "web", RefID: "aabbccdd", Title: "Grid study", URL: "https://example.org/grid"}},
	}
	notes := team.extractNotes(context.Background(), m.ID, "q", result)
	require.Len(t, notes, 1)
	assert.Equal(t, "good note", notes[0].Content)
}

func TestStructuredResearchAttachesNotesToSections(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := store.CreateMission("u1", "grid storage")
	require.NoError(t, store.SetPlan(m.ID, &mission.Plan{
		MissionGoal: "grid storage report",
		ReportOutline: []*mission.ReportSection{
			{SectionID: "tech", Title: "Technology", Description: "technologies in use", ResearchStrategy: mission.StrategyResearchBased},
			{SectionID: "intro", Title: "Introduction", Description: "opening", ResearchStrategy: mission.StrategyContentBased},
		},
	}))

	refID := mission.RefIDForURL("https://example.org/grid")
	answers := pipelineAnswers()
	answers["Extract self-contained factual notes"] = `{"notes": [
		{"content": "Flow batteries serve long durations.", "ref_id": "` + refID + `"}
	]}`
	answers["focused sub-queries"] = `{"queries": ["battery technologies"]}`

	d := &needleDispatcher{answers: answers}
	team := newTeamWithSettings(d, store, &fixedSearcher{candidates: []research.Candidate{webCandidate()}}, map[string]any{
		"structured_research_rounds": 1,
		"max_decomposed_queries":     1,
		"max_search_iterations":      1,
	})

	require.NoError(t, team.runStructuredResearch(context.Background(), m.ID))

	got, err := store.Get(m.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got.Notes)

	tech := mission.FindSection(got.Plan.ReportOutline, "tech")
	require.NotNil(t, tech)
	assert.NotEmpty(t, tech.AssociatedNoteIDs)

	intro := mission.FindSection(got.Plan.ReportOutline, "intro")
	require.NotNil(t, intro)
	assert.Empty(t, intro.AssociatedNoteIDs, "content_based sections are not researched")
}

func TestStructuredResearchRequiresPlan(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := store.CreateMission("u1", "q")
	team := newTeam(&needleDispatcher{}, store, nil)
	assert.Error(t, team.runStructuredResearch(context.Background(), m.ID))
}

func TestNoteAssignmentPlacesOrphans(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := store.CreateMission("u1", "q")
	require.NoError(t, store.SetPlan(m.ID, &mission.Plan{
		MissionGoal: "goal",
		ReportOutline: []*mission.ReportSection{
			{SectionID: "findings", Title: "Findings", ResearchStrategy: mission.StrategyResearchBased},
		},
	}))
	require.NoError(t, store.AddNotes(m.ID,
		&mission.Note{NoteID: "note_aaaa0001", Content: "an orphan fact", SourceType: mission.SourceWeb, SourceID: "https://a.example"},
	))

	d := &needleDispatcher{answers: map[string]string{
		"Assign each note": `{"assignments": [{"note_id": "note_aaaa0001", "section_id": "findings"}]}`,
	}}
	team := newTeam(d, store, nil)

	require.NoError(t, team.runNoteAssignment(context.Background(), m.ID))

	got, _ := store.Get(m.ID)
	section := mission.FindSection(got.Plan.ReportOutline, "findings")
	assert.Equal(t, []string{"note_aaaa0001"}, section.AssociatedNoteIDs)
	assert.Equal(t, model.RoleNoteAssignment, d.roles[len(d.roles)-1])
}

func TestNoteAssignmentIgnoresUnknownSections(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := store.CreateMission("u1", "q")
	require.NoError(t, store.SetPlan(m.ID, &mission.Plan{
		ReportOutline: []*mission.ReportSection{
			{SectionID: "findings", Title: "Findings", ResearchStrategy: mission.StrategyResearchBased},
		},
	}))
	require.NoError(t, store.AddNotes(m.ID,
		&mission.Note{NoteID: "note_aaaa0001", Content: "fact", SourceType: mission.SourceWeb, SourceID: "https://a.example"},
	))

	d := &needleDispatcher{answers: map[string]string{
		"Assign each note": `{"assignments": [{"note_id": "note_aaaa0001", "section_id": "missing"}]}`,
	}}
	team := newTeam(d, store, nil)

	require.NoError(t, team.runNoteAssignment(context.Background(), m.ID))

	got, _ := store.Get(m.ID)
	section := mission.FindSection(got.Plan.ReportOutline, "findings")
	assert.Empty(t, section.AssociatedNoteIDs)
}

func TestNoteAssignmentSkipsWhenAllAssigned(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := store.CreateMission("u1", "q")
	require.NoError(t, store.SetPlan(m.ID, &mission.Plan{
		ReportOutline: []*mission.ReportSection{
			{SectionID: "findings", Title: "Findings", ResearchStrategy: mission.StrategyResearchBased, AssociatedNoteIDs: []string{"note_aaaa0001"}},
		},
	}))
	require.NoError(t, store.AddNotes(m.ID,
		&mission.Note{NoteID: "note_aaaa0001", Content: "fact", SourceType: mission.SourceWeb, SourceID: "https://a.example"},
	))

	d := &needleDispatcher{}
	team := newTeam(d, store, nil)
	require.NoError(t, team.runNoteAssignment(context.Background(), m.ID))
	assert.Empty(t, d.prompts(), "no model call when nothing is orphaned")
}

func TestReplanWithoutNotesIsNoOp(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := store.CreateMission("u1", "q")
	require.NoError(t, store.SetPlan(m.ID, &mission.Plan{
		ReportOutline: []*mission.ReportSection{
			{SectionID: "s1", Title: "Findings", ResearchStrategy: mission.StrategyResearchBased},
		},
	}))

	d := &needleDispatcher{}
	team := newTeam(d, store, nil)
	require.NoError(t, team.runReplan(context.Background(), m.ID))
	assert.Empty(t, d.prompts())
}

func TestReplanSurvivesReflectionFailure(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := store.CreateMission("u1", "q")
	require.NoError(t, store.SetPlan(m.ID, &mission.Plan{
		ReportOutline: []*mission.ReportSection{
			{SectionID: "s1", Title: "Findings", ResearchStrategy: mission.StrategyResearchBased},
		},
	}))
	require.NoError(t, store.AddNotes(m.ID,
		&mission.Note{NoteID: "note_aaaa0001", Content: "fact", SourceType: mission.SourceWeb, SourceID: "https://a.example"},
	))

	d := &needleDispatcher{errOn: "Review this report outline"}
	team := newTeam(d, store, nil)

	require.NoError(t, team.runReplan(context.Background(), m.ID))
	got, _ := store.Get(m.ID)
	assert.Equal(t, "Findings", got.Plan.ReportOutline[0].Title)
}

func TestMissionDispatcherAccumulatesStats(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := store.CreateMission("u1", "q")

	d := &needleDispatcher{
		answers: map[string]string{"anything": "ok"},
		details: model.Details{Cost: 0.001, PromptTokens: 100, CompletionTokens: 40, NativeTotalTokens: 150},
	}
	team := newTeam(d, store, nil)
	md := team.forMission(m.ID)

	for i := 0; i < 3; i++ {
		_, _, err := md.Dispatch(context.Background(), []llms.Message{
			{Role: llms.RoleUser, Content: "anything"},
		}, model.RoleResearch, nil)
		require.NoError(t, err)
	}

	got, _ := store.Get(m.ID)
	assert.InDelta(t, 0.003, got.Stats.TotalCost, 1e-9)
	assert.Equal(t, 300, got.Stats.PromptTokens)
	assert.Equal(t, 120, got.Stats.CompletionTokens)
	assert.Equal(t, 450, got.Stats.NativeTokens)
}

func TestOutlineListingIndentsByDepth(t *testing.T) {
	listing := outlineListing([]*mission.ReportSection{
		{SectionID: "a", Title: "Top", ResearchStrategy: mission.StrategySynthesizeFromSubsections, Subsections: []*mission.ReportSection{
			{SectionID: "b", Title: "Child", ResearchStrategy: mission.StrategyResearchBased, AssociatedNoteIDs: []string{"n1"}},
		}},
	})
	assert.Contains(t, listing, "a - Top")
	assert.Contains(t, listing, "  b - Child")
	assert.Contains(t, listing, "1 notes")
}

func TestNewNoteIDShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := newNoteID()
		require.Len(t, id, len("note_")+8)
		assert.True(t, strings.HasPrefix(id, "note_"))
		for _, r := range id[len("note_"):] {
			assert.Contains(t, "0123456789abcdef", string(r))
		}
		assert.False(t, seen[id], "ids must not repeat")
		seen[id] = true
	}
}
