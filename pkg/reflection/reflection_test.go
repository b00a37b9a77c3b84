package reflection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
)

// scriptedDispatcher returns canned responses in call order and records the
// prompts it saw.
type scriptedDispatcher struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
	roles     []model.Role
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, messages []llms.Message, role model.Role, opts *model.Options) (*llms.Response, *model.Details, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	call := len(d.prompts)
	d.prompts = append(d.prompts, messages[len(messages)-1].Content)
	d.roles = append(d.roles, role)
	if call < len(d.errs) && d.errs[call] != nil {
		return nil, nil, d.errs[call]
	}
	if call < len(d.responses) {
		return &llms.Response{Content: d.responses[call]}, &model.Details{}, nil
	}
	return nil, nil, errors.New("no scripted response")
}

func outlineResponse(sections ...*mission.ReportSection) string {
	return fmt.Sprintf(`{"report_outline": %s}`, outlineJSON(sections))
}

func seedMission(t *testing.T, store *mission.ContextStore, outline []*mission.ReportSection, notes ...*mission.Note) *mission.Mission {
	t.Helper()
	m := store.CreateMission("user-1", "explain solar adoption trends")
	require.NoError(t, store.SetPlan(m.ID, &mission.Plan{MissionGoal: "solar trends", ReportOutline: outline}))
	if len(notes) > 0 {
		require.NoError(t, store.AddNotes(m.ID, notes...))
	}
	return m
}

func plainSection(id, title string) *mission.ReportSection {
	return &mission.ReportSection{SectionID: id, Title: title, Description: "about " + title, ResearchStrategy: mission.StrategyResearchBased}
}

func newManager(d Dispatcher, store *mission.ContextStore) *Manager {
	return NewManager(d, store, config.NewResolver(nil, nil), nil)
}

func TestRunAppliesStructuralModifications(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := seedMission(t, store, []*mission.ReportSection{plainSection("s1", "Background")})

	revised := plainSection("s1", "Historical Background")
	d := &scriptedDispatcher{responses: []string{outlineResponse(revised)}}

	mgr := newManager(d, store)
	err := mgr.Run(context.Background(), m.ID, []SectionReflection{
		{SectionID: "s1", ProposedModifications: []string{"rename to emphasize history"}},
	})
	require.NoError(t, err)

	got, err := store.Get(m.ID)
	require.NoError(t, err)
	require.Len(t, got.Plan.ReportOutline, 1)
	assert.Equal(t, "Historical Background", got.Plan.ReportOutline[0].Title)
	require.Len(t, d.prompts, 1)
	assert.Contains(t, d.prompts[0], "rename to emphasize history")
	assert.Equal(t, model.RolePlanning, d.roles[0])
}

func TestRunRetriesOnPlaceholderOutline(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := seedMission(t, store, []*mission.ReportSection{plainSection("s1", "Background")})

	good := plainSection("s1", "Expanded Background")
	d := &scriptedDispatcher{responses: []string{
		outlineResponse(plainSection("s1", "PLACEHOLDER - your outline here")),
		outlineResponse(good),
	}}

	mgr := newManager(d, store)
	err := mgr.Run(context.Background(), m.ID, []SectionReflection{
		{SectionID: "s1", ProposedModifications: []string{"expand"}},
	})
	require.NoError(t, err)

	got, _ := store.Get(m.ID)
	assert.Equal(t, "Expanded Background", got.Plan.ReportOutline[0].Title)
	assert.Len(t, d.prompts, 2)
}

func TestRunValidatesRevisedOutline(t *testing.T) {
	// A planning response can come back with a hand-written references
	// section, content_based everywhere, and no research_based leaf; the
	// stored plan must have all of that corrected.
	store := mission.NewContextStore(nil, 10)
	m := seedMission(t, store, []*mission.ReportSection{
		plainSection("s1", "Alpha"), plainSection("s2", "Beta"), plainSection("s3", "Gamma"),
	})

	topic := plainSection("s1", "Grid Storage Economics")
	topic.ResearchStrategy = mission.StrategyContentBased
	sub := plainSection("s1_1", "Cost Trends")
	sub.ResearchStrategy = mission.StrategyContentBased
	topic.Subsections = []*mission.ReportSection{sub}
	refs := plainSection("s4", "References")

	d := &scriptedDispatcher{responses: []string{outlineResponse(topic, refs)}}
	err := newManager(d, store).Run(context.Background(), m.ID, []SectionReflection{
		{SectionID: "s1", ProposedModifications: []string{"narrow the report to economics"}},
	})
	require.NoError(t, err)

	got, _ := store.Get(m.ID)
	assert.True(t, mission.HasResearchBased(got.Plan.ReportOutline))
	mission.WalkOutline(got.Plan.ReportOutline, func(s *mission.ReportSection, depth int) {
		assert.NotRegexp(t, `(?i)^references`, s.Title)
		if depth > 1 {
			assert.NotEqual(t, mission.StrategyContentBased, s.ResearchStrategy)
		}
	})
	require.Len(t, got.Plan.ReportOutline, 1)
	assert.Equal(t, mission.StrategySynthesizeFromSubsections, got.Plan.ReportOutline[0].ResearchStrategy)
}

func TestRunKeepsPreviousOutlineOnExhaustion(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := seedMission(t, store, []*mission.ReportSection{plainSection("s1", "Background")})

	d := &scriptedDispatcher{responses: []string{
		"please provide the outline",
		"please provide the outline",
		"please provide the outline",
	}}

	mgr := newManager(d, store)
	err := mgr.Run(context.Background(), m.ID, []SectionReflection{
		{SectionID: "s1", ProposedModifications: []string{"expand"}},
	})
	require.NoError(t, err)

	got, _ := store.Get(m.ID)
	assert.Equal(t, "Background", got.Plan.ReportOutline[0].Title)
	assert.Len(t, d.prompts, maxPlanningRetries)
}

func TestRunCollapseNeedsConfirmation(t *testing.T) {
	outline := []*mission.ReportSection{
		plainSection("s1", "Alpha"), plainSection("s2", "Beta"), plainSection("s3", "Gamma"),
	}
	collapsed := plainSection("s1", "Everything Consolidated")

	t.Run("confirmed", func(t *testing.T) {
		store := mission.NewContextStore(nil, 10)
		m := seedMission(t, store, mission.CloneOutline(outline))
		d := &scriptedDispatcher{responses: []string{outlineResponse(collapsed), "YES"}}

		err := newManager(d, store).Run(context.Background(), m.ID, []SectionReflection{
			{SectionID: "s1", ProposedModifications: []string{"merge all"}},
		})
		require.NoError(t, err)

		got, _ := store.Get(m.ID)
		require.Len(t, got.Plan.ReportOutline, 1)
		assert.Equal(t, model.RoleVerifier, d.roles[1])
	})

	t.Run("denied", func(t *testing.T) {
		store := mission.NewContextStore(nil, 10)
		m := seedMission(t, store, mission.CloneOutline(outline))
		d := &scriptedDispatcher{responses: []string{
			outlineResponse(collapsed), "NO",
			outlineResponse(collapsed), "NO",
			outlineResponse(collapsed), "NO",
		}}

		err := newManager(d, store).Run(context.Background(), m.ID, []SectionReflection{
			{SectionID: "s1", ProposedModifications: []string{"merge all"}},
		})
		require.NoError(t, err)

		got, _ := store.Get(m.ID)
		assert.Len(t, got.Plan.ReportOutline, 3)
	})
}

func TestRunAddsSuggestedSubsectionsWithNotes(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	note := &mission.Note{NoteID: "note_abc12345", Content: "rooftop installs doubled", SourceType: mission.SourceWeb, SourceID: "deadbeef"}
	m := seedMission(t, store, []*mission.ReportSection{plainSection("s1", "Adoption")}, note)

	parent := plainSection("s1", "Adoption")
	child := plainSection("s1_1", "Residential Adoption")
	child.AssociatedNoteIDs = []string{"note_abc12345"}
	parent.Subsections = []*mission.ReportSection{child}
	parent.ResearchStrategy = mission.StrategySynthesizeFromSubsections

	d := &scriptedDispatcher{responses: []string{outlineResponse(parent)}}
	mgr := newManager(d, store)
	err := mgr.Run(context.Background(), m.ID, []SectionReflection{
		{SectionID: "s1", SuggestedSubsections: []SubsectionSuggestion{{
			Title:           "Residential Adoption",
			Description:     "homeowner uptake",
			RelevantNoteIDs: []string{"note_abc12345"},
		}}},
	})
	require.NoError(t, err)

	require.Len(t, d.prompts, 1)
	assert.Contains(t, d.prompts[0], "Residential Adoption")
	assert.Contains(t, d.prompts[0], "rooftop installs doubled")

	got, _ := store.Get(m.ID)
	require.Len(t, got.Plan.ReportOutline[0].Subsections, 1)
}

func TestRunRedistributesOrphanNotes(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	orphan := &mission.Note{NoteID: "note_ffff0001", Content: "unclaimed finding", SourceType: mission.SourceWeb, SourceID: "deadbeef"}
	m := seedMission(t, store, []*mission.ReportSection{plainSection("s1", "Adoption")}, orphan)

	reassigned := plainSection("s1", "Adoption")
	reassigned.AssociatedNoteIDs = []string{"note_ffff0001"}
	d := &scriptedDispatcher{responses: []string{outlineResponse(reassigned)}}

	err := newManager(d, store).Run(context.Background(), m.ID, nil)
	require.NoError(t, err)

	require.Len(t, d.prompts, 1)
	assert.Contains(t, d.prompts[0], "unclaimed finding")
	assert.Contains(t, d.prompts[0], "not assigned")

	got, _ := store.Get(m.ID)
	assert.Equal(t, []string{"note_ffff0001"}, got.Plan.ReportOutline[0].AssociatedNoteIDs)
}

func TestRunNoChangesLeavesPlanUntouched(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := seedMission(t, store, []*mission.ReportSection{plainSection("s1", "Adoption")})

	before, _ := store.Get(m.ID)
	d := &scriptedDispatcher{}
	require.NoError(t, newManager(d, store).Run(context.Background(), m.ID, nil))

	after, _ := store.Get(m.ID)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Empty(t, d.prompts)
}

func TestBatchByChars(t *testing.T) {
	blocks := []string{strings.Repeat("a", 40), strings.Repeat("b", 40), strings.Repeat("c", 40)}
	batches := batchByChars(blocks, 90)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 1)

	// A single oversized block still forms a batch.
	huge := []string{strings.Repeat("x", 500)}
	assert.Len(t, batchByChars(huge, 100), 1)
}

func TestBatchParents(t *testing.T) {
	parents := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, [][]string{parents}, batchParents(parents, -1))

	batches := batchParents(parents, 2)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b"}, batches[0])
	assert.Equal(t, []string{"e"}, batches[2])
}

func TestBatchNotesSubdivides(t *testing.T) {
	var notes []*mission.Note
	for i := 0; i < 4; i++ {
		notes = append(notes, &mission.Note{
			NoteID:  fmt.Sprintf("note_%08d", i),
			Content: strings.Repeat("n", 600),
		})
	}
	batches := batchNotes(notes, 1024+noteBatchBuffer)
	require.Len(t, batches, 4)
	for _, b := range batches {
		assert.Contains(t, b, "note_")
	}
}

func TestParseOutlineAcceptsEnvelopeAndBareArray(t *testing.T) {
	envelope := `{"report_outline": [{"section_id": "s1", "title": "T", "description": "d", "research_strategy": "research_based"}]}`
	got, err := parseOutline(envelope)
	require.NoError(t, err)
	assert.Equal(t, "s1", got[0].SectionID)

	bare := `[{"section_id": "s2", "title": "T2", "description": "d", "research_strategy": "research_based"}]`
	got, err = parseOutline(bare)
	require.NoError(t, err)
	assert.Equal(t, "s2", got[0].SectionID)

	_, err = parseOutline("no json at all")
	assert.Error(t, err)
}
