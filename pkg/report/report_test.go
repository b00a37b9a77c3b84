package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
)

type stubDispatcher struct {
	response string
	err      error
	prompt   string
}

func (d *stubDispatcher) Dispatch(ctx context.Context, messages []llms.Message, role model.Role, opts *model.Options) (*llms.Response, *model.Details, error) {
	d.prompt = messages[len(messages)-1].Content
	if d.err != nil {
		return nil, nil, d.err
	}
	return &llms.Response{Content: d.response}, &model.Details{}, nil
}

func webNote(noteID, url, title string) *mission.Note {
	return &mission.Note{
		NoteID:     noteID,
		Content:    "note about " + title,
		SourceType: mission.SourceWeb,
		SourceID:   url,
		SourceMetadata: map[string]any{
			"title": title,
			"url":   url,
		},
	}
}

func catalogFor(notes ...*mission.Note) map[string]Reference {
	return sourceCatalog(&mission.Mission{Notes: notes})
}

func TestCleanTitle(t *testing.T) {
	cases := map[string]string{
		"**Title:** Solar Adoption in the 2020s": "Solar Adoption in the 2020s",
		"Title: Solar Adoption":                  "Solar Adoption",
		`"Quoted Title"`:                         "Quoted Title",
		"**Report Title:** Wrapped\nSecond line": "Wrapped",
		"  Plain Title  ":                        "Plain Title",
	}
	for raw, want := range cases {
		assert.Equal(t, want, CleanTitle(raw), "input %q", raw)
	}
}

func TestCitationNumberingByFirstAppearance(t *testing.T) {
	// Known ids resolve in appearance order; repeats reuse their number.
	notes := []*mission.Note{
		{NoteID: "note_00000001", SourceType: mission.SourceInternal, SourceID: "a3b4c5d6"},
		{NoteID: "note_00000002", SourceType: mission.SourceInternal, SourceID: "f2e8d9c1"},
	}
	g := NewGenerator(nil, nil, nil)

	text := "as shown [a3b4c5d6]. Later [f2e8d9c1] and again [a3b4c5d6]."
	resolved, refs := g.ResolveCitations(text, catalogFor(notes...))

	assert.Equal(t, "as shown [1]. Later [2] and again [1].", resolved)
	require.Len(t, refs, 2)
	assert.Equal(t, "a3b4c5d6", refs[0].RefID)
	assert.Equal(t, 1, refs[0].Number)
	assert.Equal(t, "f2e8d9c1", refs[1].RefID)
	assert.Equal(t, 2, refs[1].Number)
}

func TestCitationMultiIDSortedAscending(t *testing.T) {
	notes := []*mission.Note{
		{NoteID: "note_00000001", SourceType: mission.SourceInternal, SourceID: "aaaaaaaa"},
		{NoteID: "note_00000002", SourceType: mission.SourceInternal, SourceID: "bbbbbbbb"},
	}
	g := NewGenerator(nil, nil, nil)

	// First appearance fixes aaaaaaaa=1, bbbbbbbb=2; the bracket listing
	// them in reverse still renders ascending.
	text := "[aaaaaaaa] then [bbbbbbbb, aaaaaaaa]"
	resolved, _ := g.ResolveCitations(text, catalogFor(notes...))
	assert.Equal(t, "[1] then [1,2]", resolved)
}

func TestCitationMultiIDNumbersNewSourcesByID(t *testing.T) {
	notes := []*mission.Note{
		{NoteID: "note_00000001", SourceType: mission.SourceInternal, SourceID: "aaaaaaaa"},
		{NoteID: "note_00000002", SourceType: mission.SourceInternal, SourceID: "bbbbbbbb"},
	}
	g := NewGenerator(nil, nil, nil)

	// Both sources first appear inside one bracket, listed in reverse;
	// numbers follow ref id order, not bracket order.
	resolved, refs := g.ResolveCitations("[bbbbbbbb, aaaaaaaa]", catalogFor(notes...))
	assert.Equal(t, "[1,2]", resolved)
	require.Len(t, refs, 2)
	assert.Equal(t, "aaaaaaaa", refs[0].RefID)
	assert.Equal(t, "bbbbbbbb", refs[1].RefID)
}

func TestUnknownCitationLeftIntact(t *testing.T) {
	g := NewGenerator(nil, nil, nil)
	text := "known [aaaaaaaa] unknown [99999999]"
	notes := []*mission.Note{{NoteID: "note_00000001", SourceType: mission.SourceInternal, SourceID: "aaaaaaaa"}}

	resolved, refs := g.ResolveCitations(text, catalogFor(notes...))
	assert.Equal(t, "known [1] unknown [99999999]", resolved)
	assert.Len(t, refs, 1)
}

func TestCitationResolutionIdempotent(t *testing.T) {
	g := NewGenerator(nil, nil, nil)
	numbered := "as shown [1]. Later [2,3] and [12]."
	resolved, refs := g.ResolveCitations(numbered, catalogFor())
	assert.Equal(t, numbered, resolved)
	assert.Empty(t, refs)
}

func TestNoteAndDocCitationsShareOneReference(t *testing.T) {
	// A note citation and the direct ref id of the same source must map to
	// one reference number.
	note := webNote("note_12ab34cd", "https://example.com/article", "Example Article")
	refID := note.RefID()
	require.Len(t, refID, 8)

	g := NewGenerator(nil, nil, nil)
	text := fmt.Sprintf("first [note_12ab34cd] then [%s]", refID)
	resolved, refs := g.ResolveCitations(text, catalogFor(note))

	assert.Equal(t, "first [1] then [1]", resolved)
	require.Len(t, refs, 1)
	assert.Equal(t, refID, refs[0].RefID)
}

func TestAssembleDraftNumbersAndHeadings(t *testing.T) {
	outline := []*mission.ReportSection{
		{SectionID: "s1", Title: "Background", Subsections: []*mission.ReportSection{
			{SectionID: "s1a", Title: "History"},
		}},
		{SectionID: "s2", Title: "Findings"},
	}
	content := map[string]string{
		"s1":  "background text",
		"s1a": "history text",
		"s2":  "findings text",
	}

	draft := AssembleDraft(outline, content)
	assert.Contains(t, draft, "# 1. Background")
	assert.Contains(t, draft, "## 1.1. History")
	assert.Contains(t, draft, "# 2. Findings")
	assert.Less(t, strings.Index(draft, "background text"), strings.Index(draft, "history text"))
}

func TestFormatReferenceDocument(t *testing.T) {
	got := FormatReference(Reference{
		Type:  mission.SourceDocument,
		RefID: "abcd1234",
		Metadata: map[string]any{
			"authors": "Doe, J.",
			"year":    "2024",
			"title":   "Grid Storage Economics",
			"journal": "Energy Policy",
		},
	})
	assert.Equal(t, "Doe, J.. (2024). Grid Storage Economics. *Energy Policy*.", got)

	sparse := FormatReference(Reference{Type: mission.SourceDocument, RefID: "abcd1234"})
	assert.Equal(t, "Document abcd1234.", sparse)
}

func TestFormatReferenceWeb(t *testing.T) {
	got := FormatReference(Reference{
		Type:  mission.SourceWeb,
		RefID: "deadbeef",
		Metadata: map[string]any{
			"title":    "Solar Outlook",
			"url":      "https://example.com/solar",
			"accessed": "2026-08-24",
		},
	})
	assert.Contains(t, got, "Solar Outlook.")
	assert.Contains(t, got, "Available at: https://example.com/solar")
	assert.Contains(t, got, "(Accessed: 2026-08-24)")
}

func TestStatsHeaderFormatsCostToSixDecimals(t *testing.T) {
	header := statsHeader(mission.Stats{
		TotalCost:        0.1234567,
		PromptTokens:     100,
		CompletionTokens: 40,
		WebSearches:      3,
	})
	assert.Contains(t, header, "$0.123457")
	assert.Contains(t, header, "Prompt tokens: 100")
	assert.Contains(t, header, "Web searches: 3")
}

func TestGenerateTitleFallsBackToRequest(t *testing.T) {
	g := NewGenerator(&stubDispatcher{err: errors.New("down")}, nil, nil)
	title := g.GenerateTitle(context.Background(), &mission.Mission{UserRequest: "explain solar trends"})
	assert.Equal(t, "explain solar trends", title)
}

func TestGenerateTitleClipsSnippets(t *testing.T) {
	d := &stubDispatcher{response: "Clean Generated Title"}
	g := NewGenerator(d, nil, nil)

	long := strings.Repeat("x", snippetLimit+500)
	snap := &mission.Mission{
		UserRequest: "req",
		Plan: &mission.Plan{ReportOutline: []*mission.ReportSection{
			{SectionID: "a", Title: "A"}, {SectionID: "b", Title: "B"},
		}},
		ReportContent: map[string]string{"a": long, "b": "short closer"},
	}
	title := g.GenerateTitle(context.Background(), snap)
	assert.Equal(t, "Clean Generated Title", title)
	assert.LessOrEqual(t, strings.Count(d.prompt, "x"), snippetLimit)
	assert.Contains(t, d.prompt, "short closer")
}

func TestFinalizeProducesCompleteReport(t *testing.T) {
	store := mission.NewContextStore(nil, 10)
	m := store.CreateMission("u1", "solar research")
	require.NoError(t, store.SetPlan(m.ID, &mission.Plan{
		MissionGoal: "goal",
		ReportOutline: []*mission.ReportSection{
			{SectionID: "s1", Title: "Findings", ResearchStrategy: mission.StrategyResearchBased},
		},
	}))
	note := webNote("note_aabbccdd", "https://example.com/a", "Primary Source")
	require.NoError(t, store.AddNotes(m.ID, note))
	require.NoError(t, store.SetReportSection(m.ID, "s1", fmt.Sprintf("finding text [%s]", note.RefID())))
	require.NoError(t, store.AddStatsDelta(m.ID, mission.Stats{TotalCost: 0.5}))

	g := NewGenerator(&stubDispatcher{response: "Solar Research Report"}, store, nil)
	report, err := g.Finalize(context.Background(), m.ID)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(report, "# Solar Research Report\n"))
	assert.Contains(t, report, "$0.500000")
	assert.Contains(t, report, "finding text [1]")
	assert.Contains(t, report, "## References")
	assert.Contains(t, report, "1. Primary Source.")

	got, _ := store.Get(m.ID)
	assert.Equal(t, report, got.FinalReport)
}
