package outline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
)

func section(id, title, desc string, strategy mission.Strategy, subs ...*mission.ReportSection) *mission.ReportSection {
	return &mission.ReportSection{
		SectionID:        id,
		Title:            title,
		Description:      desc,
		ResearchStrategy: strategy,
		Subsections:      subs,
	}
}

func TestTitleSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, titleSimilarity("History of Renewable Energy", "history-of-renewable energy"))
	assert.Greater(t, titleSimilarity("Solar Energy Trends", "Solar Energy Trend"), 0.85)
	assert.Less(t, titleSimilarity("Solar Energy", "Nuclear Policy"), 0.5)
	assert.Equal(t, 0.0, titleSimilarity("", "Anything"))
}

func TestDepthFlatteningKeepsGrandchildContent(t *testing.T) {
	outline := []*mission.ReportSection{
		section("a", "Alpha", "top", mission.StrategySynthesizeFromSubsections,
			section("b", "Beta", "mid", mission.StrategySynthesizeFromSubsections,
				section("c", "Gamma", "deep", mission.StrategySynthesizeFromSubsections,
					section("d", "Delta", "too deep", mission.StrategyResearchBased),
				),
			),
		),
	}

	v := NewValidator(2)
	got, report := v.ValidateAndCorrect(outline)

	require.Len(t, got, 1)
	c := got[0].Subsections[0].Subsections[0]
	assert.Equal(t, "c", c.SectionID)
	assert.Empty(t, c.Subsections)
	assert.Contains(t, c.Description, "Key subtopics to cover:")
	assert.Contains(t, c.Description, "- Delta: too deep")
	assert.Equal(t, 2, report.ActualMaxDepth)
	assert.False(t, report.Valid)
}

func TestDepthFlatteningMergesNoteIDs(t *testing.T) {
	deep := section("d", "Delta", "deep", mission.StrategyResearchBased)
	deep.AssociatedNoteIDs = []string{"note_1", "note_2"}
	outline := []*mission.ReportSection{
		section("a", "Alpha", "top", mission.StrategyResearchBased, deep),
	}

	got, _ := NewValidator(0).ValidateAndCorrect(outline)
	require.Len(t, got, 1)
	assert.ElementsMatch(t, []string{"note_1", "note_2"}, got[0].AssociatedNoteIDs)
}

func TestMergeNearDuplicateSiblings(t *testing.T) {
	first := section("s1", "History of Renewable Energy", "the early years", mission.StrategyResearchBased)
	first.AssociatedNoteIDs = []string{"note_a"}
	dup := section("s2", "history-of-renewable energy", "modern developments", mission.StrategyResearchBased,
		section("s2a", "Hydro", "dams", mission.StrategyResearchBased))
	dup.AssociatedNoteIDs = []string{"note_a", "note_b"}

	got, report := NewValidator(2).ValidateAndCorrect([]*mission.ReportSection{first, dup})

	require.Len(t, got, 1)
	merged := got[0]
	assert.Equal(t, "s1", merged.SectionID)
	assert.Contains(t, merged.Description, "the early years")
	assert.Contains(t, merged.Description, "modern developments")
	assert.ElementsMatch(t, []string{"note_a", "note_b"}, merged.AssociatedNoteIDs)
	require.Len(t, merged.Subsections, 1)
	assert.Equal(t, "s2a", merged.Subsections[0].SectionID)
	assert.False(t, report.Valid)
}

func TestDistinctTitlesNotMerged(t *testing.T) {
	got, report := NewValidator(2).ValidateAndCorrect([]*mission.ReportSection{
		section("s1", "Solar Power Economics", "costs", mission.StrategyResearchBased),
		section("s2", "Wind Power Economics", "turbines", mission.StrategyResearchBased),
	})
	assert.Len(t, got, 2)
	assert.True(t, report.Valid)
}

func TestRemovesEmptySections(t *testing.T) {
	got, report := NewValidator(2).ValidateAndCorrect([]*mission.ReportSection{
		section("keep", "Keep Me", "has text", mission.StrategyResearchBased),
		section("drop", "Drop Me", "   ", mission.StrategyResearchBased),
	})
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].SectionID)
	assert.Contains(t, report.Corrections, "removed empty section drop")
}

func TestEmptyParentSurvivesViaSubsections(t *testing.T) {
	got, _ := NewValidator(2).ValidateAndCorrect([]*mission.ReportSection{
		section("parent", "Parent", "", mission.StrategySynthesizeFromSubsections,
			section("child", "Child", "content", mission.StrategyResearchBased)),
	})
	require.Len(t, got, 1)
	require.Len(t, got[0].Subsections, 1)
}

func TestDuplicateIDsGetVersionSuffix(t *testing.T) {
	got, _ := NewValidator(2).ValidateAndCorrect([]*mission.ReportSection{
		section("intro", "Market Overview", "a", mission.StrategyResearchBased),
		section("intro", "Supply Chains", "b", mission.StrategyResearchBased),
		section("intro", "Distribution", "c", mission.StrategyResearchBased),
	})
	require.Len(t, got, 3)
	assert.Equal(t, "intro", got[0].SectionID)
	assert.Equal(t, "intro_v1", got[1].SectionID)
	assert.Equal(t, "intro_v2", got[2].SectionID)
}

func TestParentStrategyForcedToSynthesize(t *testing.T) {
	got, _ := NewValidator(2).ValidateAndCorrect([]*mission.ReportSection{
		section("p", "Parent", "d", mission.StrategyResearchBased,
			section("c", "Child", "d", mission.StrategyResearchBased)),
	})
	assert.Equal(t, mission.StrategySynthesizeFromSubsections, got[0].ResearchStrategy)
	assert.Equal(t, mission.StrategyResearchBased, got[0].Subsections[0].ResearchStrategy)
}

func TestContentBasedAllowedOnlyForIntroAndConclusion(t *testing.T) {
	got, _ := NewValidator(2).ValidateAndCorrect([]*mission.ReportSection{
		section("introduction", "Introduction", "d", mission.StrategyContentBased),
		section("body", "Main Findings", "d", mission.StrategyContentBased),
		section("conclusion", "Conclusion", "d", mission.StrategyContentBased),
	})
	require.Len(t, got, 3)
	assert.Equal(t, mission.StrategyContentBased, got[0].ResearchStrategy)
	assert.Equal(t, mission.StrategyResearchBased, got[1].ResearchStrategy)
	assert.Equal(t, mission.StrategyContentBased, got[2].ResearchStrategy)
}

func TestContentBasedSubsectionDemoted(t *testing.T) {
	got, _ := NewValidator(2).ValidateAndCorrect([]*mission.ReportSection{
		section("p", "Parent", "d", mission.StrategySynthesizeFromSubsections,
			section("c", "Introduction to Topic", "d", mission.StrategyContentBased)),
	})
	assert.Equal(t, mission.StrategyResearchBased, got[0].Subsections[0].ResearchStrategy)
}

func TestPromotesMiddleLeafWhenNoResearchBased(t *testing.T) {
	got, report := NewValidator(2).ValidateAndCorrect([]*mission.ReportSection{
		section("introduction", "Introduction", "d", mission.StrategyContentBased),
		section("middle", "Core Analysis", "d", mission.StrategySynthesizeFromOther),
		section("conclusion", "Conclusion", "d", mission.StrategyContentBased),
	})
	assert.Equal(t, mission.StrategyResearchBased, got[1].ResearchStrategy)
	assert.True(t, report.HasResearchBased)
}

func TestRemovesReferencesSections(t *testing.T) {
	got, _ := NewValidator(2).ValidateAndCorrect([]*mission.ReportSection{
		section("body", "Findings", "d", mission.StrategyResearchBased),
		section("refs", "References", "list of sources", mission.StrategyContentBased),
		section("bib", "Bibliography", "more sources", mission.StrategyContentBased),
		section("wc", "Works Cited", "even more", mission.StrategyContentBased),
	})
	require.Len(t, got, 1)
	assert.Equal(t, "body", got[0].SectionID)
}

func TestValidatorIsIdempotent(t *testing.T) {
	outline := []*mission.ReportSection{
		section("introduction", "Introduction", "d", mission.StrategyContentBased),
		section("a", "Alpha", "top", mission.StrategySynthesizeFromSubsections,
			section("b", "Beta", "mid", mission.StrategySynthesizeFromSubsections,
				section("c", "Gamma", "deep", mission.StrategyResearchBased,
					section("d", "Delta", "too deep", mission.StrategyResearchBased)))),
		section("dup", "Key Trends", "one", mission.StrategyResearchBased),
		section("dup2", "key trends", "two", mission.StrategyResearchBased),
		section("refs", "References", "x", mission.StrategyContentBased),
	}

	v := NewValidator(2)
	once, firstReport := v.ValidateAndCorrect(outline)
	assert.False(t, firstReport.Valid)

	twice, secondReport := v.ValidateAndCorrect(once)
	assert.True(t, secondReport.Valid)
	assert.Empty(t, secondReport.Issues)
	assert.Equal(t, mission.CountSections(once), mission.CountSections(twice))
}

func TestEmptyOutline(t *testing.T) {
	got, report := NewValidator(2).ValidateAndCorrect(nil)
	assert.Empty(t, got)
	assert.True(t, report.Valid)
	assert.Equal(t, 0, report.TotalSections)
	assert.Equal(t, 0, report.ActualMaxDepth)
	assert.False(t, report.HasResearchBased)
}

func TestInputNotMutated(t *testing.T) {
	original := []*mission.ReportSection{
		section("p", "Parent", "d", mission.StrategyResearchBased,
			section("c", "Child", "d", mission.StrategyResearchBased)),
	}
	_, _ = NewValidator(2).ValidateAndCorrect(original)
	assert.Equal(t, mission.StrategyResearchBased, original[0].ResearchStrategy)
}
