// Package outline validates and corrects report outlines: depth limits,
// fuzzy-duplicate merging, empty sections, unique ids, strategy rules, and
// stripping of hand-written references sections. Applying the corrector
// twice is a fixed point.
package outline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
)

// duplicateThreshold is the similarity above which sibling titles merge.
const duplicateThreshold = 0.85

var referencesTitle = regexp.MustCompile(`(?i)^(references|bibliography|citations|works cited)\b`)

// introKeywords and conclusionKeywords gate which first/last top-level
// sections may stay content_based.
var (
	introKeywords      = []string{"introduction", "intro", "overview", "background", "preamble"}
	conclusionKeywords = []string{"conclusion", "summary", "closing", "final thoughts", "outlook"}
)

// Report summarizes a validation pass.
type Report struct {
	Valid            bool     `json:"valid"`
	Issues           []string `json:"issues"`
	Corrections      []string `json:"corrections"`
	MaxDepthSetting  int      `json:"max_depth_setting"`
	ActualMaxDepth   int      `json:"actual_max_depth"`
	TotalSections    int      `json:"total_sections"`
	HasResearchBased bool     `json:"has_research_based"`
}

// Validator applies the correction rules.
type Validator struct {
	maxDepth int
}

// NewValidator creates a validator. maxDepth is the deepest allowed
// subsection level below the top (0 = top-level only).
func NewValidator(maxDepth int) *Validator {
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &Validator{maxDepth: maxDepth}
}

// ValidateAndCorrect returns a corrected copy of the outline and the
// report. The input is never mutated.
func (v *Validator) ValidateAndCorrect(sections []*mission.ReportSection) ([]*mission.ReportSection, *Report) {
	out := mission.CloneOutline(sections)
	report := &Report{MaxDepthSetting: v.maxDepth}

	out = v.enforceDepth(out, 0, report)
	out = v.mergeDuplicates(out, report)
	out = v.dropEmpty(out, report)
	v.uniqueIDs(out, report)
	v.fixStrategies(out, report)
	out = v.dropReferences(out, report)

	report.Valid = len(report.Issues) == 0
	report.TotalSections = mission.CountSections(out)
	report.ActualMaxDepth = mission.OutlineDepth(out) - 1
	if report.ActualMaxDepth < 0 {
		report.ActualMaxDepth = 0
	}
	report.HasResearchBased = mission.HasResearchBased(out)
	return out, report
}

func (r *Report) record(issue, correction string) {
	r.Issues = append(r.Issues, issue)
	r.Corrections = append(r.Corrections, correction)
}

// enforceDepth flattens subtrees that cross the depth boundary into their
// parent's description as "Key subtopics to cover:" entries.
func (v *Validator) enforceDepth(sections []*mission.ReportSection, depth int, report *Report) []*mission.ReportSection {
	for _, section := range sections {
		if depth == v.maxDepth && len(section.Subsections) > 0 {
			pairs := collectTitleDescriptions(section.Subsections)
			section.Description = appendSubtopics(section.Description, pairs)
			// Keep flattened sections' notes reachable.
			for _, sub := range section.Subsections {
				section.AssociatedNoteIDs = unionIDs(section.AssociatedNoteIDs, mission.AssignedNoteIDs([]*mission.ReportSection{sub}))
			}
			report.record(
				fmt.Sprintf("section %s exceeds max depth %d", section.SectionID, v.maxDepth),
				fmt.Sprintf("flattened %d subsection(s) into %s", len(pairs), section.SectionID),
			)
			section.Subsections = nil
			continue
		}
		section.Subsections = v.enforceDepth(section.Subsections, depth+1, report)
	}
	return sections
}

func collectTitleDescriptions(sections []*mission.ReportSection) [][2]string {
	var pairs [][2]string
	mission.WalkOutline(sections, func(s *mission.ReportSection, _ int) {
		pairs = append(pairs, [2]string{s.Title, s.Description})
	})
	return pairs
}

func appendSubtopics(description string, pairs [][2]string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(description, "\n"))
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString("Key subtopics to cover:")
	for _, pair := range pairs {
		b.WriteString("\n- ")
		b.WriteString(pair[0])
		if pair[1] != "" {
			b.WriteString(": ")
			b.WriteString(pair[1])
		}
	}
	return b.String()
}

func unionIDs(existing []string, extra map[string]bool) []string {
	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	for id := range extra {
		if !seen[id] {
			seen[id] = true
			existing = append(existing, id)
		}
	}
	return existing
}

// mergeDuplicates merges sibling sections whose titles exceed the fuzzy
// similarity threshold: the first keeps the union of descriptions, note
// ids, and subsections.
func (v *Validator) mergeDuplicates(sections []*mission.ReportSection, report *Report) []*mission.ReportSection {
	var out []*mission.ReportSection
	for _, section := range sections {
		section.Subsections = v.mergeDuplicates(section.Subsections, report)

		merged := false
		for _, kept := range out {
			if titleSimilarity(kept.Title, section.Title) > duplicateThreshold {
				mergeInto(kept, section)
				report.record(
					fmt.Sprintf("sections %s and %s have near-duplicate titles", kept.SectionID, section.SectionID),
					fmt.Sprintf("merged %s into %s", section.SectionID, kept.SectionID),
				)
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, section)
		}
	}
	return out
}

func mergeInto(kept, dup *mission.ReportSection) {
	if dup.Description != "" && !strings.Contains(kept.Description, dup.Description) {
		if kept.Description != "" {
			kept.Description += "\n\n"
		}
		kept.Description += dup.Description
	}
	extra := make(map[string]bool, len(dup.AssociatedNoteIDs))
	for _, id := range dup.AssociatedNoteIDs {
		extra[id] = true
	}
	kept.AssociatedNoteIDs = unionIDs(kept.AssociatedNoteIDs, extra)
	kept.Subsections = append(kept.Subsections, dup.Subsections...)
}

// dropEmpty removes sections with neither description nor subsections.
func (v *Validator) dropEmpty(sections []*mission.ReportSection, report *Report) []*mission.ReportSection {
	var out []*mission.ReportSection
	for _, section := range sections {
		section.Subsections = v.dropEmpty(section.Subsections, report)
		if strings.TrimSpace(section.Description) == "" && len(section.Subsections) == 0 {
			report.record(
				fmt.Sprintf("section %s is empty", section.SectionID),
				fmt.Sprintf("removed empty section %s", section.SectionID),
			)
			continue
		}
		out = append(out, section)
	}
	return out
}

// uniqueIDs suffixes duplicate section ids _v1, _v2, ….
func (v *Validator) uniqueIDs(sections []*mission.ReportSection, report *Report) {
	seen := make(map[string]int)
	mission.WalkOutline(sections, func(section *mission.ReportSection, _ int) {
		count := seen[section.SectionID]
		seen[section.SectionID] = count + 1
		if count == 0 {
			return
		}
		oldID := section.SectionID
		section.SectionID = fmt.Sprintf("%s_v%d", oldID, count)
		seen[section.SectionID]++
		report.record(
			fmt.Sprintf("duplicate section id %s", oldID),
			fmt.Sprintf("renamed to %s", section.SectionID),
		)
	})
}

func matchesKeywords(section *mission.ReportSection, keywords []string) bool {
	title := strings.ToLower(section.Title)
	id := strings.ToLower(section.SectionID)
	for _, kw := range keywords {
		if strings.Contains(title, kw) || strings.Contains(id, kw) {
			return true
		}
	}
	return false
}

// fixStrategies enforces the strategy rules: parents synthesize from their
// subsections, subsections are never content_based, content_based survives
// only on intro/conclusion first/last top-level sections, and at least one
// research_based section remains.
func (v *Validator) fixStrategies(sections []*mission.ReportSection, report *Report) {
	for i, section := range sections {
		isFirst := i == 0
		isLast := i == len(sections)-1
		v.fixSectionStrategy(section, true, isFirst, isLast, report)
	}

	if len(sections) > 0 && !mission.HasResearchBased(sections) {
		promoted := pickPromotionCandidate(sections)
		if promoted != nil {
			report.record(
				"no research_based section remains",
				fmt.Sprintf("promoted %s to research_based", promoted.SectionID),
			)
			promoted.ResearchStrategy = mission.StrategyResearchBased
		}
	}
}

func (v *Validator) fixSectionStrategy(section *mission.ReportSection, topLevel, isFirst, isLast bool, report *Report) {
	for _, sub := range section.Subsections {
		v.fixSectionStrategy(sub, false, false, false, report)
	}

	if len(section.Subsections) > 0 {
		if section.ResearchStrategy != mission.StrategySynthesizeFromSubsections {
			report.record(
				fmt.Sprintf("section %s has subsections but strategy %s", section.SectionID, section.ResearchStrategy),
				fmt.Sprintf("set %s to synthesize_from_subsections", section.SectionID),
			)
			section.ResearchStrategy = mission.StrategySynthesizeFromSubsections
		}
		return
	}

	if section.ResearchStrategy == "" {
		section.ResearchStrategy = mission.StrategyResearchBased
		return
	}

	if section.ResearchStrategy != mission.StrategyContentBased {
		return
	}

	allowed := topLevel &&
		((isFirst && matchesKeywords(section, introKeywords)) ||
			(isLast && matchesKeywords(section, conclusionKeywords)))
	if !allowed {
		report.record(
			fmt.Sprintf("section %s cannot be content_based", section.SectionID),
			fmt.Sprintf("set %s to research_based", section.SectionID),
		)
		section.ResearchStrategy = mission.StrategyResearchBased
	}
}

// pickPromotionCandidate chooses a leaf to promote, preferring the middle
// of the outline over the intro and conclusion.
func pickPromotionCandidate(sections []*mission.ReportSection) *mission.ReportSection {
	var order []*mission.ReportSection
	for i := 1; i < len(sections)-1; i++ {
		order = append(order, sections[i])
	}
	if len(sections) > 1 {
		order = append(order, sections[len(sections)-1])
	}
	order = append(order, sections[0])

	for _, top := range order {
		if leaf := firstLeaf(top); leaf != nil && leaf.ResearchStrategy != mission.StrategyContentBased {
			return leaf
		}
	}
	for _, top := range order {
		if leaf := firstLeaf(top); leaf != nil {
			return leaf
		}
	}
	return nil
}

func firstLeaf(section *mission.ReportSection) *mission.ReportSection {
	if len(section.Subsections) == 0 {
		return section
	}
	for _, sub := range section.Subsections {
		if leaf := firstLeaf(sub); leaf != nil {
			return leaf
		}
	}
	return nil
}

// dropReferences removes hand-written references sections; the reference
// list is generated at finalization.
func (v *Validator) dropReferences(sections []*mission.ReportSection, report *Report) []*mission.ReportSection {
	var out []*mission.ReportSection
	for _, section := range sections {
		if referencesTitle.MatchString(strings.TrimSpace(section.Title)) {
			report.record(
				fmt.Sprintf("section %s is a references section", section.SectionID),
				fmt.Sprintf("removed %s", section.SectionID),
			)
			continue
		}
		section.Subsections = v.dropReferences(section.Subsections, report)
		out = append(out, section)
	}
	return out
}
