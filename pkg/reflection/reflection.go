// Package reflection revises a mission's report outline between research
// rounds. It applies per-section reflection output in three phases:
// structural modifications, subsection additions with supporting notes, and
// redistribution of notes left unassigned by the new structure.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
	"github.com/murtaza-nasir/maestro-sub003/pkg/outline"
)

const (
	// basePromptReservation keeps room for the fixed prompt scaffolding when
	// batching against max_planning_context_chars.
	basePromptReservation = 5 * 1024
	// noteBatchBuffer is the slack kept when subdividing note batches.
	noteBatchBuffer = 1024

	maxPlanningRetries = 3
)

// errorOutlinePattern flags planning responses that echo instructions back
// instead of producing an outline.
var errorOutlinePattern = regexp.MustCompile(`(?i)placeholder|please provide|outline needed|your outline here|insert section`)

// SubsectionSuggestion proposes a new subsection under an existing parent.
type SubsectionSuggestion struct {
	ParentSectionID string   `json:"parent_section_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	RelevantNoteIDs []string `json:"relevant_note_ids,omitempty"`
}

// SectionReflection is the reflection output for one section.
type SectionReflection struct {
	SectionID             string                 `json:"section_id"`
	ProposedModifications []string               `json:"proposed_modifications,omitempty"`
	SuggestedSubsections  []SubsectionSuggestion `json:"suggested_subsection_topics,omitempty"`
}

// Dispatcher is the model dispatch surface the manager needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, messages []llms.Message, role model.Role, opts *model.Options) (*llms.Response, *model.Details, error)
}

// Manager applies reflection output to a mission's plan.
type Manager struct {
	dispatcher Dispatcher
	store      *mission.ContextStore
	resolver   *config.Resolver
	logger     *slog.Logger
}

func NewManager(dispatcher Dispatcher, store *mission.ContextStore, resolver *config.Resolver, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{dispatcher: dispatcher, store: store, resolver: resolver, logger: logger}
}

// Run applies the reflections to the mission's outline and, if anything
// changed, replaces the plan atomically.
func (m *Manager) Run(ctx context.Context, missionID string, reflections []SectionReflection) error {
	snap, err := m.store.Get(missionID)
	if err != nil {
		return err
	}
	if snap.Plan == nil {
		return fmt.Errorf("mission %s has no plan to revise", missionID)
	}

	budget, _ := m.resolver.GetInt(config.ParamMaxPlanningContextChars, missionID)
	if budget <= basePromptReservation {
		budget = basePromptReservation * 2
	}
	suggestionsPerBatch, _ := m.resolver.GetInt(config.ParamMaxSuggestionsPerBatch, missionID)

	initial := mission.CloneOutline(snap.Plan.ReportOutline)
	working := mission.CloneOutline(initial)

	working = m.applyModifications(ctx, snap, working, reflections, budget)
	working = m.applySubsections(ctx, snap, working, reflections, budget, suggestionsPerBatch)
	working = m.redistributeNotes(ctx, snap, working, budget)

	// A revised outline goes through the same correction pass as the initial
	// plan, so a bad planning response cannot store an outline that violates
	// the structural rules.
	maxDepth, _ := m.resolver.GetInt(config.ParamMaxTotalDepth, missionID)
	validated, vreport := outline.NewValidator(maxDepth).ValidateAndCorrect(working)
	if !vreport.Valid {
		m.logger.Info("revised outline corrected during validation",
			"mission_id", missionID, "issues", len(vreport.Issues))
	}
	working = validated

	if outlinesEqual(initial, working) {
		return nil
	}
	return m.store.SetPlan(missionID, &mission.Plan{
		MissionGoal:   snap.Plan.MissionGoal,
		ReportOutline: working,
	})
}

// applyModifications runs phase one: structural modification requests,
// batched greedily when the combined context would not fit the budget.
func (m *Manager) applyModifications(ctx context.Context, snap *mission.Mission, working []*mission.ReportSection, reflections []SectionReflection, budget int) []*mission.ReportSection {
	var blocks []string
	for _, r := range reflections {
		for _, mod := range r.ProposedModifications {
			if strings.TrimSpace(mod) == "" {
				continue
			}
			blocks = append(blocks, fmt.Sprintf("Section %s: %s", r.SectionID, mod))
		}
	}
	if len(blocks) == 0 {
		return working
	}

	for _, batch := range batchByChars(blocks, budget-basePromptReservation-len(snap.UserRequest)-len(outlineJSON(working))) {
		prompt := fmt.Sprintf(`Revise the report outline by applying these structural modifications.
Keep section ids stable where sections survive. Respond with JSON:
{"report_outline": [...]}.

User request: %s

Current outline:
%s

Modifications:
%s`, snap.UserRequest, outlineJSON(working), strings.Join(batch, "\n"))

		if revised, ok := m.planWithRetries(ctx, prompt, working); ok {
			working = revised
		}
	}
	return working
}

// applySubsections runs phase two: suggested subsection topics grouped by
// parent, with the notes they cite included in the planning context.
func (m *Manager) applySubsections(ctx context.Context, snap *mission.Mission, working []*mission.ReportSection, reflections []SectionReflection, budget, perBatch int) []*mission.ReportSection {
	byParent := make(map[string][]SubsectionSuggestion)
	var parentOrder []string
	for _, r := range reflections {
		for _, sug := range r.SuggestedSubsections {
			parent := sug.ParentSectionID
			if parent == "" {
				parent = r.SectionID
			}
			if _, seen := byParent[parent]; !seen {
				parentOrder = append(parentOrder, parent)
			}
			byParent[parent] = append(byParent[parent], sug)
		}
	}
	if len(parentOrder) == 0 {
		return working
	}

	notesByID := make(map[string]*mission.Note, len(snap.Notes))
	for _, n := range snap.Notes {
		notesByID[n.NoteID] = n
	}

	for _, parents := range batchParents(parentOrder, perBatch) {
		var suggestionBlock strings.Builder
		noteIDs := make(map[string]bool)
		for _, parent := range parents {
			for _, sug := range byParent[parent] {
				fmt.Fprintf(&suggestionBlock, "Under %s: %q - %s\n", parent, sug.Title, sug.Description)
				for _, id := range sug.RelevantNoteIDs {
					noteIDs[id] = true
				}
			}
		}

		noteBudget := budget - basePromptReservation - suggestionBlock.Len() - len(outlineJSON(working))
		for _, noteBatch := range batchNotes(orderedNotes(noteIDs, notesByID), noteBudget) {
			prompt := fmt.Sprintf(`Add the suggested subsections to the report outline, placing each under
its named parent. Assign the listed note ids to the new subsections where
relevant. Respond with JSON: {"report_outline": [...]}.

Current outline:
%s

Suggested subsections:
%s
Supporting notes:
%s`, outlineJSON(working), suggestionBlock.String(), noteBatch)

			if revised, ok := m.planWithRetries(ctx, prompt, working); ok {
				working = revised
			}
		}
	}
	return working
}

// redistributeNotes runs phase three: notes no section claims after the
// structural changes are offered back to the planner for reassignment.
func (m *Manager) redistributeNotes(ctx context.Context, snap *mission.Mission, working []*mission.ReportSection, budget int) []*mission.ReportSection {
	assigned := mission.AssignedNoteIDs(working)
	var orphans []*mission.Note
	for _, n := range snap.Notes {
		if !assigned[n.NoteID] {
			orphans = append(orphans, n)
		}
	}
	if len(orphans) == 0 {
		return working
	}

	noteBudget := budget - basePromptReservation - len(outlineJSON(working))
	for _, noteBatch := range batchNotes(orphans, noteBudget) {
		prompt := fmt.Sprintf(`These notes are not assigned to any section of the outline. Attach each
note id to the most relevant section's associated_note_ids. Do not change
titles, descriptions, or structure. Respond with JSON:
{"report_outline": [...]}.

Current outline:
%s

Unassigned notes:
%s`, outlineJSON(working), noteBatch)

		if revised, ok := m.planWithRetries(ctx, prompt, working); ok {
			working = revised
		}
	}
	return working
}

// planWithRetries dispatches a planning prompt, rejecting responses that
// match the error patterns or collapse the outline without confirmation.
// Returns the previous outline and false when every attempt fails.
func (m *Manager) planWithRetries(ctx context.Context, prompt string, previous []*mission.ReportSection) ([]*mission.ReportSection, bool) {
	for attempt := 1; attempt <= maxPlanningRetries; attempt++ {
		if ctx.Err() != nil {
			return previous, false
		}

		resp, _, err := m.dispatcher.Dispatch(ctx, []llms.Message{
			{Role: "user", Content: prompt},
		}, model.RolePlanning, nil)
		if err != nil {
			m.logger.Warn("planning call failed", "attempt", attempt, "error", err)
			continue
		}

		revised, err := parseOutline(resp.Content)
		if err != nil {
			m.logger.Warn("planning response unparseable", "attempt", attempt, "error", err)
			continue
		}
		if reason := m.rejectOutline(ctx, previous, revised); reason != "" {
			m.logger.Warn("planning response rejected", "attempt", attempt, "reason", reason)
			continue
		}
		return revised, true
	}
	return previous, false
}

// rejectOutline returns a non-empty reason when the revised outline should
// not replace the previous one.
func (m *Manager) rejectOutline(ctx context.Context, previous, revised []*mission.ReportSection) string {
	if len(revised) == 0 {
		return "empty outline"
	}

	bad := false
	mission.WalkOutline(revised, func(s *mission.ReportSection, _ int) {
		if errorOutlinePattern.MatchString(s.Title) || errorOutlinePattern.MatchString(s.SectionID) {
			bad = true
		}
	})
	if bad {
		return "error placeholder in outline"
	}

	// A collapse to a single top-level section is suspicious unless a fast
	// model confirms it was intentional.
	if len(revised) == 1 && len(previous) > 2 {
		if !m.confirmCollapse(ctx, previous, revised) {
			return "unconfirmed section-count collapse"
		}
	}
	return ""
}

func (m *Manager) confirmCollapse(ctx context.Context, previous, revised []*mission.ReportSection) bool {
	prompt := fmt.Sprintf(`An outline revision reduced the report from %d top-level sections to 1.
Is consolidating everything under %q a deliberate restructuring rather
than a truncated response? Answer YES or NO.`,
		len(previous), revised[0].Title)

	resp, _, err := m.dispatcher.Dispatch(ctx, []llms.Message{
		{Role: "user", Content: prompt},
	}, model.RoleVerifier, nil)
	if err != nil {
		return false
	}
	return model.ParseYesNo(resp.Content)
}

// outlineEnvelope accepts both the documented envelope and a bare array.
type outlineEnvelope struct {
	ReportOutline []*mission.ReportSection `json:"report_outline"`
}

func parseOutline(content string) ([]*mission.ReportSection, error) {
	var envelope outlineEnvelope
	if err := model.ExtractJSON(content, &envelope); err == nil && len(envelope.ReportOutline) > 0 {
		return envelope.ReportOutline, nil
	}
	var bare []*mission.ReportSection
	if err := model.ExtractJSON(content, &bare); err == nil && len(bare) > 0 {
		return bare, nil
	}
	return nil, fmt.Errorf("no outline found in response")
}

func outlineJSON(sections []*mission.ReportSection) string {
	data, err := json.MarshalIndent(sections, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

func outlinesEqual(a, b []*mission.ReportSection) bool {
	return outlineJSON(a) == outlineJSON(b)
}

// batchByChars packs blocks greedily into batches whose joined length stays
// within limit. A block larger than the limit gets its own batch rather
// than being split.
func batchByChars(blocks []string, limit int) [][]string {
	if limit < 1 {
		limit = 1
	}
	var batches [][]string
	var current []string
	size := 0
	for _, block := range blocks {
		if len(current) > 0 && size+len(block)+1 > limit {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, block)
		size += len(block) + 1
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// batchParents groups parent ids by max_suggestions_per_batch; -1 means one
// batch of everything.
func batchParents(parents []string, perBatch int) [][]string {
	if perBatch <= 0 {
		return [][]string{parents}
	}
	var batches [][]string
	for start := 0; start < len(parents); start += perBatch {
		end := start + perBatch
		if end > len(parents) {
			end = len(parents)
		}
		batches = append(batches, parents[start:end])
	}
	return batches
}

func orderedNotes(ids map[string]bool, byID map[string]*mission.Note) []*mission.Note {
	var notes []*mission.Note
	for id := range ids {
		if n, ok := byID[id]; ok {
			notes = append(notes, n)
		}
	}
	// Keep output deterministic for batching.
	sort.Slice(notes, func(i, j int) bool { return notes[i].NoteID < notes[j].NoteID })
	return notes
}

// batchNotes renders notes into text blocks no larger than the budget,
// keeping a buffer so the surrounding prompt still fits. Every batch holds
// at least one note even when that note alone exceeds the budget.
func batchNotes(notes []*mission.Note, budget int) []string {
	if len(notes) == 0 {
		return nil
	}
	budget -= noteBatchBuffer
	if budget < 1 {
		budget = 1
	}

	var batches []string
	var b strings.Builder
	for _, n := range notes {
		entry := fmt.Sprintf("[%s] %s\n", n.NoteID, n.Content)
		if b.Len() > 0 && b.Len()+len(entry) > budget {
			batches = append(batches, b.String())
			b.Reset()
		}
		b.WriteString(entry)
	}
	if b.Len() > 0 {
		batches = append(batches, b.String())
	}
	return batches
}
