package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
	"github.com/murtaza-nasir/maestro-sub003/pkg/reflection"
)

// noteSummaryLimit caps one note's excerpt inside assignment and
// reflection prompts.
const noteSummaryLimit = 500

// runNoteAssignment places every unassigned note under an outline section,
// in batches bounded by max_notes_per_assignment_batch.
func (t *Team) runNoteAssignment(ctx context.Context, missionID string) error {
	snap, err := t.store.Get(missionID)
	if err != nil {
		return err
	}
	if snap.Plan == nil {
		return fmt.Errorf("mission %s has no plan for note assignment", missionID)
	}

	assigned := mission.AssignedNoteIDs(snap.Plan.ReportOutline)
	var orphans []*mission.Note
	for _, n := range snap.Notes {
		if !assigned[n.NoteID] {
			orphans = append(orphans, n)
		}
	}
	if len(orphans) == 0 {
		return nil
	}

	batchSize, _ := t.resolver.GetInt(config.ParamMaxNotesPerAssignment, missionID)
	if batchSize < 1 {
		batchSize = 40
	}

	working := mission.CloneOutline(snap.Plan.ReportOutline)
	sectionIndex := make(map[string]*mission.ReportSection)
	mission.WalkOutline(working, func(section *mission.ReportSection, _ int) {
		sectionIndex[section.SectionID] = section
	})

	dispatcher := t.forMission(missionID)
	outlineListing := outlineListing(working)
	changed := false

	for start := 0; start < len(orphans); start += batchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := start + batchSize
		if end > len(orphans) {
			end = len(orphans)
		}

		for noteID, sectionID := range t.assignBatch(ctx, dispatcher, outlineListing, orphans[start:end]) {
			section, ok := sectionIndex[sectionID]
			if !ok {
				t.logger.Debug("assignment to unknown section ignored",
					"mission_id", missionID, "section_id", sectionID)
				continue
			}
			section.AssociatedNoteIDs = append(section.AssociatedNoteIDs, noteID)
			changed = true
		}
	}

	if !changed {
		return nil
	}
	if err := t.store.SetPlan(missionID, &mission.Plan{
		MissionGoal:   snap.Plan.MissionGoal,
		ReportOutline: working,
	}); err != nil {
		return err
	}
	t.emitNotes(missionID, 0)
	return nil
}

// assignBatch maps note ids to section ids for one batch. Failures leave
// the batch unassigned rather than failing the phase.
func (t *Team) assignBatch(ctx context.Context, dispatcher Dispatcher, outlineListing string, notes []*mission.Note) map[string]string {
	var b strings.Builder
	b.WriteString("Assign each note to the most fitting outline section.\n\nOutline:\n")
	b.WriteString(outlineListing)
	b.WriteString("\nNotes:\n")
	for _, n := range notes {
		fmt.Fprintf(&b, "[%s] %s\n", n.NoteID, clip(n.Content, noteSummaryLimit))
	}
	b.WriteString(`
Respond with JSON: {"assignments": [{"note_id": "...", "section_id": "..."}]}`)

	resp, _, err := dispatcher.Dispatch(ctx, []llms.Message{
		{Role: llms.RoleUser, Content: b.String()},
	}, model.RoleNoteAssignment, nil)
	if err != nil {
		t.logger.Warn("note assignment call failed", "error", err)
		return nil
	}

	var parsed struct {
		Assignments []struct {
			NoteID    string `json:"note_id"`
			SectionID string `json:"section_id"`
		} `json:"assignments"`
	}
	if err := model.ExtractJSON(resp.Content, &parsed); err != nil {
		t.logger.Warn("note assignment unparseable", "error", err)
		return nil
	}

	valid := make(map[string]bool, len(notes))
	for _, n := range notes {
		valid[n.NoteID] = true
	}
	out := make(map[string]string)
	for _, a := range parsed.Assignments {
		if valid[a.NoteID] && a.SectionID != "" {
			out[a.NoteID] = a.SectionID
		}
	}
	return out
}

// reflectOnOutline reviews the outline against the gathered notes and
// produces the section reflections the replan consumes.
func (t *Team) reflectOnOutline(ctx context.Context, missionID string) ([]reflection.SectionReflection, error) {
	snap, err := t.store.Get(missionID)
	if err != nil {
		return nil, err
	}
	if snap.Plan == nil || len(snap.Notes) == 0 {
		return nil, nil
	}

	budget, _ := t.resolver.GetInt(config.ParamMaxPlanningContextChars, missionID)
	if budget < 1 {
		budget = 250000
	}

	var notesBlock strings.Builder
	for _, n := range snap.Notes {
		line := fmt.Sprintf("[%s] %s\n", n.NoteID, clip(n.Content, noteSummaryLimit))
		if notesBlock.Len()+len(line) > budget/2 {
			break
		}
		notesBlock.WriteString(line)
	}

	prompt := fmt.Sprintf(`Review this report outline against the research notes gathered so far.
For each section that should change, propose structural modifications
and, where notes support a new topic, suggest subsections with the note
ids that back them.

Outline:
%s
Notes:
%s
Respond with JSON: {"reflections": [{"section_id": "...",
"proposed_modifications": ["..."], "suggested_subsection_topics":
[{"parent_section_id": "...", "title": "...", "description": "...",
"relevant_note_ids": ["..."]}]}]}. Return an empty list when the outline
already fits the notes.`, outlineListing(snap.Plan.ReportOutline), notesBlock.String())

	resp, _, err := t.forMission(missionID).Dispatch(ctx, []llms.Message{
		{Role: llms.RoleUser, Content: prompt},
	}, model.RoleReflection, nil)
	if err != nil {
		// The replan is optional; a failed reflection keeps the plan as is.
		t.logger.Warn("outline reflection failed", "mission_id", missionID, "error", err)
		return nil, nil
	}

	var parsed struct {
		Reflections []reflection.SectionReflection `json:"reflections"`
	}
	if err := model.ExtractJSON(resp.Content, &parsed); err != nil {
		t.logger.Warn("outline reflection unparseable", "mission_id", missionID, "error", err)
		return nil, nil
	}
	return parsed.Reflections, nil
}

// outlineListing renders the outline as an indented id/title/strategy
// listing for prompts.
func outlineListing(sections []*mission.ReportSection) string {
	var b strings.Builder
	mission.WalkOutline(sections, func(section *mission.ReportSection, depth int) {
		fmt.Fprintf(&b, "%s%s - %s (%s, %d notes)\n",
			strings.Repeat("  ", depth-1), section.SectionID, section.Title,
			section.ResearchStrategy, len(section.AssociatedNoteIDs))
	})
	return b.String()
}

func clip(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
