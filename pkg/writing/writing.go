// Package writing drafts the report section by section over multiple
// passes. Middle sections go first so the introduction and conclusion can
// be synthesized from real content, reflection between passes yields
// targeted revision suggestions, and revisions within a pass run
// concurrently under the dispatcher's semaphore.
package writing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/events"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
)

// errorPlaceholder marks section content the writer failed to produce. The
// post-processing pass treats it like missing content.
const errorPlaceholder = "[writing failed]"

// ChangeSuggestion is one revision request from inter-pass reflection.
type ChangeSuggestion struct {
	SectionID    string `json:"section_id"`
	EditKind     string `json:"edit_kind"`
	Rationale    string `json:"rationale"`
	ProposedEdit string `json:"proposed_edit"`
}

// Dispatcher is the model dispatch surface the manager needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, messages []llms.Message, role model.Role, opts *model.Options) (*llms.Response, *model.Details, error)
}

// Emitter pushes progress events to connected clients.
type Emitter interface {
	SendToMission(missionID string, payload map[string]any)
}

// Manager runs the multi-pass writing phase.
type Manager struct {
	dispatcher Dispatcher
	store      *mission.ContextStore
	resolver   *config.Resolver
	emitter    Emitter
	logger     *slog.Logger
}

func NewManager(dispatcher Dispatcher, store *mission.ContextStore, resolver *config.Resolver, emitter Emitter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{dispatcher: dispatcher, store: store, resolver: resolver, emitter: emitter, logger: logger}
}

// Run executes the configured number of writing passes and leaves the
// drafted sections in the mission's report content.
func (m *Manager) Run(ctx context.Context, missionID string) error {
	snap, err := m.store.Get(missionID)
	if err != nil {
		return err
	}
	if snap.Plan == nil || len(snap.Plan.ReportOutline) == 0 {
		return fmt.Errorf("mission %s has no outline to write", missionID)
	}

	passes, _ := m.resolver.GetInt(config.ParamWritingPasses, missionID)
	if passes < 1 {
		passes = 1
	}

	if err := m.initialDraft(ctx, missionID, snap); err != nil {
		return err
	}

	for pass := 2; pass <= passes; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err = m.store.Get(missionID)
		if err != nil {
			return err
		}
		suggestions := m.reflect(ctx, snap)
		if len(suggestions) == 0 {
			m.logger.Info("no revision suggestions, stopping early", "mission_id", missionID, "pass", pass)
			break
		}
		if err := m.revise(ctx, missionID, snap, suggestions); err != nil {
			return err
		}
	}

	snap, err = m.store.Get(missionID)
	if err != nil {
		return err
	}
	return m.repairParents(ctx, missionID, snap)
}

// initialDraft is pass one: middle sections depth-first, then the last
// subtree, then the first. Synthesis parents are produced before any later
// section can cite them.
func (m *Manager) initialDraft(ctx context.Context, missionID string, snap *mission.Mission) error {
	outline := snap.Plan.ReportOutline
	written := make(map[string]string)

	for _, section := range draftOrder(outline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		content, err := m.writeSection(ctx, snap, section, written)
		if err != nil {
			m.logger.Warn("section write failed", "mission_id", missionID, "section_id", section.SectionID, "error", err)
			content = errorPlaceholder
		}
		written[section.SectionID] = content
		if err := m.storeSection(missionID, section.SectionID, content); err != nil {
			return err
		}
	}
	return nil
}

// draftOrder flattens the outline in writing order: middle top-level
// subtrees depth-first with children before parents (synthesis needs its
// inputs first), then the last subtree, then the first.
func draftOrder(outline []*mission.ReportSection) []*mission.ReportSection {
	var order []*mission.ReportSection
	var walk func(section *mission.ReportSection)
	walk = func(section *mission.ReportSection) {
		for _, sub := range section.Subsections {
			walk(sub)
		}
		order = append(order, section)
	}

	for i := 1; i < len(outline)-1; i++ {
		walk(outline[i])
	}
	if len(outline) > 1 {
		walk(outline[len(outline)-1])
	}
	if len(outline) > 0 {
		walk(outline[0])
	}
	return order
}

// writeSection produces one section's content according to its strategy.
func (m *Manager) writeSection(ctx context.Context, snap *mission.Mission, section *mission.ReportSection, written map[string]string) (string, error) {
	switch section.ResearchStrategy {
	case mission.StrategySynthesizeFromSubsections:
		return m.synthesize(ctx, snap, section, written)
	case mission.StrategySynthesizeFromOther:
		return m.draft(ctx, snap, section, written, true)
	default:
		return m.draft(ctx, snap, section, written, false)
	}
}

// draft writes a leaf section. Research-based sections get their assigned
// notes; content and synthesize-from-other strategies get previously
// written sections instead.
func (m *Manager) draft(ctx context.Context, snap *mission.Mission, section *mission.ReportSection, written map[string]string, fromOthers bool) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the report section %q.\n\nSection description: %s\n", section.Title, section.Description)

	if parent := parentTitle(snap.Plan.ReportOutline, section.SectionID); parent != "" {
		fmt.Fprintf(&b, "Parent section: %s\n", parent)
	}
	fmt.Fprintf(&b, "\nFull outline:\n%s\n", outlineSummary(snap.Plan.ReportOutline))

	if fromOthers || section.ResearchStrategy == mission.StrategyContentBased {
		b.WriteString("\nPreviously written sections:\n")
		mission.WalkOutline(snap.Plan.ReportOutline, func(s *mission.ReportSection, _ int) {
			if content, ok := written[s.SectionID]; ok && content != "" && content != errorPlaceholder {
				fmt.Fprintf(&b, "## %s\n%s\n\n", s.Title, content)
			}
		})
	} else {
		notes := notesFor(snap, section)
		if len(notes) > 0 {
			b.WriteString("\nSource notes (cite with [note_id] placeholders):\n")
			for _, n := range notes {
				fmt.Fprintf(&b, "[%s] %s\n", n.NoteID, n.Content)
			}
		}
	}

	appendPadContext(&b, snap)
	b.WriteString("\nRespond with the section text in markdown, no heading.")

	resp, _, err := m.dispatcher.Dispatch(ctx, []llms.Message{
		{Role: "user", Content: b.String()},
	}, model.RoleWriting, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// synthesize produces a parent section from its subsections' content.
func (m *Manager) synthesize(ctx context.Context, snap *mission.Mission, section *mission.ReportSection, written map[string]string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a brief synthesis introducing the section %q from its subsections below. Do not repeat their content verbatim.\n\n", section.Title)
	for _, sub := range section.Subsections {
		fmt.Fprintf(&b, "## %s\n%s\n\n", sub.Title, written[sub.SectionID])
	}
	b.WriteString("Respond with the synthesis text in markdown, no heading.")

	resp, _, err := m.dispatcher.Dispatch(ctx, []llms.Message{
		{Role: "user", Content: b.String()},
	}, model.RoleSimplifiedWriting, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// reflect reviews the concatenated draft and returns revision suggestions.
func (m *Manager) reflect(ctx context.Context, snap *mission.Mission) []ChangeSuggestion {
	draft := assembleDraft(snap)
	if draft == "" {
		return nil
	}

	prompt := fmt.Sprintf(`Review this report draft and suggest targeted revisions. Respond with
JSON: {"suggestions": [{"section_id": "...", "edit_kind": "...",
"rationale": "...", "proposed_edit": "..."}]}. Return an empty list when
the draft needs no changes.

%s`, draft)

	resp, _, err := m.dispatcher.Dispatch(ctx, []llms.Message{
		{Role: "user", Content: prompt},
	}, model.RoleReflection, nil)
	if err != nil {
		m.logger.Warn("writing reflection failed", "error", err)
		return nil
	}

	var parsed struct {
		Suggestions []ChangeSuggestion `json:"suggestions"`
	}
	if err := model.ExtractJSON(resp.Content, &parsed); err != nil {
		m.logger.Warn("writing reflection unparseable", "error", err)
		return nil
	}

	known := make(map[string]bool)
	mission.WalkOutline(snap.Plan.ReportOutline, func(s *mission.ReportSection, _ int) { known[s.SectionID] = true })
	var valid []ChangeSuggestion
	for _, sug := range parsed.Suggestions {
		if known[sug.SectionID] {
			valid = append(valid, sug)
		}
	}
	return valid
}

// revise applies suggestions concurrently per section. Synthesis parents
// are skipped here and regenerated from their revised subsections after all
// leaves settle.
func (m *Manager) revise(ctx context.Context, missionID string, snap *mission.Mission, suggestions []ChangeSuggestion) error {
	bySection := make(map[string][]ChangeSuggestion)
	for _, sug := range suggestions {
		bySection[sug.SectionID] = append(bySection[sug.SectionID], sug)
	}

	g, gctx := errgroup.WithContext(ctx)
	mission.WalkOutline(snap.Plan.ReportOutline, func(section *mission.ReportSection, _ int) {
		sugs, ok := bySection[section.SectionID]
		if !ok || section.ResearchStrategy == mission.StrategySynthesizeFromSubsections {
			return
		}
		g.Go(func() error {
			revised, err := m.reviseSection(gctx, snap, section, sugs)
			if err != nil {
				m.logger.Warn("revision failed, keeping previous content", "section_id", section.SectionID, "error", err)
				return nil
			}
			return m.storeSection(missionID, section.SectionID, revised)
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// Regenerate synthesis parents whose subtrees were touched.
	fresh, err := m.store.Get(missionID)
	if err != nil {
		return err
	}
	written := fresh.ReportContent
	var regen func(sections []*mission.ReportSection) error
	regen = func(sections []*mission.ReportSection) error {
		for _, section := range sections {
			if err := regen(section.Subsections); err != nil {
				return err
			}
			if section.ResearchStrategy != mission.StrategySynthesizeFromSubsections {
				continue
			}
			if !subtreeTouched(section, bySection) {
				continue
			}
			content, err := m.synthesize(ctx, fresh, section, written)
			if err != nil {
				m.logger.Warn("synthesis regeneration failed", "section_id", section.SectionID, "error", err)
				continue
			}
			written[section.SectionID] = content
			if err := m.storeSection(missionID, section.SectionID, content); err != nil {
				return err
			}
		}
		return nil
	}
	return regen(fresh.Plan.ReportOutline)
}

func (m *Manager) reviseSection(ctx context.Context, snap *mission.Mission, section *mission.ReportSection, suggestions []ChangeSuggestion) (string, error) {
	current := snap.ReportContent[section.SectionID]

	var b strings.Builder
	fmt.Fprintf(&b, "Revise the report section %q according to the suggestions.\n\nCurrent text:\n%s\n\nSuggestions:\n", section.Title, current)
	for _, sug := range suggestions {
		fmt.Fprintf(&b, "- (%s) %s: %s\n", sug.EditKind, sug.Rationale, sug.ProposedEdit)
	}
	b.WriteString("\nRespond with the full revised section text in markdown, no heading.")

	resp, _, err := m.dispatcher.Dispatch(ctx, []llms.Message{
		{Role: "user", Content: b.String()},
	}, model.RoleWriting, nil)
	if err != nil {
		return "", err
	}
	revised := strings.TrimSpace(resp.Content)
	if revised == "" {
		return current, nil
	}
	return revised, nil
}

// repairParents synthesizes any parent whose own content is missing or an
// error placeholder while all of its subsections hold valid text.
func (m *Manager) repairParents(ctx context.Context, missionID string, snap *mission.Mission) error {
	written := snap.ReportContent
	var repair func(sections []*mission.ReportSection) error
	repair = func(sections []*mission.ReportSection) error {
		for _, section := range sections {
			if err := repair(section.Subsections); err != nil {
				return err
			}
			if len(section.Subsections) == 0 {
				continue
			}
			if valid(written[section.SectionID]) {
				continue
			}
			allChildrenValid := true
			for _, sub := range section.Subsections {
				if !valid(written[sub.SectionID]) {
					allChildrenValid = false
					break
				}
			}
			if !allChildrenValid {
				continue
			}
			content, err := m.synthesize(ctx, snap, section, written)
			if err != nil {
				m.logger.Warn("parent repair failed", "section_id", section.SectionID, "error", err)
				continue
			}
			written[section.SectionID] = content
			if err := m.storeSection(missionID, section.SectionID, content); err != nil {
				return err
			}
		}
		return nil
	}
	return repair(snap.Plan.ReportOutline)
}

func valid(content string) bool {
	trimmed := strings.TrimSpace(content)
	return trimmed != "" && trimmed != errorPlaceholder
}

func (m *Manager) storeSection(missionID, sectionID, content string) error {
	if err := m.store.SetReportSection(missionID, sectionID, content); err != nil {
		return err
	}
	if m.emitter != nil {
		m.emitter.SendToMission(missionID, events.MissionPayload(events.KindDraftUpdate, missionID, map[string]any{
			"section_id": sectionID,
		}))
	}
	return nil
}

// assembleDraft concatenates written sections in outline order with their
// titles, for reflection review.
func assembleDraft(snap *mission.Mission) string {
	var b strings.Builder
	mission.WalkOutline(snap.Plan.ReportOutline, func(section *mission.ReportSection, _ int) {
		content := snap.ReportContent[section.SectionID]
		if !valid(content) {
			return
		}
		fmt.Fprintf(&b, "[%s] %s\n%s\n\n", section.SectionID, section.Title, content)
	})
	return strings.TrimSpace(b.String())
}

func notesFor(snap *mission.Mission, section *mission.ReportSection) []*mission.Note {
	want := make(map[string]bool, len(section.AssociatedNoteIDs))
	for _, id := range section.AssociatedNoteIDs {
		want[id] = true
	}
	var notes []*mission.Note
	for _, n := range snap.Notes {
		if want[n.NoteID] {
			notes = append(notes, n)
		}
	}
	return notes
}

func parentTitle(outline []*mission.ReportSection, sectionID string) string {
	title := ""
	var walk func(parent *mission.ReportSection, sections []*mission.ReportSection)
	walk = func(parent *mission.ReportSection, sections []*mission.ReportSection) {
		for _, section := range sections {
			if section.SectionID == sectionID && parent != nil {
				title = parent.Title
			}
			walk(section, section.Subsections)
		}
	}
	walk(nil, outline)
	return title
}

func outlineSummary(outline []*mission.ReportSection) string {
	var b strings.Builder
	mission.WalkOutline(outline, func(section *mission.ReportSection, depth int) {
		fmt.Fprintf(&b, "%s- %s\n", strings.Repeat("  ", depth-1), section.Title)
	})
	return b.String()
}

func subtreeTouched(section *mission.ReportSection, bySection map[string][]ChangeSuggestion) bool {
	touched := false
	mission.WalkOutline(section.Subsections, func(s *mission.ReportSection, _ int) {
		if _, ok := bySection[s.SectionID]; ok {
			touched = true
		}
	})
	return touched
}

// appendPadContext adds recent thoughts and active goals to a writing
// prompt.
func appendPadContext(b *strings.Builder, snap *mission.Mission) {
	if len(snap.Goals) > 0 {
		b.WriteString("\nActive goals:\n")
		for _, g := range snap.Goals {
			fmt.Fprintf(b, "- %s\n", g.Text)
		}
	}
	if len(snap.Thoughts) > 0 {
		b.WriteString("\nRecent thoughts:\n")
		for _, t := range snap.Thoughts {
			fmt.Fprintf(b, "- %s\n", t.Text)
		}
	}
}
