package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
	"github.com/murtaza-nasir/maestro-sub003/pkg/research"
)

// noteContentLimit caps a single extracted note.
const noteContentLimit = 2000

// runInitialExploration surveys the topic before structured research:
// exploratory questions are generated, researched through the available
// pipelines, and the findings recorded as notes. Depth rounds refine the
// questions from what was already learned.
func (t *Team) runInitialExploration(ctx context.Context, missionID string) error {
	snap, err := t.store.Get(missionID)
	if err != nil {
		return err
	}

	maxQuestions, _ := t.resolver.GetInt(config.ParamInitialResearchQuestions, missionID)
	if maxQuestions < 1 {
		maxQuestions = 3
	}
	maxDepth, _ := t.resolver.GetInt(config.ParamInitialResearchDepth, missionID)
	if maxDepth < 1 {
		maxDepth = 1
	}

	dispatcher := t.forMission(missionID)
	var learned []string

	for depth := 1; depth <= maxDepth; depth++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		questions := t.exploratoryQuestions(ctx, dispatcher, snap.UserRequest, learned, maxQuestions)
		if len(questions) == 0 {
			break
		}

		added := 0
		for _, question := range questions {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			notes, summary := t.research(ctx, missionID, question)
			if len(notes) > 0 {
				if err := t.store.AddNotes(missionID, notes...); err != nil {
					return err
				}
				added += len(notes)
			}
			if summary != "" {
				learned = append(learned, summary)
			}
		}
		t.emitNotes(missionID, added)
		if added == 0 {
			break
		}
	}

	t.emitStats(missionID)
	return nil
}

// runStructuredResearch researches every research_based section of the
// outline for the configured number of rounds, attaching the produced
// notes to their sections.
func (t *Team) runStructuredResearch(ctx context.Context, missionID string) error {
	snap, err := t.store.Get(missionID)
	if err != nil {
		return err
	}
	if snap.Plan == nil {
		return fmt.Errorf("mission %s has no plan to research", missionID)
	}

	rounds, _ := t.resolver.GetInt(config.ParamStructuredRounds, missionID)
	if rounds < 1 {
		rounds = 1
	}

	working := mission.CloneOutline(snap.Plan.ReportOutline)
	goal := snap.Plan.MissionGoal

	for round := 1; round <= rounds; round++ {
		added := 0
		var sections []*mission.ReportSection
		mission.WalkOutline(working, func(section *mission.ReportSection, _ int) {
			if section.ResearchStrategy == mission.StrategyResearchBased {
				sections = append(sections, section)
			}
		})

		for _, section := range sections {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			query := fmt.Sprintf("%s: %s", section.Title, section.Description)
			if goal != "" {
				query = fmt.Sprintf("%s (in the context of: %s)", query, goal)
			}

			notes, _ := t.research(ctx, missionID, query)
			if len(notes) == 0 {
				continue
			}
			if err := t.store.AddNotes(missionID, notes...); err != nil {
				return err
			}
			for _, n := range notes {
				section.AssociatedNoteIDs = append(section.AssociatedNoteIDs, n.NoteID)
			}
			added += len(notes)
		}

		if added > 0 {
			if err := t.store.SetPlan(missionID, &mission.Plan{
				MissionGoal:   goal,
				ReportOutline: working,
			}); err != nil {
				return err
			}
			t.emitNotes(missionID, added)
		}
		t.logger.Info("structured research round complete",
			"mission_id", missionID, "round", round, "notes_added", added)
	}

	t.emitStats(missionID)
	return nil
}

// research runs one query through both available pipelines and converts
// the findings into notes. The second return is a short summary used to
// steer later exploration rounds.
func (t *Team) research(ctx context.Context, missionID, query string) ([]*mission.Note, string) {
	var notes []*mission.Note
	var summaries []string

	if pipeline := t.docPipeline(missionID); pipeline != nil {
		result, err := pipeline.Run(ctx, research.Request{Query: query, MissionID: missionID})
		if err != nil {
			t.logger.Warn("document research failed", "mission_id", missionID, "error", err)
		} else if result != nil && result.Context != "" {
			_ = t.store.AddStatsDelta(missionID, mission.Stats{DocumentSearches: 1})
			extracted := t.extractNotes(ctx, missionID, query, result)
			notes = append(notes, extracted...)
			summaries = append(summaries, firstLines(result.Context, 3))
		}
	}

	if pipeline := t.webPipeline(missionID); pipeline != nil {
		result, err := pipeline.Run(ctx, research.Request{Query: query, MissionID: missionID})
		if err != nil {
			t.logger.Warn("web research failed", "mission_id", missionID, "error", err)
		} else if result != nil && result.Context != "" {
			_ = t.store.AddStatsDelta(missionID, mission.Stats{WebSearches: 1})
			extracted := t.extractNotes(ctx, missionID, query, result)
			notes = append(notes, extracted...)
			summaries = append(summaries, firstLines(result.Context, 3))
		}
	}

	return notes, strings.Join(summaries, "\n")
}

type extractedNote struct {
	Content string `json:"content"`
	RefID   string `json:"ref_id"`
}

// extractNotes asks the research model to distill the retrieved context
// into self-contained notes, each attributed to one source. Notes citing
// unknown ref ids are dropped.
func (t *Team) extractNotes(ctx context.Context, missionID, query string, result *research.Result) []*mission.Note {
	sources := make(map[string]research.Source, len(result.Sources))
	for _, src := range result.Sources {
		sources[src.RefID] = src
	}

	prompt := fmt.Sprintf(`Extract self-contained factual notes from the research context below.
Each note must be attributable to exactly one source; use that source's
ref_id. Skip anything not supported by the context.

Query: %s

%s

Respond with JSON: {"notes": [{"content": "...", "ref_id": "..."}]}`, query, result.Context)

	resp, _, err := t.forMission(missionID).Dispatch(ctx, []llms.Message{
		{Role: llms.RoleUser, Content: prompt},
	}, model.RoleResearch, nil)
	if err != nil {
		t.logger.Warn("note extraction failed", "mission_id", missionID, "error", err)
		return nil
	}

	var parsed struct {
		Notes []extractedNote `json:"notes"`
	}
	if err := model.ExtractJSON(resp.Content, &parsed); err != nil {
		t.logger.Warn("note extraction unparseable", "mission_id", missionID, "error", err)
		return nil
	}

	now := time.Now().UTC()
	var notes []*mission.Note
	for _, raw := range parsed.Notes {
		content := strings.TrimSpace(raw.Content)
		if content == "" {
			continue
		}
		src, ok := sources[strings.TrimSpace(raw.RefID)]
		if !ok {
			t.logger.Debug("dropping note with unknown source",
				"mission_id", missionID, "ref_id", raw.RefID)
			continue
		}
		if len(content) > noteContentLimit {
			content = content[:noteContentLimit]
		}
		notes = append(notes, noteFromSource(content, src, now))
	}
	return notes
}

func noteFromSource(content string, src research.Source, now time.Time) *mission.Note {
	n := &mission.Note{
		NoteID:    newNoteID(),
		Content:   content,
		CreatedAt: now,
	}
	switch src.Type {
	case "document":
		n.SourceType = mission.SourceDocument
		n.SourceID = "doc_" + src.DocID
		n.SourceMetadata = map[string]any{
			"title":  src.Title,
			"doc_id": src.DocID,
			"page":   src.Page,
		}
	default:
		n.SourceType = mission.SourceWeb
		n.SourceID = src.URL
		n.SourceMetadata = map[string]any{
			"title": src.Title,
			"url":   src.URL,
		}
	}
	return n
}

// exploratoryQuestions asks the fast query model for the next round of
// questions. The user request itself is the fallback.
func (t *Team) exploratoryQuestions(ctx context.Context, dispatcher Dispatcher, userRequest string, learned []string, maxQuestions int) []string {
	var b strings.Builder
	fmt.Fprintf(&b, `Generate up to %d focused research questions that would ground a report
on this request.

Request: %s
`, maxQuestions, userRequest)
	if len(learned) > 0 {
		context := strings.Join(learned, "\n")
		if len(context) > 4000 {
			context = context[:4000]
		}
		fmt.Fprintf(&b, "\nAlready learned (ask about what is still missing):\n%s\n", context)
	}
	b.WriteString(`
Respond with JSON: {"questions": ["..."]}`)

	resp, _, err := dispatcher.Dispatch(ctx, []llms.Message{
		{Role: llms.RoleUser, Content: b.String()},
	}, model.RoleQueryPreparation, nil)
	if err != nil {
		if len(learned) == 0 {
			return []string{userRequest}
		}
		return nil
	}

	var parsed struct {
		Questions []string `json:"questions"`
	}
	if err := model.ExtractJSON(resp.Content, &parsed); err != nil || len(parsed.Questions) == 0 {
		if len(learned) == 0 {
			return []string{userRequest}
		}
		return nil
	}
	if len(parsed.Questions) > maxQuestions {
		parsed.Questions = parsed.Questions[:maxQuestions]
	}
	return parsed.Questions
}

func firstLines(text string, n int) string {
	lines := strings.SplitN(text, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
