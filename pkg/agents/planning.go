package agents

import (
	"context"
	"fmt"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
	"github.com/murtaza-nasir/maestro-sub003/pkg/outline"
)

const maxPlanningAttempts = 3

// plannedOutline is the planning model's response envelope.
type plannedOutline struct {
	MissionGoal   string                   `json:"mission_goal"`
	ReportOutline []*mission.ReportSection `json:"report_outline"`
}

// runPlanning produces the mission's initial plan: goal plus a validated
// report outline.
func (t *Team) runPlanning(ctx context.Context, missionID string) error {
	snap, err := t.store.Get(missionID)
	if err != nil {
		return err
	}

	_ = t.store.AddGoal(missionID,
		fmt.Sprintf("Produce a research report answering: %s", snap.UserRequest), "planner")

	dispatcher := t.forMission(missionID)
	prompt := planningPrompt(snap.UserRequest)

	var planned plannedOutline
	var lastErr error
	for attempt := 1; attempt <= maxPlanningAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, _, err := dispatcher.Dispatch(ctx, []llms.Message{
			{Role: llms.RoleUser, Content: prompt},
		}, model.RolePlanning, nil)
		if err != nil {
			lastErr = err
			t.logger.Warn("planning call failed", "mission_id", missionID, "attempt", attempt, "error", err)
			continue
		}

		if err := model.ExtractJSON(resp.Content, &planned); err != nil {
			lastErr = err
			t.logger.Warn("planning response unparseable", "mission_id", missionID, "attempt", attempt, "error", err)
			continue
		}
		if len(planned.ReportOutline) == 0 {
			lastErr = fmt.Errorf("planning produced an empty outline")
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return fmt.Errorf("planning failed: %w", lastErr)
	}

	maxDepth, _ := t.resolver.GetInt(config.ParamMaxTotalDepth, missionID)
	validated, vreport := outline.NewValidator(maxDepth).ValidateAndCorrect(planned.ReportOutline)
	if !vreport.Valid {
		t.logger.Info("outline corrected during validation",
			"mission_id", missionID, "issues", len(vreport.Issues))
	}

	goal := planned.MissionGoal
	if goal == "" {
		goal = snap.UserRequest
	}
	if err := t.store.SetPlan(missionID, &mission.Plan{
		MissionGoal:   goal,
		ReportOutline: validated,
	}); err != nil {
		return err
	}

	t.emitPlan(missionID)
	return nil
}

func planningPrompt(userRequest string) string {
	return fmt.Sprintf(`Plan a research report for this request.

Request: %s

Design an outline of top-level sections with at most one level of
subsections. Every section needs a stable snake_case section_id, a title,
a one-sentence description, and a research_strategy: "research_based" for
sections that need sources, "synthesize_from_subsections" for parents,
"content_based" only for an introduction or conclusion.

Respond with JSON:
{"mission_goal": "...", "report_outline": [{"section_id": "...",
"title": "...", "description": "...", "research_strategy": "...",
"subsections": [...]}]}`, userRequest)
}
