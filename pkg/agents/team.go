// Package agents implements the mission phase bodies: planning, initial
// exploration, structured research, the optional replan, note assignment,
// writing, and finalization. The controller sequences them; each phase
// reads and mutates mission state through the context store and reports
// progress on the event bus.
package agents

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/controller"
	"github.com/murtaza-nasir/maestro-sub003/pkg/events"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
	"github.com/murtaza-nasir/maestro-sub003/pkg/reflection"
	"github.com/murtaza-nasir/maestro-sub003/pkg/report"
	"github.com/murtaza-nasir/maestro-sub003/pkg/research"
	"github.com/murtaza-nasir/maestro-sub003/pkg/writing"
)

// Dispatcher is the model dispatch surface shared by every agent.
type Dispatcher interface {
	Dispatch(ctx context.Context, messages []llms.Message, role model.Role, opts *model.Options) (*llms.Response, *model.Details, error)
}

// Emitter pushes progress events to connected clients.
type Emitter interface {
	SendToMission(missionID string, payload map[string]any)
}

// Team bundles the shared infrastructure the phases draw on. Search halves
// may be nil: a team without a document searcher simply never runs document
// retrieval, and likewise for web.
type Team struct {
	store      *mission.ContextStore
	dispatcher Dispatcher
	resolver   *config.Resolver
	webSearch  research.Searcher
	webFetch   research.Fetcher
	docSearch  research.Searcher
	emitter    Emitter
	logger     *slog.Logger
}

func NewTeam(store *mission.ContextStore, dispatcher Dispatcher, resolver *config.Resolver, webSearch research.Searcher, webFetch research.Fetcher, docSearch research.Searcher, emitter Emitter, logger *slog.Logger) *Team {
	if logger == nil {
		logger = slog.Default()
	}
	return &Team{
		store:      store,
		dispatcher: dispatcher,
		resolver:   resolver,
		webSearch:  webSearch,
		webFetch:   webFetch,
		docSearch:  docSearch,
		emitter:    emitter,
		logger:     logger,
	}
}

// Phases returns the mission lifecycle in execution order, ready for the
// controller.
func (t *Team) Phases() []controller.Phase {
	return []controller.Phase{
		{Name: controller.PhasePlanning, Run: t.runPlanning},
		{Name: controller.PhaseInitialExploration, Run: t.runInitialExploration},
		{Name: controller.PhaseStructuredResearch, Run: t.runStructuredResearch},
		{Name: controller.PhaseReplan, Optional: true, Run: t.runReplan},
		{Name: controller.PhaseNoteAssignment, Run: t.runNoteAssignment},
		{Name: controller.PhaseWriting, Run: t.runWriting},
		{Name: controller.PhaseFinalization, Run: t.runFinalization},
	}
}

func (t *Team) runWriting(ctx context.Context, missionID string) error {
	m := writing.NewManager(t.forMission(missionID), t.store, t.resolver, t.emitter, t.logger)
	return m.Run(ctx, missionID)
}

func (t *Team) runFinalization(ctx context.Context, missionID string) error {
	g := report.NewGenerator(t.forMission(missionID), t.store, t.logger)
	if _, err := g.Finalize(ctx, missionID); err != nil {
		return err
	}
	t.emitStats(missionID)
	return nil
}

func (t *Team) runReplan(ctx context.Context, missionID string) error {
	reflections, err := t.reflectOnOutline(ctx, missionID)
	if err != nil {
		return err
	}
	if len(reflections) == 0 {
		return nil
	}
	m := reflection.NewManager(t.forMission(missionID), t.store, t.resolver, t.logger)
	if err := m.Run(ctx, missionID, reflections); err != nil {
		return err
	}
	t.emitPlan(missionID)
	return nil
}

// forMission returns a dispatcher that accrues every call's usage to the
// mission's stats, so the mission totals equal the sum of all per-call
// records regardless of which agent made them.
func (t *Team) forMission(missionID string) *missionDispatcher {
	return &missionDispatcher{inner: t.dispatcher, store: t.store, missionID: missionID}
}

type missionDispatcher struct {
	inner     Dispatcher
	store     *mission.ContextStore
	missionID string
}

func (d *missionDispatcher) Dispatch(ctx context.Context, messages []llms.Message, role model.Role, opts *model.Options) (*llms.Response, *model.Details, error) {
	var o model.Options
	if opts != nil {
		o = *opts
	}
	if o.MissionID == "" {
		o.MissionID = d.missionID
	}

	resp, details, err := d.inner.Dispatch(ctx, messages, role, &o)
	if details != nil {
		_ = d.store.AddStatsDelta(d.missionID, mission.Stats{
			TotalCost:        details.Cost,
			PromptTokens:     details.PromptTokens,
			CompletionTokens: details.CompletionTokens,
			NativeTokens:     details.NativeTotalTokens,
		})
	}
	return resp, details, err
}

// webPipeline builds the web research pipeline for one mission, or nil when
// web search is not configured.
func (t *Team) webPipeline(missionID string) *research.Pipeline {
	if t.webSearch == nil {
		return nil
	}
	return research.NewPipeline(t.forMission(missionID), t.webSearch, t.webFetch, t.resolver, research.ModeWeb, t.logger)
}

// docPipeline builds the document research pipeline for one mission, or nil
// when no vector store is attached.
func (t *Team) docPipeline(missionID string) *research.Pipeline {
	if t.docSearch == nil {
		return nil
	}
	return research.NewPipeline(t.forMission(missionID), t.docSearch, nil, t.resolver, research.ModeDocument, t.logger)
}

func (t *Team) emitPlan(missionID string) {
	if t.emitter == nil {
		return
	}
	snap, err := t.store.Get(missionID)
	if err != nil || snap.Plan == nil {
		return
	}
	t.emitter.SendToMission(missionID, events.MissionPayload(events.KindPlanUpdate, missionID, map[string]any{
		"mission_goal": snap.Plan.MissionGoal,
		"sections":     mission.CountSections(snap.Plan.ReportOutline),
	}))
}

func (t *Team) emitNotes(missionID string, added int) {
	if t.emitter == nil {
		return
	}
	snap, err := t.store.Get(missionID)
	if err != nil {
		return
	}
	t.emitter.SendToMission(missionID, events.MissionPayload(events.KindNotesUpdate, missionID, map[string]any{
		"added": added,
		"total": len(snap.Notes),
	}))
}

func (t *Team) emitStats(missionID string) {
	if t.emitter == nil {
		return
	}
	snap, err := t.store.Get(missionID)
	if err != nil {
		return
	}
	t.emitter.SendToMission(missionID, events.MissionPayload(events.KindStatsUpdate, missionID, map[string]any{
		"stats": snap.Stats,
	}))
}

// newNoteID mints a note id in the citable note_<8-hex> form.
func newNoteID() string {
	return "note_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
