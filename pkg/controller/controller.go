// Package controller sequences a mission through its phases: planning,
// initial exploration, structured research, an optional replan, note
// assignment, writing, and finalization. Pause and stop are honored at
// every phase boundary; stop additionally cancels in-flight tasks.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/events"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/taskman"
)

// Phase names in execution order.
const (
	PhasePlanning           = "planning"
	PhaseInitialExploration = "initial_exploration"
	PhaseStructuredResearch = "structured_research"
	PhaseReplan             = "replan"
	PhaseNoteAssignment     = "note_assignment"
	PhaseWriting            = "writing"
	PhaseFinalization       = "finalization"
)

// metaCurrentPhase records resume position in mission metadata.
const metaCurrentPhase = "current_phase"

// Phase is one step of the mission lifecycle.
type Phase struct {
	Name string
	// Optional phases can be skipped by configuration; today only the
	// replan phase is.
	Optional bool
	Run      func(ctx context.Context, missionID string) error
}

// Emitter pushes progress events to connected clients.
type Emitter interface {
	SendToMission(missionID string, payload map[string]any)
}

// Controller drives missions through their phases.
type Controller struct {
	store    *mission.ContextStore
	tasks    *taskman.Manager
	resolver *config.Resolver
	emitter  Emitter
	phases   []Phase
	logger   *slog.Logger
}

func New(store *mission.ContextStore, tasks *taskman.Manager, resolver *config.Resolver, emitter Emitter, phases []Phase, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:    store,
		tasks:    tasks,
		resolver: resolver,
		emitter:  emitter,
		phases:   phases,
		logger:   logger,
	}
}

// Start runs the mission through its remaining phases. A mission resumed
// after a pause picks up at the phase it was suspended in. The returned
// error is non-nil only when a phase failed; pause and stop end the run
// cleanly.
func (c *Controller) Start(ctx context.Context, missionID string) error {
	snap, err := c.store.Get(missionID)
	if err != nil {
		return err
	}
	switch snap.Status {
	case mission.StatusCompleted, mission.StatusFailed, mission.StatusStopped:
		return fmt.Errorf("mission %s already finished with status %s", missionID, snap.Status)
	}

	if err := c.store.SetStatus(missionID, mission.StatusRunning); err != nil {
		return err
	}

	skip := c.phasesToSkip(missionID)
	resumeFrom := c.resumePhase(missionID)
	resuming := resumeFrom != ""

	for _, phase := range c.phases {
		if resuming {
			if phase.Name != resumeFrom {
				continue
			}
			resuming = false
		}
		if phase.Optional && skip[phase.Name] {
			c.logger.Info("skipping optional phase", "mission_id", missionID, "phase", phase.Name)
			continue
		}

		proceed, err := c.checkpoint(missionID)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}

		if err := c.runPhase(ctx, missionID, phase); err != nil {
			c.fail(missionID, phase.Name, err)
			return err
		}
	}

	c.store.SetMetadata(missionID, metaCurrentPhase, nil)
	if err := c.store.SetStatus(missionID, mission.StatusCompleted); err != nil {
		return err
	}
	c.emitStatus(missionID, mission.StatusCompleted, "")
	c.logger.Info("mission completed", "mission_id", missionID)
	return nil
}

// Pause suspends a running mission at its next checkpoint.
func (c *Controller) Pause(missionID string) error {
	status, err := c.store.Status(missionID)
	if err != nil {
		return err
	}
	if status != mission.StatusRunning && status != mission.StatusPlanning {
		return fmt.Errorf("mission %s is %s, not pausable", missionID, status)
	}
	if err := c.store.SetStatus(missionID, mission.StatusPaused); err != nil {
		return err
	}
	c.emitStatus(missionID, mission.StatusPaused, "")
	return nil
}

// Stop halts a mission permanently and cancels its in-flight tasks.
func (c *Controller) Stop(missionID string) error {
	if err := c.store.SetStatus(missionID, mission.StatusStopped); err != nil {
		return err
	}
	cancelled := c.tasks.CancelMissionTasks(missionID)
	c.logger.Info("mission stopped", "mission_id", missionID, "cancelled_tasks", cancelled)
	c.emitStatus(missionID, mission.StatusStopped, "")
	return nil
}

// checkpoint inspects the mission status between phases. Returns false when
// the run should end without error (paused or stopped).
func (c *Controller) checkpoint(missionID string) (bool, error) {
	status, err := c.store.Status(missionID)
	if err != nil {
		return false, err
	}
	switch status {
	case mission.StatusPaused:
		c.logger.Info("mission paused, leaving phase loop", "mission_id", missionID)
		return false, nil
	case mission.StatusStopped:
		c.tasks.CancelMissionTasks(missionID)
		return false, nil
	default:
		return true, nil
	}
}

func (c *Controller) runPhase(ctx context.Context, missionID string, phase Phase) error {
	c.store.SetMetadata(missionID, metaCurrentPhase, phase.Name)
	c.emitStatus(missionID, mission.StatusRunning, phase.Name)
	c.appendLog(missionID, phase.Name, mission.LogRunning, "")
	c.logger.Info("phase started", "mission_id", missionID, "phase", phase.Name)

	err := c.tasks.MissionScope(ctx, missionID, func(taskCtx context.Context) error {
		return phase.Run(taskCtx, missionID)
	})
	if err != nil {
		// A stop during the phase cancels its context; that is a clean end,
		// not a failure.
		if status, serr := c.store.Status(missionID); serr == nil &&
			(status == mission.StatusStopped || status == mission.StatusPaused) {
			c.appendLog(missionID, phase.Name, mission.LogWarning, "interrupted: "+err.Error())
			return nil
		}
		return err
	}

	c.appendLog(missionID, phase.Name, mission.LogSuccess, "")
	c.logger.Info("phase completed", "mission_id", missionID, "phase", phase.Name)
	return nil
}

func (c *Controller) fail(missionID, phaseName string, err error) {
	c.appendLog(missionID, phaseName, mission.LogFailure, err.Error())
	if serr := c.store.SetStatus(missionID, mission.StatusFailed); serr != nil {
		c.logger.Error("could not mark mission failed", "mission_id", missionID, "error", serr)
	}
	c.emitStatus(missionID, mission.StatusFailed, phaseName)
	c.logger.Error("phase failed", "mission_id", missionID, "phase", phaseName, "error", err)
}

func (c *Controller) phasesToSkip(missionID string) map[string]bool {
	skip := make(map[string]bool)
	if skipReplan, err := c.resolver.GetBool(config.ParamSkipFinalReplanning, missionID); err == nil && skipReplan {
		skip[PhaseReplan] = true
	}
	return skip
}

func (c *Controller) resumePhase(missionID string) string {
	if v, ok := c.store.MetadataValue(missionID, metaCurrentPhase); ok {
		if name, ok := v.(string); ok {
			return name
		}
	}
	return ""
}

func (c *Controller) emitStatus(missionID string, status mission.Status, phaseName string) {
	if c.emitter == nil {
		return
	}
	fields := map[string]any{"status": string(status)}
	if phaseName != "" {
		fields["phase"] = phaseName
	}
	c.emitter.SendToMission(missionID, events.MissionPayload(events.KindStatusUpdate, missionID, fields))
}

func (c *Controller) appendLog(missionID, phaseName string, status mission.LogStatus, message string) {
	entry := &mission.LogEntry{
		Timestamp:    time.Now().UTC(),
		AgentName:    "controller",
		Action:       "phase " + phaseName,
		Status:       status,
		ErrorMessage: message,
	}
	if err := c.store.AppendLog(missionID, entry); err != nil {
		c.logger.Warn("could not append execution log", "mission_id", missionID, "error", err)
	}
}
