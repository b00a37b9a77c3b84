// Package taskman tracks cancellable work per mission so pause/stop can
// interrupt everything in flight with one call.
package taskman

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Manager registers cancel functions keyed by mission. Handles deregister
// themselves when their task finishes, so the registry only ever holds
// in-flight work.
type Manager struct {
	mu     sync.Mutex
	tasks  map[string]map[string]context.CancelFunc
	logger *slog.Logger
}

// NewManager creates an empty task manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		tasks:  make(map[string]map[string]context.CancelFunc),
		logger: logger,
	}
}

// Register derives a cancellable context for one task of a mission. The
// returned release func must be called when the task finishes; it also
// cancels the derived context.
func (m *Manager) Register(ctx context.Context, missionID string) (context.Context, func()) {
	taskCtx, cancel := context.WithCancel(ctx)
	taskID := uuid.NewString()

	m.mu.Lock()
	if m.tasks[missionID] == nil {
		m.tasks[missionID] = make(map[string]context.CancelFunc)
	}
	m.tasks[missionID][taskID] = cancel
	m.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			m.mu.Lock()
			if set := m.tasks[missionID]; set != nil {
				delete(set, taskID)
				if len(set) == 0 {
					delete(m.tasks, missionID)
				}
			}
			m.mu.Unlock()
		})
	}
	return taskCtx, release
}

// CancelMissionTasks cancels every outstanding task of a mission and clears
// its set. Returns the number of tasks cancelled.
func (m *Manager) CancelMissionTasks(missionID string) int {
	m.mu.Lock()
	set := m.tasks[missionID]
	delete(m.tasks, missionID)
	m.mu.Unlock()

	for _, cancel := range set {
		cancel()
	}
	if len(set) > 0 {
		m.logger.Debug("cancelled mission tasks", "mission_id", missionID, "count", len(set))
	}
	return len(set)
}

// ActiveCount reports the number of in-flight tasks for a mission.
func (m *Manager) ActiveCount(missionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks[missionID])
}

// GatherCancellable runs fns concurrently under the mission's registry. If
// any fn fails or the context is cancelled, the remaining fns are cancelled
// and the first error is returned.
func (m *Manager) GatherCancellable(ctx context.Context, missionID string, fns ...func(context.Context) error) error {
	taskCtx, release := m.Register(ctx, missionID)
	defer release()

	g, groupCtx := errgroup.WithContext(taskCtx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(groupCtx) })
	}
	if err := g.Wait(); err != nil {
		if taskCtx.Err() != nil {
			return fmt.Errorf("mission %s tasks cancelled: %w", missionID, err)
		}
		return err
	}
	return nil
}

// MissionScope runs fn inside a registered task context and guarantees the
// handle is released on any exit.
func (m *Manager) MissionScope(ctx context.Context, missionID string, fn func(context.Context) error) error {
	taskCtx, release := m.Register(ctx, missionID)
	defer release()
	return fn(taskCtx)
}
