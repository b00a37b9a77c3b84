package mission

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Persister receives write-through copies of mutated missions. Persistence
// failures are logged, never surfaced to pipeline callers.
type Persister interface {
	SaveMission(m *Mission) error
	DeleteMission(missionID string) error
}

// ContextStore owns all mission state. Writers are serialized per mission;
// readers receive snapshots.
type ContextStore struct {
	mu           sync.RWMutex
	missions     map[string]*Mission
	locks        map[string]*sync.Mutex
	persister    Persister
	thoughtLimit int
}

// NewContextStore creates a store. thoughtLimit bounds the thought pad ring;
// values < 1 fall back to 10.
func NewContextStore(persister Persister, thoughtLimit int) *ContextStore {
	if thoughtLimit < 1 {
		thoughtLimit = 10
	}
	return &ContextStore{
		missions:     make(map[string]*Mission),
		locks:        make(map[string]*sync.Mutex),
		persister:    persister,
		thoughtLimit: thoughtLimit,
	}
}

// CreateMission registers a new pending mission and returns its snapshot.
func (s *ContextStore) CreateMission(userID, userRequest string) *Mission {
	now := time.Now().UTC()
	m := &Mission{
		ID:            uuid.NewString(),
		UserID:        userID,
		UserRequest:   userRequest,
		Status:        StatusPending,
		ReportContent: make(map[string]string),
		Metadata:      make(map[string]any),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	s.missions[m.ID] = m
	s.locks[m.ID] = &sync.Mutex{}
	s.mu.Unlock()

	s.persist(m)
	return snapshot(m)
}

// Restore loads a previously persisted mission into the store.
func (s *ContextStore) Restore(m *Mission) {
	if m == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missions[m.ID] = snapshot(m)
	s.locks[m.ID] = &sync.Mutex{}
}

// Get returns a snapshot of a mission.
func (s *ContextStore) Get(missionID string) (*Mission, error) {
	s.mu.RLock()
	m, ok := s.missions[missionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mission %s not found", missionID)
	}

	lock := s.lockFor(missionID)
	lock.Lock()
	defer lock.Unlock()
	return snapshot(m), nil
}

// Status returns the current status without copying the mission.
func (s *ContextStore) Status(missionID string) (Status, error) {
	s.mu.RLock()
	m, ok := s.missions[missionID]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("mission %s not found", missionID)
	}

	lock := s.lockFor(missionID)
	lock.Lock()
	defer lock.Unlock()
	return m.Status, nil
}

// List returns snapshots of all missions.
func (s *ContextStore) List() []*Mission {
	s.mu.RLock()
	ids := make([]string, 0, len(s.missions))
	for id := range s.missions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]*Mission, 0, len(ids))
	for _, id := range ids {
		if m, err := s.Get(id); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Delete removes a mission entirely.
func (s *ContextStore) Delete(missionID string) error {
	s.mu.Lock()
	_, ok := s.missions[missionID]
	delete(s.missions, missionID)
	delete(s.locks, missionID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("mission %s not found", missionID)
	}
	if s.persister != nil {
		if err := s.persister.DeleteMission(missionID); err != nil {
			slog.Warn("failed to delete persisted mission", "mission_id", missionID, "error", err)
		}
	}
	return nil
}

// SetStatus transitions a mission's status.
func (s *ContextStore) SetStatus(missionID string, status Status) error {
	return s.update(missionID, func(m *Mission) {
		m.Status = status
	})
}

// SetPlan atomically replaces a mission's plan. Readers see either the old
// or the new outline, never a partial merge.
func (s *ContextStore) SetPlan(missionID string, plan *Plan) error {
	cloned := ClonePlan(plan)
	return s.update(missionID, func(m *Mission) {
		m.Plan = cloned
	})
}

// AddNotes appends notes. Note ingestion is serialized per mission to keep
// log ordering stable.
func (s *ContextStore) AddNotes(missionID string, notes ...*Note) error {
	return s.update(missionID, func(m *Mission) {
		for _, note := range notes {
			if note.NoteID == "" {
				note.NoteID = "note_" + uuid.NewString()[:8]
			}
			if note.CreatedAt.IsZero() {
				note.CreatedAt = time.Now().UTC()
			}
			m.Notes = append(m.Notes, note)
		}
	})
}

// SetReportSection stores the written content for a section.
func (s *ContextStore) SetReportSection(missionID, sectionID, content string) error {
	return s.update(missionID, func(m *Mission) {
		if m.ReportContent == nil {
			m.ReportContent = make(map[string]string)
		}
		m.ReportContent[sectionID] = content
	})
}

// AddStatsDelta applies a cumulative stats delta.
func (s *ContextStore) AddStatsDelta(missionID string, delta Stats) error {
	return s.update(missionID, func(m *Mission) {
		m.Stats.Add(delta)
	})
}

// SetScratchpad replaces the scratchpad text.
func (s *ContextStore) SetScratchpad(missionID, content string) error {
	return s.update(missionID, func(m *Mission) {
		m.Scratchpad = content
	})
}

// AddGoal appends a goal to the goal pad.
func (s *ContextStore) AddGoal(missionID, text, agentName string) error {
	return s.update(missionID, func(m *Mission) {
		m.Goals = append(m.Goals, &Goal{
			ID:        uuid.NewString()[:8],
			Text:      text,
			AgentName: agentName,
			Timestamp: time.Now().UTC(),
		})
	})
}

// AddThought appends a thought, retaining only the most recent entries up to
// the configured thought pad limit.
func (s *ContextStore) AddThought(missionID, text, agentName string) error {
	return s.update(missionID, func(m *Mission) {
		m.Thoughts = append(m.Thoughts, &Thought{
			Text:      text,
			AgentName: agentName,
			Timestamp: time.Now().UTC(),
		})
		if len(m.Thoughts) > s.thoughtLimit {
			m.Thoughts = m.Thoughts[len(m.Thoughts)-s.thoughtLimit:]
		}
	})
}

// SetMetadata stores a metadata key used for per-mission settings overrides.
func (s *ContextStore) SetMetadata(missionID, key string, value any) error {
	return s.update(missionID, func(m *Mission) {
		if m.Metadata == nil {
			m.Metadata = make(map[string]any)
		}
		m.Metadata[key] = value
	})
}

// MetadataValue looks up a metadata key. Implements the mission layer of the
// settings resolver.
func (s *ContextStore) MetadataValue(missionID, key string) (any, bool) {
	s.mu.RLock()
	m, ok := s.missions[missionID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	lock := s.lockFor(missionID)
	lock.Lock()
	defer lock.Unlock()
	v, found := m.Metadata[key]
	return v, found
}

// AppendLog records a structured execution log entry.
func (s *ContextStore) AppendLog(missionID string, entry *LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return s.update(missionID, func(m *Mission) {
		m.ExecutionLog = append(m.ExecutionLog, entry)
	})
}

// SetFinalReport stores the finalized report artifact.
func (s *ContextStore) SetFinalReport(missionID, report string) error {
	return s.update(missionID, func(m *Mission) {
		m.FinalReport = report
	})
}

func (s *ContextStore) lockFor(missionID string) *sync.Mutex {
	s.mu.RLock()
	lock, ok := s.locks[missionID]
	s.mu.RUnlock()
	if ok {
		return lock
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok = s.locks[missionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[missionID] = lock
	}
	return lock
}

func (s *ContextStore) update(missionID string, mutate func(*Mission)) error {
	s.mu.RLock()
	m, ok := s.missions[missionID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("mission %s not found", missionID)
	}

	lock := s.lockFor(missionID)
	lock.Lock()
	mutate(m)
	m.UpdatedAt = time.Now().UTC()
	copy := snapshot(m)
	lock.Unlock()

	s.persist(copy)
	return nil
}

func (s *ContextStore) persist(m *Mission) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveMission(m); err != nil {
		slog.Warn("failed to persist mission", "mission_id", m.ID, "error", err)
	}
}

// snapshot deep-copies a mission so callers never share mutable state with
// the store.
func snapshot(m *Mission) *Mission {
	out := *m
	out.Plan = ClonePlan(m.Plan)

	if m.Notes != nil {
		out.Notes = make([]*Note, len(m.Notes))
		for i, note := range m.Notes {
			n := *note
			if note.SourceMetadata != nil {
				n.SourceMetadata = make(map[string]any, len(note.SourceMetadata))
				for k, v := range note.SourceMetadata {
					n.SourceMetadata[k] = v
				}
			}
			out.Notes[i] = &n
		}
	}
	if m.ReportContent != nil {
		out.ReportContent = make(map[string]string, len(m.ReportContent))
		for k, v := range m.ReportContent {
			out.ReportContent[k] = v
		}
	}
	if m.Goals != nil {
		out.Goals = make([]*Goal, len(m.Goals))
		for i, g := range m.Goals {
			goal := *g
			out.Goals[i] = &goal
		}
	}
	if m.Thoughts != nil {
		out.Thoughts = make([]*Thought, len(m.Thoughts))
		for i, t := range m.Thoughts {
			thought := *t
			out.Thoughts[i] = &thought
		}
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	if m.ExecutionLog != nil {
		out.ExecutionLog = make([]*LogEntry, len(m.ExecutionLog))
		for i, e := range m.ExecutionLog {
			entry := *e
			out.ExecutionLog[i] = &entry
		}
	}
	return &out
}
