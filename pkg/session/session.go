// Package session manages writing sessions for the assistant surface: a
// chat-bound workspace with versioned drafts, citation references, and its
// own stats counters.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
)

// WritingSession is one assistant workspace bound to a chat.
type WritingSession struct {
	ID              string         `json:"id"`
	ChatID          string         `json:"chat_id"`
	DocumentGroupID string         `json:"document_group_id,omitempty"`
	UseWebSearch    bool           `json:"use_web_search"`
	CurrentDraftID  string         `json:"current_draft_id,omitempty"`
	Settings        map[string]any `json:"settings,omitempty"`
	Stats           mission.Stats  `json:"stats"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Draft is one version of a session's document.
type Draft struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	IsCurrent bool      `json:"is_current"`
	CreatedAt time.Time `json:"created_at"`
}

// Reference is one citation attached to a draft.
type Reference struct {
	DraftID      string `json:"draft_id"`
	RefID        string `json:"ref_id"`
	Kind         string `json:"kind"`
	CitationText string `json:"citation_text"`
	Context      string `json:"context,omitempty"`
}

// Persister stores sessions and drafts durably. A nil persister keeps
// everything in memory only; persistence failures are logged, never
// propagated.
type Persister interface {
	SaveSession(s *WritingSession) error
	SaveDraft(d *Draft) error
	SaveReference(r *Reference) error
	DeleteSession(sessionID string) error
}

// Manager owns all writing-session state.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*WritingSession
	drafts    map[string][]*Draft     // session id → versions in order
	refs      map[string][]*Reference // draft id → references
	persister Persister
	logger    *slog.Logger
	now       func() time.Time
}

func NewManager(persister Persister, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:  make(map[string]*WritingSession),
		drafts:    make(map[string][]*Draft),
		refs:      make(map[string][]*Reference),
		persister: persister,
		logger:    logger,
		now:       time.Now,
	}
}

// Create opens a new writing session for a chat.
func (m *Manager) Create(chatID, documentGroupID string, useWebSearch bool) *WritingSession {
	now := m.now().UTC()
	s := &WritingSession{
		ID:              uuid.NewString(),
		ChatID:          chatID,
		DocumentGroupID: documentGroupID,
		UseWebSearch:    useWebSearch,
		Settings:        make(map[string]any),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.persistSession(s)
	return s
}

// Restore loads a previously persisted session into memory.
func (m *Manager) Restore(s *WritingSession, drafts []*Draft, refs []*Reference) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.drafts[s.ID] = drafts
	for _, r := range refs {
		m.refs[r.DraftID] = append(m.refs[r.DraftID], r)
	}
}

// Get returns a snapshot of a session.
func (m *Manager) Get(sessionID string) (*WritingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("writing session %s not found", sessionID)
	}
	snap := *s
	return &snap, nil
}

// SetUseWebSearch toggles web search for the session.
func (m *Manager) SetUseWebSearch(sessionID string, enabled bool) error {
	return m.update(sessionID, func(s *WritingSession) {
		s.UseWebSearch = enabled
	})
}

// SetSetting stores one session-local setting.
func (m *Manager) SetSetting(sessionID, key string, value any) error {
	return m.update(sessionID, func(s *WritingSession) {
		if s.Settings == nil {
			s.Settings = make(map[string]any)
		}
		s.Settings[key] = value
	})
}

// Setting reads one session-local setting.
func (m *Manager) Setting(sessionID, key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Settings == nil {
		return nil, false
	}
	v, ok := s.Settings[key]
	return v, ok
}

// NewDraft appends a new draft version and marks it current.
func (m *Manager) NewDraft(sessionID, title, content string) (*Draft, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("writing session %s not found", sessionID)
	}

	versions := m.drafts[sessionID]
	for _, d := range versions {
		d.IsCurrent = false
	}
	draft := &Draft{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Title:     title,
		Content:   content,
		Version:   len(versions) + 1,
		IsCurrent: true,
		CreatedAt: m.now().UTC(),
	}
	m.drafts[sessionID] = append(versions, draft)
	s.CurrentDraftID = draft.ID
	s.UpdatedAt = m.now().UTC()
	snap := *s
	dsnap := *draft
	m.mu.Unlock()

	m.persistSession(&snap)
	if m.persister != nil {
		if err := m.persister.SaveDraft(&dsnap); err != nil {
			m.logger.Warn("draft persistence failed", "session_id", sessionID, "error", err)
		}
	}
	return &dsnap, nil
}

// CurrentDraft returns the session's current draft, or nil when none
// exists yet.
func (m *Manager) CurrentDraft(sessionID string) (*Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("writing session %s not found", sessionID)
	}
	for _, d := range m.drafts[sessionID] {
		if d.ID == s.CurrentDraftID {
			snap := *d
			return &snap, nil
		}
	}
	return nil, nil
}

// Drafts lists all versions of a session's document, oldest first.
func (m *Manager) Drafts(sessionID string) []*Draft {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Draft, 0, len(m.drafts[sessionID]))
	for _, d := range m.drafts[sessionID] {
		snap := *d
		out = append(out, &snap)
	}
	return out
}

// AddReference attaches a citation to a draft. Duplicate ref ids on the
// same draft are collapsed.
func (m *Manager) AddReference(ref *Reference) {
	m.mu.Lock()
	for _, existing := range m.refs[ref.DraftID] {
		if existing.RefID == ref.RefID {
			m.mu.Unlock()
			return
		}
	}
	m.refs[ref.DraftID] = append(m.refs[ref.DraftID], ref)
	m.mu.Unlock()

	if m.persister != nil {
		if err := m.persister.SaveReference(ref); err != nil {
			m.logger.Warn("reference persistence failed", "draft_id", ref.DraftID, "error", err)
		}
	}
}

// References lists a draft's citations in attachment order.
func (m *Manager) References(draftID string) []*Reference {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Reference, 0, len(m.refs[draftID]))
	for _, r := range m.refs[draftID] {
		snap := *r
		out = append(out, &snap)
	}
	return out
}

// AddStatsDelta accumulates usage counters on the session.
func (m *Manager) AddStatsDelta(sessionID string, delta mission.Stats) error {
	return m.update(sessionID, func(s *WritingSession) {
		s.Stats.Add(delta)
	})
}

// ClearStats resets every session counter to zero.
func (m *Manager) ClearStats(sessionID string) error {
	return m.update(sessionID, func(s *WritingSession) {
		s.Stats = mission.Stats{}
	})
}

// Delete removes a session and all of its drafts and references.
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("writing session %s not found", sessionID)
	}
	for _, d := range m.drafts[sessionID] {
		delete(m.refs, d.ID)
	}
	delete(m.drafts, sessionID)
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if m.persister != nil {
		if err := m.persister.DeleteSession(sessionID); err != nil {
			m.logger.Warn("session delete persistence failed", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

func (m *Manager) update(sessionID string, mutate func(*WritingSession)) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("writing session %s not found", sessionID)
	}
	mutate(s)
	s.UpdatedAt = m.now().UTC()
	snap := *s
	m.mu.Unlock()

	m.persistSession(&snap)
	return nil
}

func (m *Manager) persistSession(s *WritingSession) {
	if m.persister == nil {
		return
	}
	if err := m.persister.SaveSession(s); err != nil {
		m.logger.Warn("session persistence failed", "session_id", s.ID, "error", err)
	}
}
