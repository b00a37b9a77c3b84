// Package store persists application state in SQLite: missions, chats and
// their messages, writing sessions with drafts and references, and system
// settings. Rich structures are stored as JSON documents alongside the
// columns queries need.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/session"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS missions (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    status VARCHAR(32) NOT NULL,
    mission_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_missions_user_id ON missions(user_id);

CREATE TABLE IF NOT EXISTS chats (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    title TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chats_user_id ON chats(user_id);

CREATE TABLE IF NOT EXISTS chat_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id VARCHAR(64) NOT NULL,
    role VARCHAR(32) NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_chat_id ON chat_messages(chat_id);

CREATE TABLE IF NOT EXISTS writing_sessions (
    id VARCHAR(64) PRIMARY KEY,
    chat_id VARCHAR(64) NOT NULL,
    session_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS drafts (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    version INTEGER NOT NULL,
    is_current BOOLEAN NOT NULL,
    draft_json TEXT NOT NULL,
    FOREIGN KEY (session_id) REFERENCES writing_sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_drafts_session_id ON drafts(session_id);

CREATE TABLE IF NOT EXISTS draft_references (
    draft_id VARCHAR(64) NOT NULL,
    ref_id VARCHAR(16) NOT NULL,
    kind VARCHAR(16) NOT NULL,
    citation_text TEXT NOT NULL,
    context TEXT,
    PRIMARY KEY (draft_id, ref_id)
);

CREATE TABLE IF NOT EXISTS settings (
    key VARCHAR(255) PRIMARY KEY,
    value_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// Chat is a persisted conversation head.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage is one persisted chat turn.
type ChatMessage struct {
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and initializes the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return NewStore(db)
}

// NewStore initializes the schema over an existing connection.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMission upserts a mission's full JSON document.
func (s *Store) SaveMission(m *mission.Mission) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding mission %s: %w", m.ID, err)
	}
	_, err = s.db.Exec(`
INSERT INTO missions (id, user_id, status, mission_json, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status = excluded.status,
    mission_json = excluded.mission_json,
    updated_at = excluded.updated_at`,
		m.ID, m.UserID, string(m.Status), string(doc), m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving mission %s: %w", m.ID, err)
	}
	return nil
}

// DeleteMission removes a mission row.
func (s *Store) DeleteMission(missionID string) error {
	_, err := s.db.Exec(`DELETE FROM missions WHERE id = ?`, missionID)
	if err != nil {
		return fmt.Errorf("deleting mission %s: %w", missionID, err)
	}
	return nil
}

// LoadMissions returns every persisted mission, for restoring the context
// store at startup.
func (s *Store) LoadMissions() ([]*mission.Mission, error) {
	rows, err := s.db.Query(`SELECT mission_json FROM missions ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("loading missions: %w", err)
	}
	defer rows.Close()

	var missions []*mission.Mission
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var m mission.Mission
		if err := json.Unmarshal([]byte(doc), &m); err != nil {
			return nil, fmt.Errorf("decoding mission: %w", err)
		}
		missions = append(missions, &m)
	}
	return missions, rows.Err()
}

// CreateChat registers a new conversation.
func (s *Store) CreateChat(userID, title string) (*Chat, error) {
	now := time.Now().UTC()
	chat := &Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(`INSERT INTO chats (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		chat.ID, chat.UserID, chat.Title, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}
	return chat, nil
}

// SetChatTitle renames a conversation.
func (s *Store) SetChatTitle(chatID, title string) error {
	res, err := s.db.Exec(`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC(), chatID)
	if err != nil {
		return fmt.Errorf("renaming chat %s: %w", chatID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chat %s not found", chatID)
	}
	return nil
}

// Chats lists a user's conversations, most recently updated first.
func (s *Store) Chats(userID string) ([]*Chat, error) {
	rows, err := s.db.Query(`
SELECT id, user_id, title, created_at, updated_at
FROM chats WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, &c)
	}
	return chats, rows.Err()
}

// AppendMessage stores one chat turn and touches the chat's updated_at.
func (s *Store) AppendMessage(chatID, role, content string) error {
	now := time.Now().UTC()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO chat_messages (chat_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		chatID, role, content, now); err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	if _, err := tx.Exec(`UPDATE chats SET updated_at = ? WHERE id = ?`, now, chatID); err != nil {
		return fmt.Errorf("touching chat: %w", err)
	}
	return tx.Commit()
}

// Messages returns a chat's turns in order.
func (s *Store) Messages(chatID string) ([]*ChatMessage, error) {
	rows, err := s.db.Query(`
SELECT chat_id, role, content, created_at
FROM chat_messages WHERE chat_id = ? ORDER BY id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	var messages []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// SaveSession upserts a writing session.
func (s *Store) SaveSession(ws *session.WritingSession) error {
	doc, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", ws.ID, err)
	}
	_, err = s.db.Exec(`
INSERT INTO writing_sessions (id, chat_id, session_json, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    session_json = excluded.session_json,
    updated_at = excluded.updated_at`,
		ws.ID, ws.ChatID, string(doc), ws.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", ws.ID, err)
	}
	return nil
}

// SaveDraft upserts one draft version.
func (s *Store) SaveDraft(d *session.Draft) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding draft %s: %w", d.ID, err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if d.IsCurrent {
		if _, err := tx.Exec(`UPDATE drafts SET is_current = 0 WHERE session_id = ?`, d.SessionID); err != nil {
			return fmt.Errorf("clearing current draft: %w", err)
		}
	}
	if _, err := tx.Exec(`
INSERT INTO drafts (id, session_id, version, is_current, draft_json)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    is_current = excluded.is_current,
    draft_json = excluded.draft_json`,
		d.ID, d.SessionID, d.Version, d.IsCurrent, string(doc)); err != nil {
		return fmt.Errorf("saving draft %s: %w", d.ID, err)
	}
	return tx.Commit()
}

// SaveReference stores one citation; duplicates on (draft, ref) are
// ignored.
func (s *Store) SaveReference(r *session.Reference) error {
	_, err := s.db.Exec(`
INSERT INTO draft_references (draft_id, ref_id, kind, citation_text, context)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(draft_id, ref_id) DO NOTHING`,
		r.DraftID, r.RefID, r.Kind, r.CitationText, r.Context)
	if err != nil {
		return fmt.Errorf("saving reference %s/%s: %w", r.DraftID, r.RefID, err)
	}
	return nil
}

// DeleteSession removes a session with its drafts and references.
func (s *Store) DeleteSession(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
DELETE FROM draft_references WHERE draft_id IN (SELECT id FROM drafts WHERE session_id = ?)`, sessionID); err != nil {
		return fmt.Errorf("deleting references: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM drafts WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting drafts: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM writing_sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	return tx.Commit()
}

// LoadSession restores one session with its drafts and references.
func (s *Store) LoadSession(sessionID string) (*session.WritingSession, []*session.Draft, []*session.Reference, error) {
	var doc string
	err := s.db.QueryRow(`SELECT session_json FROM writing_sessions WHERE id = ?`, sessionID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil, nil, fmt.Errorf("writing session %s not found", sessionID)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	var ws session.WritingSession
	if err := json.Unmarshal([]byte(doc), &ws); err != nil {
		return nil, nil, nil, fmt.Errorf("decoding session %s: %w", sessionID, err)
	}

	rows, err := s.db.Query(`SELECT draft_json, is_current FROM drafts WHERE session_id = ? ORDER BY version`, sessionID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading drafts: %w", err)
	}
	defer rows.Close()

	var drafts []*session.Draft
	for rows.Next() {
		var draftDoc string
		var isCurrent bool
		if err := rows.Scan(&draftDoc, &isCurrent); err != nil {
			return nil, nil, nil, err
		}
		var d session.Draft
		if err := json.Unmarshal([]byte(draftDoc), &d); err != nil {
			return nil, nil, nil, fmt.Errorf("decoding draft: %w", err)
		}
		// The column is authoritative; an older version's JSON may predate
		// the flag being cleared.
		d.IsCurrent = isCurrent
		drafts = append(drafts, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, err
	}

	var refs []*session.Reference
	for _, d := range drafts {
		refRows, err := s.db.Query(`
SELECT draft_id, ref_id, kind, citation_text, COALESCE(context, '')
FROM draft_references WHERE draft_id = ?`, d.ID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading references: %w", err)
		}
		for refRows.Next() {
			var r session.Reference
			if err := refRows.Scan(&r.DraftID, &r.RefID, &r.Kind, &r.CitationText, &r.Context); err != nil {
				refRows.Close()
				return nil, nil, nil, err
			}
			refs = append(refs, &r)
		}
		if err := refRows.Err(); err != nil {
			refRows.Close()
			return nil, nil, nil, err
		}
		refRows.Close()
	}
	return &ws, drafts, refs, nil
}

// SetSetting stores one system setting as JSON.
func (s *Store) SetSetting(key string, value any) error {
	doc, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding setting %s: %w", key, err)
	}
	_, err = s.db.Exec(`
INSERT INTO settings (key, value_json, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    value_json = excluded.value_json,
    updated_at = excluded.updated_at`,
		key, string(doc), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	return nil
}

// Setting loads one system setting into out. Returns false when the key is
// absent.
func (s *Store) Setting(key string, out any) (bool, error) {
	var doc string
	err := s.db.QueryRow(`SELECT value_json FROM settings WHERE key = ?`, key).Scan(&doc)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading setting %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return false, fmt.Errorf("decoding setting %s: %w", key, err)
	}
	return true, nil
}
