// Package events implements the progress event bus. Clients connect with a
// transport-level sink (usually a WebSocket), subscribe to missions or
// writing sessions, and receive JSON payloads in send order. At most one
// connection is active per (user, scope, session); a newer connection
// displaces the older one.
package events

import "time"

// Scope partitions a user's connections by surface.
type Scope string

const (
	ScopeResearch  Scope = "research"
	ScopeDocuments Scope = "documents"
	ScopeWriting   Scope = "writing"
)

// Event kinds emitted by the core.
const (
	KindStatusUpdate       = "status_update"
	KindLogsUpdate         = "logs_update"
	KindNotesUpdate        = "notes_update"
	KindPlanUpdate         = "plan_update"
	KindDraftUpdate        = "draft_update"
	KindGoalPadUpdate      = "goal_pad_update"
	KindThoughtPadUpdate   = "thought_pad_update"
	KindScratchpadUpdate   = "scratchpad_update"
	KindContextUpdate      = "context_update"
	KindAgentStatus        = "agent_status"
	KindStreamingChunk     = "streaming_chunk"
	KindDraftContentUpdate = "draft_content_update"
	KindChatTitleUpdate    = "chat_title_update"
	KindStatsUpdate        = "stats_update"
	KindWebSearchComplete  = "web_search_complete"
	KindWebSearchError     = "web_search_error"
	KindArxivFetchStart    = "arxiv_fetch_start"
	KindArxivFetchComplete = "arxiv_fetch_complete"
	KindHeartbeat          = "heartbeat"
)

// Heartbeat cadence and the silence threshold after which a connection is
// reaped.
const (
	HeartbeatInterval = 30 * time.Second
	HeartbeatTimeout  = 120 * time.Second
)

// MissionPayload builds a standard mission-scoped event payload.
func MissionPayload(kind, missionID string, fields map[string]any) map[string]any {
	p := map[string]any{
		"type":       kind,
		"mission_id": missionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		p[k] = v
	}
	return p
}

// SessionPayload builds a standard session-scoped event payload.
func SessionPayload(kind, sessionID string, fields map[string]any) map[string]any {
	p := map[string]any{
		"type":       kind,
		"session_id": sessionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		p[k] = v
	}
	return p
}
