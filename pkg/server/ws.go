package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/murtaza-nasir/maestro-sub003/pkg/events"
)

// WebSocket close codes for auth and internal failures.
const (
	closeCodeAuth     = 1008
	closeCodeInternal = 1011
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Auth is the token query parameter, not the origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is one frame sent by a browser client.
type clientMessage struct {
	Type      string `json:"type"`
	MissionID string `json:"mission_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// wsSink adapts a gorilla connection to the bus's Sink. Writes are
// serialized; Send after Close is a no-op.
type wsSink struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (s *wsSink) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSink) Close(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
	return s.conn.Close()
}

func (s *wsSink) closeWithCode(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
	_ = s.conn.Close()
}

func (s *Server) handleResearchWS(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, events.ScopeResearch, "")
}

func (s *Server) handleDocumentsWS(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, events.ScopeDocuments, "")
}

func (s *Server) handleWritingWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	s.serveWS(w, r, events.ScopeWriting, sessionID)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, scope events.Scope, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	sink := &wsSink{conn: conn}

	if !s.authorized(r) {
		sink.closeWithCode(closeCodeAuth, "authentication failed")
		return
	}

	userID := r.URL.Query().Get("user_id")
	if scope == events.ScopeDocuments {
		userID = chi.URLParam(r, "user_id")
	}
	if userID == "" {
		userID = "default"
	}

	connID := s.bus.Connect(userID, scope, sessionID, sink)
	wsConnections.WithLabelValues(string(scope)).Inc()
	defer wsConnections.WithLabelValues(string(scope)).Dec()
	defer s.bus.Disconnect(connID)

	s.logger.Debug("websocket connected",
		"scope", scope, "user_id", userID, "connection_id", connID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("ignoring malformed client frame", "error", err)
			continue
		}
		if err := s.handleClientMessage(connID, sink, msg); err != nil {
			sink.closeWithCode(closeCodeInternal, "internal error")
			return
		}
	}
}

func (s *Server) handleClientMessage(connID string, sink *wsSink, msg clientMessage) error {
	switch msg.Type {
	case "ping":
		return s.reply(sink, map[string]any{"type": "pong"})
	case "heartbeat_ack":
		s.bus.Ack(connID)
		return nil
	case "subscribe":
		if msg.MissionID == "" {
			return nil
		}
		if err := s.bus.Subscribe(connID, msg.MissionID); err != nil {
			return err
		}
		return s.reply(sink, map[string]any{
			"type":       "subscribed",
			"mission_id": msg.MissionID,
		})
	case "unsubscribe":
		if msg.MissionID == "" {
			return nil
		}
		return s.bus.Unsubscribe(connID, msg.MissionID)
	case "get_logs":
		return s.sendLogs(sink, msg.MissionID)
	case "agent_status":
		return s.sendAgentStatus(sink, msg.MissionID)
	default:
		s.logger.Debug("unknown client message type", "type", msg.Type)
		return nil
	}
}

func (s *Server) sendLogs(sink *wsSink, missionID string) error {
	m, err := s.missions.Get(missionID)
	if err != nil {
		return s.reply(sink, map[string]any{
			"type":       events.KindLogsUpdate,
			"mission_id": missionID,
			"error":      err.Error(),
		})
	}
	logs := make([]any, 0, len(m.ExecutionLog))
	for _, entry := range m.ExecutionLog {
		logs = append(logs, entry)
	}
	return s.reply(sink, events.MissionPayload(events.KindLogsUpdate, missionID, map[string]any{
		"logs": logs,
	}))
}

func (s *Server) sendAgentStatus(sink *wsSink, missionID string) error {
	status := "idle"
	phase := ""
	if missionID != "" {
		if m, err := s.missions.Get(missionID); err == nil {
			status = string(m.Status)
			if p, ok := m.Metadata["current_phase"].(string); ok {
				phase = p
			}
		}
	}
	return s.reply(sink, events.MissionPayload(events.KindAgentStatus, missionID, map[string]any{
		"status": status,
		"phase":  phase,
	}))
}

func (s *Server) reply(sink *wsSink, payload map[string]any) error {
	data, err := events.Marshal(payload)
	if err != nil {
		return err
	}
	return sink.Send(data)
}

// authorized checks the token query parameter against the configured auth
// token. An empty configured token disables auth (local single-user mode).
func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	return r.URL.Query().Get("token") == s.authToken
}
