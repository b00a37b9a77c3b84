// Package server exposes the orchestrator over HTTP and WebSocket: REST
// endpoints for missions, chats, and writing sessions; three WebSocket
// endpoints feeding the event bus; and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/events"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/session"
	"github.com/murtaza-nasir/maestro-sub003/pkg/store"
	"github.com/murtaza-nasir/maestro-sub003/pkg/tools"
)

// MissionRunner drives mission lifecycles. The controller implements it.
type MissionRunner interface {
	Start(ctx context.Context, missionID string) error
	Pause(missionID string) error
	Stop(missionID string) error
}

// Responder produces assistant replies for writing-session chat turns.
type Responder interface {
	Respond(ctx context.Context, sessionID, userMessage string, history []llms.Message) (*session.Answer, error)
}

// Server is the HTTP/WebSocket front of the orchestrator.
type Server struct {
	router    chi.Router
	bus       *events.Bus
	missions  *mission.ContextStore
	runner    MissionRunner
	sessions  *session.Manager
	responder Responder
	chats     *store.Store
	tools     *tools.ToolRegistry
	authToken string
	addr      string
	logger    *slog.Logger

	baseCtx context.Context
}

func New(cfg config.ServerConfig, bus *events.Bus, missions *mission.ContextStore, runner MissionRunner, sessions *session.Manager, responder Responder, chats *store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		bus:       bus,
		missions:  missions,
		runner:    runner,
		sessions:  sessions,
		responder: responder,
		chats:     chats,
		authToken: cfg.AuthToken,
		addr:      fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		logger:    logger,
		baseCtx:   context.Background(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)

		r.Route("/missions", func(r chi.Router) {
			r.Get("/", s.handleListMissions)
			r.Post("/", s.handleCreateMission)
			r.Get("/{mission_id}", s.handleGetMission)
			r.Delete("/{mission_id}", s.handleDeleteMission)
			r.Post("/{mission_id}/pause", s.handlePauseMission)
			r.Post("/{mission_id}/resume", s.handleResumeMission)
			r.Post("/{mission_id}/stop", s.handleStopMission)
			r.Get("/{mission_id}/report", s.handleMissionReport)
			r.Get("/{mission_id}/logs", s.handleMissionLogs)
		})

		r.Route("/chats", func(r chi.Router) {
			r.Post("/", s.handleCreateChat)
			r.Get("/", s.handleListChats)
			r.Get("/{chat_id}/messages", s.handleChatMessages)
		})

		r.Route("/tools", func(r chi.Router) {
			r.Get("/", s.handleListTools)
			r.Post("/{tool_name}/execute", s.handleExecuteTool)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/{session_id}", s.handleGetSession)
			r.Delete("/{session_id}", s.handleDeleteSession)
			r.Post("/{session_id}/chat", s.handleSessionChat)
			r.Post("/{session_id}/stats/clear", s.handleClearSessionStats)
			r.Get("/{session_id}/drafts", s.handleSessionDrafts)
		})
	})

	r.Get("/ws/research", s.handleResearchWS)
	r.Get("/ws/documents/{user_id}", s.handleDocumentsWS)
	r.Get("/ws/{session_id}", s.handleWritingWS)

	return r
}

// ServeHTTP lets the server be mounted directly in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully. The event
// bus heartbeat loop runs alongside.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx
	go s.bus.Run(ctx)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// requireToken guards REST endpoints with the same token as the WebSocket
// endpoints.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			s.writeError(w, http.StatusUnauthorized, errors.New("invalid or missing token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// --- missions ---

type createMissionRequest struct {
	UserID  string `json:"user_id"`
	Request string `json:"request"`
}

func (s *Server) handleCreateMission(w http.ResponseWriter, r *http.Request) {
	var req createMissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Request == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("request is required"))
		return
	}
	if req.UserID == "" {
		req.UserID = "default"
	}

	m := s.missions.CreateMission(req.UserID, req.Request)
	missionsStarted.Inc()

	go func() {
		if err := s.runner.Start(s.baseCtx, m.ID); err != nil {
			s.logger.Error("mission run failed", "mission_id", m.ID, "error", err)
			return
		}
		if done, err := s.missions.Get(m.ID); err == nil {
			missionCost.Add(done.Stats.TotalCost)
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"mission_id": m.ID,
		"status":     m.Status,
	})
}

func (s *Server) handleListMissions(w http.ResponseWriter, _ *http.Request) {
	list := s.missions.List()
	out := make([]map[string]any, 0, len(list))
	for _, m := range list {
		out = append(out, missionSummary(m))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"missions": out})
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	m, err := s.missions.Get(chi.URLParam(r, "mission_id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMission(w http.ResponseWriter, r *http.Request) {
	if err := s.missions.Delete(chi.URLParam(r, "mission_id")); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handlePauseMission(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Pause(chi.URLParam(r, "mission_id")); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": mission.StatusPaused})
}

func (s *Server) handleResumeMission(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "mission_id")
	status, err := s.missions.Status(missionID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if status != mission.StatusPaused {
		s.writeError(w, http.StatusConflict, fmt.Errorf("mission is %s, not paused", status))
		return
	}
	go func() {
		if err := s.runner.Start(s.baseCtx, missionID); err != nil {
			s.logger.Error("mission resume failed", "mission_id", missionID, "error", err)
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]any{"status": mission.StatusRunning})
}

func (s *Server) handleStopMission(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Stop(chi.URLParam(r, "mission_id")); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": mission.StatusStopped})
}

func (s *Server) handleMissionReport(w http.ResponseWriter, r *http.Request) {
	m, err := s.missions.Get(chi.URLParam(r, "mission_id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if m.FinalReport == "" {
		s.writeError(w, http.StatusConflict, errors.New("report not ready"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"mission_id": m.ID,
		"report":     m.FinalReport,
		"stats":      m.Stats,
	})
}

func (s *Server) handleMissionLogs(w http.ResponseWriter, r *http.Request) {
	m, err := s.missions.Get(chi.URLParam(r, "mission_id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"mission_id": m.ID,
		"logs":       m.ExecutionLog,
	})
}

func missionSummary(m *mission.Mission) map[string]any {
	return map[string]any{
		"id":           m.ID,
		"user_id":      m.UserID,
		"user_request": m.UserRequest,
		"status":       m.Status,
		"created_at":   m.CreatedAt,
		"updated_at":   m.UpdatedAt,
	}
}

// --- chats ---

type createChatRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		req.UserID = "default"
	}
	if req.Title == "" {
		req.Title = "New chat"
	}
	chat, err := s.chats.CreateChat(req.UserID, req.Title)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "default"
	}
	chats, err := s.chats.Chats(userID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.chats.Messages(chi.URLParam(r, "chat_id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// --- writing sessions ---

type createSessionRequest struct {
	ChatID          string `json:"chat_id"`
	DocumentGroupID string `json:"document_group_id"`
	UseWebSearch    bool   `json:"use_web_search"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ws := s.sessions.Create(req.ChatID, req.DocumentGroupID, req.UseWebSearch)
	s.writeJSON(w, http.StatusCreated, ws)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ws, err := s.sessions.Get(chi.URLParam(r, "session_id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ws)
}

func (s *Server) handleClearSessionStats(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.ClearStats(chi.URLParam(r, "session_id")); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(chi.URLParam(r, "session_id")); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type sessionChatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSessionChat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	var req sessionChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}

	ws, err := s.sessions.Get(sessionID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	var history []llms.Message
	if ws.ChatID != "" {
		stored, err := s.chats.Messages(ws.ChatID)
		if err == nil {
			for _, m := range stored {
				history = append(history, llms.Message{Role: m.Role, Content: m.Content})
			}
		}
	}

	answer, err := s.responder.Respond(r.Context(), sessionID, req.Message, history)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if ws.ChatID != "" {
		if err := s.chats.AppendMessage(ws.ChatID, "user", req.Message); err == nil {
			_ = s.chats.AppendMessage(ws.ChatID, "assistant", answer.Content)
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"content": answer.Content,
		"sources": answer.Sources,
	})
}

func (s *Server) handleSessionDrafts(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if _, err := s.sessions.Get(sessionID); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"drafts": s.sessions.Drafts(sessionID),
	})
}

// --- helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]any{"error": err.Error()})
}
