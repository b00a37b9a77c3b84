package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/murtaza-nasir/maestro-sub003/pkg/tools"
)

// SetTools exposes a tool registry under /api/tools. Without one the tool
// endpoints answer 503.
func (s *Server) SetTools(reg *tools.ToolRegistry) {
	s.tools = reg
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	if s.tools == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("no tools configured"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": s.tools.ListInfos()})
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	if s.tools == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("no tools configured"))
		return
	}

	var args map[string]any
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	result, err := s.tools.Invoke(r.Context(), chi.URLParam(r, "tool_name"), args)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
