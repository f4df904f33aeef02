package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arche-ai/arche/internal/engine"
	"github.com/arche-ai/arche/internal/session"
	"github.com/arche-ai/arche/pkg/types"
)

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.List())
}

type createSessionRequest struct {
	Name           string               `json:"name"`
	Model          string               `json:"model"`
	Cwd            string               `json:"cwd"`
	PermissionMode types.PermissionMode `json:"permissionMode"`
	SystemPrompt   string               `json:"systemPrompt"`
	ThinkingMode   string               `json:"thinkingMode"`
	Engine         string               `json:"engine"`
	ResumeID       string               `json:"resumeID"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	snap := s.manager.Create(session.CreateParams{
		Name:           req.Name,
		Model:          req.Model,
		Cwd:            req.Cwd,
		PermissionMode: req.PermissionMode,
		SystemPrompt:   req.SystemPrompt,
		ThinkingMode:   req.ThinkingMode,
		Engine:         engine.Kind(req.Engine),
		ResumeID:       req.ResumeID,
	})
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var snap *types.SessionSnapshot
	var ok bool
	if r.URL.Query().Get("messages") == "true" {
		snap, ok = s.manager.GetWithMessages(id)
	} else {
		snap, ok = s.manager.Get(id)
	}
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type updateSessionRequest struct {
	Name           *string               `json:"name"`
	Model          *string               `json:"model"`
	PermissionMode *types.PermissionMode `json:"permissionMode"`
	ThinkingMode   *string               `json:"thinkingMode"`
	SystemPrompt   *string               `json:"systemPrompt"`
}

func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	snap, ok := s.manager.Update(id, session.UpdateParams{
		Name:           req.Name,
		Model:          req.Model,
		PermissionMode: req.PermissionMode,
		ThinkingMode:   req.ThinkingMode,
		SystemPrompt:   req.SystemPrompt,
	})
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.manager.Delete(chi.URLParam(r, "sessionID")) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeSuccess(w)
}

type sendMessageRequest struct {
	Content      string `json:"content"`
	SystemPrompt string `json:"systemPrompt"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content is required")
		return
	}

	if !s.manager.SendMessage(id, req.Content, req.SystemPrompt) {
		if _, exists := s.manager.Get(id); !exists {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		writeError(w, http.StatusConflict, ErrCodeConflict, "session is busy")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) interruptSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !s.manager.Interrupt(id) {
		if _, exists := s.manager.Get(id); !exists {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		writeError(w, http.StatusConflict, ErrCodeConflict, "session is not running")
		return
	}
	writeSuccess(w)
}

func (s *Server) pendingPermission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	req, ok := s.manager.PendingPermission(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no pending permission request")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type permissionResponse struct {
	Allow         bool           `json:"allow"`
	ModifiedInput map[string]any `json:"modifiedInput"`
	Reason        string         `json:"reason"`
}

func (s *Server) respondPermission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	requestID := chi.URLParam(r, "requestID")

	var req permissionResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	if !s.manager.RespondPermission(id, requestID, req.Allow, req.ModifiedInput, req.Reason) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no matching permission request")
		return
	}
	writeSuccess(w)
}

func (s *Server) updateTodos(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var todos []*types.TodoItem
	if err := json.NewDecoder(r.Body).Decode(&todos); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if !s.manager.UpdateTodos(id, todos) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeSuccess(w)
}

type addTodoRequest struct {
	Content  string `json:"content"`
	Priority int    `json:"priority"`
}

func (s *Server) addTodo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req addTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	item, ok := s.manager.AddTodo(id, req.Content, req.Priority)
	if !ok {
		if _, exists := s.manager.Get(id); !exists {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content is required")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type todoStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) updateTodoStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	todoID := chi.URLParam(r, "todoID")

	var req todoStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if !s.manager.UpdateTodoStatus(id, todoID, req.Status) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no matching todo item")
		return
	}
	writeSuccess(w)
}

func (s *Server) deleteTodo(w http.ResponseWriter, r *http.Request) {
	if !s.manager.DeleteTodo(chi.URLParam(r, "sessionID"), chi.URLParam(r, "todoID")) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no matching todo item")
		return
	}
	writeSuccess(w)
}

func (s *Server) approveFileOp(w http.ResponseWriter, r *http.Request) {
	if !s.manager.ApproveFileOperation(chi.URLParam(r, "sessionID"), chi.URLParam(r, "opID")) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no matching file operation")
		return
	}
	writeSuccess(w)
}

func (s *Server) rejectFileOp(w http.ResponseWriter, r *http.Request) {
	if !s.manager.RejectFileOperation(chi.URLParam(r, "sessionID"), chi.URLParam(r, "opID")) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no matching file operation")
		return
	}
	writeSuccess(w)
}

func (s *Server) loadSkill(w http.ResponseWriter, r *http.Request) {
	if !s.manager.LoadSkill(chi.URLParam(r, "sessionID"), chi.URLParam(r, "name")) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "skill not found or already loaded")
		return
	}
	writeSuccess(w)
}

func (s *Server) unloadSkill(w http.ResponseWriter, r *http.Request) {
	if !s.manager.UnloadSkill(chi.URLParam(r, "sessionID"), chi.URLParam(r, "name")) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "skill not loaded")
		return
	}
	writeSuccess(w)
}
