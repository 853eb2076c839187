package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cirrus-faas/cirrus/internal/domain"
)

type createTaskRequest struct {
	Project  string          `json:"project"`
	Function string          `json:"function"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// handleCreateTask starts an asynchronous invocation. A duplicate request
// for a pair with an active task returns the existing task instead of
// creating another.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Project == "" || req.Function == "" {
		writeError(w, http.StatusBadRequest, "project and function are required")
		return
	}

	t, existed, err := s.tasks.CreateTask(r.Context(), req.Project, req.Function, req.Payload)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	status := http.StatusAccepted
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]interface{}{
		"task":     t,
		"existing": existed,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	status := domain.TaskStatus(r.URL.Query().Get("status"))

	tasks, err := s.tasks.ListTasks(project, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.GetTaskStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.tasks.CancelTask(id); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cancelling": id})
}
