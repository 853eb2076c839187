package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cirrus-faas/cirrus/internal/domain"
)

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.ListProjects()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

func (s *Server) handleDeployProject(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	fns, err := s.projects.DeployProject(r.Context(), project)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if fns == nil {
		fns = []domain.Function{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project":   project,
		"functions": fns,
	})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	if err := s.projects.DeleteProject(project); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": project})
}

func (s *Server) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	fns, err := s.projects.ListFunctions(project)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if fns == nil {
		fns = []domain.Function{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project":   project,
		"functions": fns,
	})
}

func (s *Server) handleDeployHistory(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	events, err := s.projects.DeployHistory(project, 20)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if events == nil {
		events = []domain.DeployEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project": project,
		"history": events,
	})
}

func (s *Server) handleDeleteFunction(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	function := chi.URLParam(r, "function")
	if err := s.projects.DeleteFunction(project, function); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"project": project,
		"deleted": function,
	})
}

// statusForError maps sentinel errors onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrProjectNotFound),
		errors.Is(err, domain.ErrFunctionNotFound),
		errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTaskNotCancellable),
		errors.Is(err, domain.ErrBadCronExpression):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProjectUnavailable),
		errors.Is(err, domain.ErrWorkerNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
