package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleInvoke runs a function synchronously and returns its result. The
// request body is the JSON payload handed to the function; an empty body
// means a null payload.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	function := chi.URLParam(r, "function")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	var payload json.RawMessage
	if len(body) > 0 {
		if !json.Valid(body) {
			writeError(w, http.StatusBadRequest, "payload must be valid JSON")
			return
		}
		payload = body
	}

	result, err := s.master.ExecuteFunction(r.Context(), project, function, payload)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project":  project,
		"function": function,
		"result":   result,
	})
}
