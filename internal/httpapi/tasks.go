package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/UKPLab/CARE-broker/internal/protocol"
	"github.com/UKPLab/CARE-broker/internal/tasks"
)

const operatorAbortReason = "aborted by operator"

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}
	task, err := s.tasks.Get(taskID)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task_not_found", err.Error())
			return
		}
		respondError(w, http.StatusServiceUnavailable, "task_get_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session_id query param is required")
		return
	}

	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"tasks":      s.tasks.ListByRequester(sessionID, limit),
	})
}

// handleAbortTask stops a live task, tells its provider to drop it and
// reports 110 to the requester.
func (s *Server) handleAbortTask(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}
	if err := s.tasks.Abort(taskID, operatorAbortReason, true, protocol.CodeAborted); err != nil {
		respondError(w, http.StatusNotFound, "task_not_found", err.Error())
		return
	}
	task, err := s.tasks.Get(taskID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "task_get_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, task)
}
