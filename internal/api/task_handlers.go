package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jsayol/qr-signin/internal/api/presenter"
	"github.com/jsayol/qr-signin/internal/tasks"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	presenter.JSON(w, r, s.taskManager.ListStatus(), http.StatusOK)
}

// handleTriggerTask runs a registered task (e.g. the token sweep) outside
// its schedule. Triggering is idempotent: a sweep racing another sweep
// just finds nothing left to delete.
func (s *Server) handleTriggerTask(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := s.taskManager.Trigger(name); err != nil {
		var notFound tasks.TaskNotFoundError
		if errors.As(err, &notFound) {
			presenter.Error(w, r, err.Error(), http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Str("task", name).Msg("triggering task failed")
		presenter.Error(w, r, "internal error", http.StatusInternalServerError)
		return
	}

	presenter.JSON(w, r, map[string]string{"status": "triggered"}, http.StatusAccepted)
}

func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	logs, err := s.taskManager.GetLogs(name)
	if err != nil {
		var notFound tasks.TaskNotFoundError
		if errors.As(err, &notFound) {
			presenter.Error(w, r, err.Error(), http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Str("task", name).Msg("reading task logs failed")
		presenter.Error(w, r, "internal error", http.StatusInternalServerError)
		return
	}

	presenter.JSON(w, r, logs, http.StatusOK)
}
