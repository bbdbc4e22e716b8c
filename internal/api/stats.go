package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/tinymail/internal/domain"
	"github.com/ignite/tinymail/internal/pkg/httputil"
	"github.com/ignite/tinymail/internal/queue"
)

// StatsResponse is the global sending overview.
type StatsResponse struct {
	domain.RollingCounts
	Queue queue.Depth `json:"queue"`
}

// Stats reports the 24h and 30d send counts and the queue depth.
//
//	GET /api/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.mails.Counts(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	depth, err := h.tasks.Depth(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, StatsResponse{RollingCounts: counts, Queue: depth})
}

// CancelTask removes a queued or deferred task. This is the only way to
// stop a task that keeps getting deferred.
//
//	DELETE /api/tasks/{id}
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(w, id, "task") {
		return
	}
	if err := h.tasks.Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"ok": true})
}
