package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"kitchenflow/internal/scheduler"
	"kitchenflow/internal/service"
)

func SchedulerStatusHandler(s *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Status())
	}
}

// RunJobHandler runs a job synchronously, ignoring its hour gate.
func RunJobHandler(s *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := s.RunNow(r.Context(), name); err != nil {
			writeError(w, "run job "+name, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RetryWebhooksHandler runs a retry sweep, scoped by ?tenant= when given.
func RetryWebhooksHandler(dispatcher *service.WebhookDispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		delivered, err := dispatcher.RetryFailed(r.Context(), r.URL.Query().Get("tenant"))
		if err != nil {
			writeError(w, "webhook retry", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"delivered": delivered})
	}
}
