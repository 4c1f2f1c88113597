package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// pageParams reads ?page= and ?limit= with sane defaults.
func pageParams(r *http.Request) (page, limit int) {
	page, limit = 1, 20
	if p := r.URL.Query().Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	return page, limit
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	search := r.URL.Query().Get("search")

	tasks, err := s.taskSvc.ListTasks(r.Context(), page, limit, search)
	if err != nil {
		s.writeServiceError(w, err, "list tasks failed")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	completion, err := s.taskSvc.CompleteTask(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err, "complete task failed")
		return
	}
	writeJSON(w, http.StatusOK, completion)
}
