package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/viralboost/boostd/internal/querycache"
)

// watchSnapshot is the SSE wire form of a cache snapshot.
type watchSnapshot struct {
	Status    querycache.Status `json:"status"`
	Data      any               `json:"data,omitempty"`
	Error     string            `json:"error,omitempty"`
	Stale     bool              `json:"stale"`
	UpdatedAt time.Time         `json:"updated_at,omitzero"`
}

// handleWatch streams live cache snapshots for one resource as server-sent
// events. The stream attaches as a subscriber, so invalidations triggered by
// mutations refetch the entry immediately and push the new state here.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	key, ok := watchKey(resource, r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown resource: "+resource)
		return
	}

	sub, err := s.cache.Subscribe(key, nil, querycache.QueryOptions{})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "cache is closed")
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			view := watchSnapshot{
				Status:    snap.Status,
				Data:      snap.Data,
				Stale:     snap.Stale,
				UpdatedAt: snap.LastUpdatedAt,
			}
			if snap.Err != nil {
				view.Error = snap.Err.Error()
			}
			sendSSEEvent(w, flusher, "snapshot", view)
		}
	}
}

// watchKey maps a resource name plus request parameters onto the same cache
// key the corresponding service uses, so the stream observes the entries the
// REST handlers populate.
func watchKey(resource string, r *http.Request) (querycache.Key, bool) {
	page, limit := pageParams(r)
	switch resource {
	case "tasks":
		return querycache.NewKey("tasks", page, limit, r.URL.Query().Get("search")), true
	case "wallet":
		return querycache.NewKey("wallet"), true
	case "transactions":
		return querycache.NewKey("transactions", page, limit), true
	case "membership":
		return querycache.NewKey("membership"), true
	case "complaints":
		return querycache.NewKey("complaints", page, limit), true
	case "referrals":
		return querycache.NewKey("referrals", page, limit), true
	default:
		return querycache.Key{}, false
	}
}
