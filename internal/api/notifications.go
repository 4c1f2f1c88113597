package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/viralboost/boostd/internal/notifier"
)

// handleListNotifications returns recent notification history entries.
// Accepts an optional ?limit=N query parameter (default 50).
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.notificationSvc.ListHistory(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err, "list notification history failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleNotificationClick reports a click on a displayed notification. The
// dispatcher closes the notification and focuses or opens a window.
func (s *Server) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	var rec notifier.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	if err := s.dispatcher.Click(r.Context(), rec); err != nil {
		s.logger.Error("notification click failed", "tag", rec.Tag, "error", err)
		writeError(w, http.StatusInternalServerError, "click handling failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNotificationDismiss reports a notification closed without
// interaction.
func (s *Server) handleNotificationDismiss(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	if err := s.dispatcher.Dismiss(r.Context(), req.Tag); err != nil {
		writeError(w, http.StatusInternalServerError, "dismiss handling failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInjectPush feeds a raw push payload into the dispatcher. Used for
// local testing and by the boostd push subcommand; the payload goes through
// exactly the same normalization as a real backend push.
func (s *Server) handleInjectPush(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading payload failed")
		return
	}

	if err := s.dispatcher.Push(r.Context(), payload); err != nil {
		s.logger.Error("injected push failed", "error", err)
		writeError(w, http.StatusInternalServerError, "push handling failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleWorkerVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"active":  s.dispatcher.ActiveVersion(),
		"pending": s.dispatcher.PendingVersion(),
	})
}

func (s *Server) handleInstallWorkerVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}
	if req.Version == "" {
		writeError(w, http.StatusBadRequest, "version is required")
		return
	}

	if err := s.dispatcher.SetPendingVersion(r.Context(), req.Version); err != nil {
		writeError(w, http.StatusInternalServerError, "installing version failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pending": req.Version})
}

func (s *Server) handleWorkerControl(w http.ResponseWriter, r *http.Request) {
	var msg notifier.ControlMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	if err := s.dispatcher.Control(r.Context(), msg); err != nil {
		writeError(w, http.StatusInternalServerError, "control handling failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"active":  s.dispatcher.ActiveVersion(),
		"pending": s.dispatcher.PendingVersion(),
	})
}
