package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleGetMembership(w http.ResponseWriter, r *http.Request) {
	m, err := s.membershipSvc.GetMembership(r.Context())
	if err != nil {
		s.writeServiceError(w, err, "get membership failed")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpgradeMembership(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	m, err := s.membershipSvc.Upgrade(r.Context(), req.Plan)
	if err != nil {
		s.writeServiceError(w, err, "upgrade membership failed")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
