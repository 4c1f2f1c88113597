package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleListComplaints(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)

	complaints, err := s.complaintSvc.ListComplaints(r.Context(), page, limit)
	if err != nil {
		s.writeServiceError(w, err, "list complaints failed")
		return
	}
	writeJSON(w, http.StatusOK, complaints)
}

func (s *Server) handleSubmitComplaint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	complaint, err := s.complaintSvc.SubmitComplaint(r.Context(), req.Subject, req.Body)
	if err != nil {
		s.writeServiceError(w, err, "submit complaint failed")
		return
	}
	writeJSON(w, http.StatusCreated, complaint)
}
