package api

import "net/http"

func (s *Server) handleListReferrals(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)

	referrals, err := s.referralSvc.ListReferrals(r.Context(), page, limit)
	if err != nil {
		s.writeServiceError(w, err, "list referrals failed")
		return
	}
	writeJSON(w, http.StatusOK, referrals)
}
