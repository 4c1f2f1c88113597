package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.walletSvc.GetWallet(r.Context())
	if err != nil {
		s.writeServiceError(w, err, "get wallet failed")
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)

	txs, err := s.walletSvc.ListTransactions(r.Context(), page, limit)
	if err != nil {
		s.writeServiceError(w, err, "list transactions failed")
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	withdrawal, err := s.walletSvc.Withdraw(r.Context(), req.Amount)
	if err != nil {
		s.writeServiceError(w, err, "withdraw failed")
		return
	}
	writeJSON(w, http.StatusOK, withdrawal)
}
