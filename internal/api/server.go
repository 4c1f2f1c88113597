// Package api implements the daemon's local REST API consumed by the
// ViralBoost web app.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/viralboost/boostd/internal/backend"
	"github.com/viralboost/boostd/internal/notifier"
	"github.com/viralboost/boostd/internal/querycache"
	"github.com/viralboost/boostd/internal/service"
)

const errInvalidJSONBody = "invalid JSON body"

// Server holds all dependencies for the REST API handlers.
type Server struct {
	taskSvc         service.TaskService
	walletSvc       service.WalletService
	membershipSvc   service.MembershipService
	complaintSvc    service.ComplaintService
	referralSvc     service.ReferralService
	notificationSvc service.NotificationService
	dispatcher      *notifier.Dispatcher
	cache           *querycache.Coordinator
	logger          *slog.Logger
}

// Config bundles the Server's dependencies.
type Config struct {
	Tasks         service.TaskService
	Wallet        service.WalletService
	Memberships   service.MembershipService
	Complaints    service.ComplaintService
	Referrals     service.ReferralService
	Notifications service.NotificationService
	Dispatcher    *notifier.Dispatcher
	Cache         *querycache.Coordinator
	Logger        *slog.Logger
}

// New creates a new API Server backed by the provided services.
func New(cfg Config) *Server {
	return &Server{
		taskSvc:         cfg.Tasks,
		walletSvc:       cfg.Wallet,
		membershipSvc:   cfg.Memberships,
		complaintSvc:    cfg.Complaints,
		referralSvc:     cfg.Referrals,
		notificationSvc: cfg.Notifications,
		dispatcher:      cfg.Dispatcher,
		cache:           cfg.Cache,
		logger:          cfg.Logger,
	}
}

// Mount registers all API routes under the given router.
func (s *Server) Mount(r chi.Router) {
	// Tasks
	r.Get("/tasks", s.handleListTasks)
	r.Post("/tasks/{id}/complete", s.handleCompleteTask)

	// Wallet
	r.Get("/wallet", s.handleGetWallet)
	r.Get("/transactions", s.handleListTransactions)
	r.Post("/wallet/withdraw", s.handleWithdraw)

	// Membership
	r.Get("/membership", s.handleGetMembership)
	r.Post("/membership/upgrade", s.handleUpgradeMembership)

	// Complaints
	r.Get("/complaints", s.handleListComplaints)
	r.Post("/complaints", s.handleSubmitComplaint)

	// Referrals
	r.Get("/referrals", s.handleListReferrals)

	// Notifications and worker control
	r.Get("/notifications", s.handleListNotifications)
	r.Post("/notifications/click", s.handleNotificationClick)
	r.Post("/notifications/dismiss", s.handleNotificationDismiss)
	r.Post("/push", s.handleInjectPush)
	r.Get("/worker/version", s.handleWorkerVersion)
	r.Post("/worker/version", s.handleInstallWorkerVersion)
	r.Post("/worker/control", s.handleWorkerControl)

	// Live snapshot streams
	r.Get("/watch/{resource}", s.handleWatch)

	// Introspection
	r.Get("/cache/stats", s.handleCacheStats)
	r.Get("/version", s.handleVersion)
}

// ─── Shared helpers ───────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	b, _ := json.Marshal(data)
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(b))
	if flusher != nil {
		flusher.Flush()
	}
}

// writeServiceError maps a service-layer error to an HTTP response. Backend
// failures surface the generic user-facing message rather than transport
// detail.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, logMsg string) {
	var (
		verr *service.ValidationError
		nfe  *service.NotFoundError
		serr *backend.ServerError
		qte  *querycache.TimeoutError
		bte  *backend.TimeoutError
		nwe  *backend.NetworkError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &nfe):
		writeError(w, http.StatusNotFound, nfe.Error())
	case errors.As(err, &serr):
		status := serr.Status
		if status < http.StatusBadRequest {
			// success=false on a 2xx response; the backend refused the
			// operation.
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, serr.Message)
	case errors.As(err, &qte), errors.As(err, &bte):
		writeError(w, http.StatusGatewayTimeout, backend.UserMessage(err))
	case errors.As(err, &nwe):
		writeError(w, http.StatusBadGateway, backend.UserMessage(err))
	default:
		s.logger.Error(logMsg, "error", err)
		writeError(w, http.StatusInternalServerError, backend.UserMessage(err))
	}
}
