package api_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralboost/boostd/internal/api"
	"github.com/viralboost/boostd/internal/backend"
	"github.com/viralboost/boostd/internal/notifier"
	"github.com/viralboost/boostd/internal/querycache"
	"github.com/viralboost/boostd/internal/service"
	"github.com/viralboost/boostd/internal/storage"
)

// --- service stubs ---

type stubTaskService struct {
	page       *service.TaskPage
	completion *service.TaskCompletion
	err        error
}

func (s *stubTaskService) ListTasks(context.Context, int, int, string) (*service.TaskPage, error) {
	return s.page, s.err
}

func (s *stubTaskService) CompleteTask(_ context.Context, taskID string) (*service.TaskCompletion, error) {
	if taskID == "" {
		return nil, &service.ValidationError{Field: "task_id", Message: "must not be empty"}
	}
	return s.completion, s.err
}

type stubWalletService struct {
	wallet     *service.Wallet
	page       *service.TransactionPage
	withdrawal *service.Withdrawal
	err        error
}

func (s *stubWalletService) GetWallet(context.Context) (*service.Wallet, error) {
	return s.wallet, s.err
}

func (s *stubWalletService) ListTransactions(context.Context, int, int) (*service.TransactionPage, error) {
	return s.page, s.err
}

func (s *stubWalletService) Withdraw(_ context.Context, amount float64) (*service.Withdrawal, error) {
	if amount <= 0 {
		return nil, &service.ValidationError{Field: "amount", Message: "must be positive"}
	}
	return s.withdrawal, s.err
}

type stubNotificationService struct {
	entries []storage.NotificationEntry
	err     error
}

func (s *stubNotificationService) ListHistory(context.Context, int) ([]storage.NotificationEntry, error) {
	return s.entries, s.err
}

// --- platform fake for the real dispatcher ---

type fakePlatform struct {
	mu      sync.Mutex
	applied []notifier.Effect
}

func (p *fakePlatform) Apply(_ context.Context, eff notifier.Effect) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, eff)
	return nil
}

func (p *fakePlatform) Windows(context.Context) ([]notifier.Window, error) { return nil, nil }

func (p *fakePlatform) Origin() string { return "https://app.viralboost.io" }

// --- helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type serverDeps struct {
	tasks         service.TaskService
	wallet        service.WalletService
	notifications service.NotificationService
}

func newAPIServer(t *testing.T, deps serverDeps) *httptest.Server {
	t.Helper()
	logger := testLogger()
	cache := querycache.New(querycache.Options{}, logger, nil)
	t.Cleanup(cache.Close)

	dispatcher := notifier.New(&fakePlatform{}, notifier.NewRouteResolver(), nil, logger)
	t.Cleanup(dispatcher.Close)

	srv := api.New(api.Config{
		Tasks:         deps.tasks,
		Wallet:        deps.wallet,
		Notifications: deps.notifications,
		Dispatcher:    dispatcher,
		Cache:         cache,
		Logger:        logger,
	})

	r := chi.NewRouter()
	r.Route("/api", srv.Mount)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

// --- tests ---

func TestListTasks(t *testing.T) {
	ts := newAPIServer(t, serverDeps{tasks: &stubTaskService{
		page: &service.TaskPage{Tasks: []service.Task{{ID: "task-1", Title: "Share a post"}}},
	}})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/tasks?page=1&limit=10", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "task-1")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "server refusal maps to 422",
			err:        &backend.ServerError{Status: http.StatusOK, Message: "insufficient balance"},
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   "insufficient balance",
		},
		{
			name:       "backend 4xx passes through",
			err:        &backend.ServerError{Status: http.StatusForbidden, Message: "membership required"},
			wantStatus: http.StatusForbidden,
			wantBody:   "membership required",
		},
		{
			name:       "cache timeout maps to 504",
			err:        &querycache.TimeoutError{},
			wantStatus: http.StatusGatewayTimeout,
			wantBody:   "Something went wrong",
		},
		{
			name:       "network failure maps to 502",
			err:        &backend.NetworkError{URL: "https://api.viralboost.io"},
			wantStatus: http.StatusBadGateway,
			wantBody:   "Something went wrong",
		},
		{
			name:       "not found maps to 404",
			err:        &service.NotFoundError{Resource: "task", ID: "missing"},
			wantStatus: http.StatusNotFound,
			wantBody:   "not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newAPIServer(t, serverDeps{tasks: &stubTaskService{err: tt.err}})

			resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/tasks", "")
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Contains(t, body, tt.wantBody)
		})
	}
}

func TestWithdraw(t *testing.T) {
	ts := newAPIServer(t, serverDeps{wallet: &stubWalletService{
		withdrawal: &service.Withdrawal{ID: "wd-1", Amount: 25, Status: "pending"},
	}})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/wallet/withdraw", `{"amount": 25}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "wd-1")
}

func TestWithdrawValidation(t *testing.T) {
	ts := newAPIServer(t, serverDeps{wallet: &stubWalletService{}})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/wallet/withdraw", `{"amount": -1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "amount")
}

func TestWithdrawRejectsMalformedBody(t *testing.T) {
	ts := newAPIServer(t, serverDeps{wallet: &stubWalletService{}})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/wallet/withdraw", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "invalid JSON body")
}

func TestListNotifications(t *testing.T) {
	ts := newAPIServer(t, serverDeps{notifications: &stubNotificationService{
		entries: []storage.NotificationEntry{{ID: 1, Title: "Task approved", Status: storage.StatusDisplayed}},
	}})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/notifications?limit=5", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Task approved")
}

func TestInjectPush(t *testing.T) {
	ts := newAPIServer(t, serverDeps{})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/push", `{"title":"Hello","tag":"t-1"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Contains(t, body, "accepted")
}

func TestWorkerVersionLifecycle(t *testing.T) {
	ts := newAPIServer(t, serverDeps{})

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/worker/version", `{"version":"v2"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/worker/version", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"pending":"v2"`)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/worker/control", `{"type":"SKIP_WAITING"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"active":"v2"`)
	assert.Contains(t, body, `"pending":""`)
}

func TestCacheStats(t *testing.T) {
	ts := newAPIServer(t, serverDeps{})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/cache/stats", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"entries":0`)
}

func TestMetricsImplementsCacheInterface(t *testing.T) {
	var m querycache.Metrics = api.NewMetrics()
	m.CacheHit()
	m.CacheMiss()
	m.FetchStarted()
	m.FetchDiscarded()
	m.EntryEvicted()
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	m := api.NewMetrics()
	m.NotificationDelivered("displayed")
	m.SetConnectedWindows(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "boostd_notifications_total")
	assert.Contains(t, rec.Body.String(), "boostd_connected_windows 2")
}
