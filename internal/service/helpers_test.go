package service_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/viralboost/boostd/internal/backend"
	"github.com/viralboost/boostd/internal/querycache"
)

type recordedEvent struct {
	eventType string
	payload   map[string]string
}

type stubPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *stubPublisher) Publish(eventType string, payload map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{eventType: eventType, payload: payload})
}

func (p *stubPublisher) published() []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]recordedEvent, len(p.events))
	copy(out, p.events)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv wires a coordinator and a backend client against an in-process
// HTTP server. The coordinator uses default options, so entries stay fresh
// for the duration of a test unless a mutation invalidates them.
func newTestEnv(t *testing.T, handler http.Handler) (*querycache.Coordinator, *backend.Client, *stubPublisher) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := testLogger()
	cache := querycache.New(querycache.Options{}, logger, nil)
	t.Cleanup(cache.Close)

	client := backend.NewClient(srv.URL, "test-token", 5*time.Second, logger)
	return cache, client, &stubPublisher{}
}
