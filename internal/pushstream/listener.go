// Package pushstream maintains the websocket subscription to the backend's
// push endpoint and feeds every inbound payload to the notification
// dispatcher.
package pushstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// Sink consumes raw push payloads. *notifier.Dispatcher satisfies it.
type Sink interface {
	Push(ctx context.Context, payload []byte) error
}

// pushTimeout bounds handing one payload to the sink.
const pushTimeout = 30 * time.Second

// Config holds the listener configuration.
type Config struct {
	// URL is the backend push endpoint (ws:// or wss://).
	URL string
	// Token is sent as a Bearer token when dialing.
	Token  string
	Sink   Sink
	Logger *slog.Logger
	// DialBackoff is the initial reconnect delay. Defaults to 1s.
	DialBackoff time.Duration
	// MaxBackoff caps the reconnect delay. Defaults to 1m.
	MaxBackoff time.Duration
	// OnReconnect, when set, runs each time the stream is re-established
	// after a drop. The first successful dial does not count as a
	// reconnect.
	OnReconnect func()
}

// Listener dials the push endpoint and forwards payloads until its context
// is canceled, reconnecting with exponential backoff on any failure.
type Listener struct {
	cfg Config
}

// New creates a Listener.
func New(cfg Config) *Listener {
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	return &Listener{cfg: cfg}
}

// Run blocks until ctx is canceled. Connection drops and dial failures are
// logged and retried; they never propagate to the caller.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.cfg.DialBackoff
	everConnected := false
	for {
		connected, err := l.connectAndRead(ctx, everConnected)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			// The endpoint was reachable; start the next retry cycle fresh.
			everConnected = true
			backoff = l.cfg.DialBackoff
		}
		l.cfg.Logger.Warn("push stream disconnected, reconnecting",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff *= 2
		if backoff > l.cfg.MaxBackoff {
			backoff = l.cfg.MaxBackoff
		}
	}
}

// connectAndRead dials once and reads until the connection fails. The
// returned bool reports whether the dial succeeded. reconnect marks this
// dial as following an earlier established connection.
func (l *Listener) connectAndRead(ctx context.Context, reconnect bool) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	header := http.Header{}
	if l.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+l.cfg.Token)
	}
	conn, _, err := websocket.Dial(dialCtx, l.cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return false, fmt.Errorf("dialing %s: %w", l.cfg.URL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	l.cfg.Logger.Info("push stream connected", "url", l.cfg.URL)
	if reconnect && l.cfg.OnReconnect != nil {
		l.cfg.OnReconnect()
	}

	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return true, errors.New("server closed the stream")
			}
			return true, fmt.Errorf("reading push frame: %w", err)
		}

		pctx, pcancel := context.WithTimeout(ctx, pushTimeout)
		if err := l.cfg.Sink.Push(pctx, payload); err != nil {
			l.cfg.Logger.Error("push handling failed", "error", err)
		}
		pcancel()
	}
}
