// Package platform adapts notification effects to the real delivery
// surfaces: connected UI windows reached over websockets, and the SMTP
// digest fallback for notifications that found no window.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/viralboost/boostd/internal/notifier"
)

// writeTimeout bounds each outbound websocket frame.
const writeTimeout = 5 * time.Second

// Frame is one message exchanged with a connected window. Type selects
// which of the remaining fields are meaningful.
type Frame struct {
	Type       string           `json:"type"`
	Record     *notifier.Record `json:"record,omitempty"`
	Tag        string           `json:"tag,omitempty"`
	URL        string           `json:"url,omitempty"`
	NavigateTo string           `json:"navigate_to,omitempty"`
	Focused    bool             `json:"focused,omitempty"`
}

// Outbound frame types.
const (
	FrameNotification      = "notification"
	FrameNotificationClose = "notification_close"
	FrameFocus             = "focus"
	FrameOpen              = "open"
)

// Inbound frame types.
const (
	FrameFocusChanged = "focus_changed"
)

type windowConn struct {
	id      string
	conn    *websocket.Conn
	focused bool
}

// WindowRegistry tracks connected UI windows and implements
// notifier.Platform by translating effects into websocket frames.
type WindowRegistry struct {
	origin string
	logger *slog.Logger

	mu      sync.Mutex
	windows map[string]*windowConn
	onFocus func()
}

// NewWindowRegistry creates a registry for windows served from origin.
func NewWindowRegistry(origin string, logger *slog.Logger) *WindowRegistry {
	return &WindowRegistry{
		origin:  origin,
		logger:  logger,
		windows: make(map[string]*windowConn),
	}
}

// OnFocus registers fn to run every time a window reports gaining focus.
// Used to trigger cache refreshes on focus.
func (r *WindowRegistry) OnFocus(fn func()) {
	r.mu.Lock()
	r.onFocus = fn
	r.mu.Unlock()
}

// Attach registers a freshly accepted websocket connection as a window and
// returns its id. The caller owns the connection's read loop via Serve.
func (r *WindowRegistry) Attach(conn *websocket.Conn) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.windows[id] = &windowConn{id: id, conn: conn}
	count := len(r.windows)
	r.mu.Unlock()

	r.logger.Info("window connected", "window_id", id, "windows", count)
	return id
}

// Detach removes the window and closes its connection.
func (r *WindowRegistry) Detach(id string) {
	r.mu.Lock()
	w, ok := r.windows[id]
	if ok {
		delete(r.windows, id)
	}
	count := len(r.windows)
	r.mu.Unlock()

	if !ok {
		return
	}
	_ = w.conn.Close(websocket.StatusNormalClosure, "detached")
	r.logger.Info("window disconnected", "window_id", id, "windows", count)
}

// Serve reads inbound frames from the window until the connection drops or
// ctx is canceled. It must be called exactly once per attached window; the
// window is detached on return.
func (r *WindowRegistry) Serve(ctx context.Context, id string) error {
	r.mu.Lock()
	w, ok := r.windows[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown window %q", id)
	}
	defer r.Detach(id)

	for {
		var f Frame
		if err := wsjson.Read(ctx, w.conn, &f); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			return err
		}

		switch f.Type {
		case FrameFocusChanged:
			r.mu.Lock()
			if cur, ok := r.windows[id]; ok {
				cur.focused = f.Focused
			}
			hook := r.onFocus
			r.mu.Unlock()
			if f.Focused && hook != nil {
				hook()
			}
		default:
			r.logger.Debug("unknown window frame", "window_id", id, "type", f.Type)
		}
	}
}

// Origin returns the application origin used to recognize reusable windows.
func (r *WindowRegistry) Origin() string { return r.origin }

// Windows returns a snapshot of the connected windows.
func (r *WindowRegistry) Windows(_ context.Context) ([]notifier.Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]notifier.Window, 0, len(r.windows))
	for _, w := range r.windows {
		out = append(out, notifier.Window{ID: w.id, Origin: r.origin, Focused: w.focused})
	}
	return out, nil
}

// Apply executes one effect against the connected windows.
func (r *WindowRegistry) Apply(ctx context.Context, eff notifier.Effect) error {
	switch e := eff.(type) {
	case notifier.ShowNotification:
		rec := e.Record
		return r.broadcast(ctx, Frame{Type: FrameNotification, Record: &rec}, true)
	case notifier.CloseNotification:
		// Closing with nobody connected is a no-op, not a failure.
		return r.broadcast(ctx, Frame{Type: FrameNotificationClose, Tag: e.Tag}, false)
	case notifier.FocusWindow:
		return r.send(ctx, e.WindowID, Frame{Type: FrameFocus, NavigateTo: e.NavigateTo})
	case notifier.OpenWindow:
		return r.open(ctx, Frame{Type: FrameOpen, URL: e.URL})
	default:
		return fmt.Errorf("unsupported effect %T", eff)
	}
}

// broadcast sends f to every connected window. With requireWindows set it
// reports ErrNoWindows when the registry is empty.
func (r *WindowRegistry) broadcast(ctx context.Context, f Frame, requireWindows bool) error {
	r.mu.Lock()
	targets := make([]*windowConn, 0, len(r.windows))
	for _, w := range r.windows {
		targets = append(targets, w)
	}
	r.mu.Unlock()

	if len(targets) == 0 {
		if requireWindows {
			return notifier.ErrNoWindows
		}
		return nil
	}

	delivered := 0
	for _, w := range targets {
		if err := r.write(ctx, w, f); err != nil {
			r.logger.Warn("dropping unreachable window", "window_id", w.id, "error", err)
			r.Detach(w.id)
			continue
		}
		delivered++
	}
	if delivered == 0 && requireWindows {
		return notifier.ErrNoWindows
	}
	return nil
}

// send delivers f to one specific window.
func (r *WindowRegistry) send(ctx context.Context, id string, f Frame) error {
	r.mu.Lock()
	w, ok := r.windows[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown window %q", id)
	}
	if err := r.write(ctx, w, f); err != nil {
		r.Detach(id)
		return fmt.Errorf("writing to window %q: %w", id, err)
	}
	return nil
}

// open asks one connected window to open a new surface at the frame's URL.
// The daemon cannot spawn windows itself, so an empty registry is reported
// as ErrNoWindows.
func (r *WindowRegistry) open(ctx context.Context, f Frame) error {
	r.mu.Lock()
	var target *windowConn
	for _, w := range r.windows {
		target = w
		break
	}
	r.mu.Unlock()

	if target == nil {
		return notifier.ErrNoWindows
	}
	if err := r.write(ctx, target, f); err != nil {
		r.Detach(target.id)
		return fmt.Errorf("writing to window %q: %w", target.id, err)
	}
	return nil
}

func (r *WindowRegistry) write(ctx context.Context, w *windowConn, f Frame) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, w.conn, f)
}
