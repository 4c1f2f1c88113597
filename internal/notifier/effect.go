package notifier

import (
	"context"
	"errors"
)

// ErrNoWindows is returned by a Platform when a ShowNotification effect has
// no connected window to deliver to. The dispatcher queues the record for
// fallback delivery instead of failing the push event.
var ErrNoWindows = errors.New("notifier: no connected windows")

// Window is one open application surface known to the platform.
type Window struct {
	ID      string
	Origin  string
	Focused bool
}

// Effect is a declarative instruction produced by the worker's decision
// functions and executed by a Platform adapter. Keeping the decision logic
// pure keeps it unit-testable without a live platform.
type Effect interface {
	isEffect()
}

// ShowNotification displays rec, replacing any live notification that
// carries the same tag.
type ShowNotification struct {
	Record Record
}

// CloseNotification dismisses the live notification with the given tag.
type CloseNotification struct {
	Tag string
}

// FocusWindow brings an existing window to the foreground and, when
// NavigateTo is non-empty, instructs it to navigate there.
type FocusWindow struct {
	WindowID   string
	NavigateTo string
}

// OpenWindow opens a new application window at URL.
type OpenWindow struct {
	URL string
}

func (ShowNotification) isEffect()  {}
func (CloseNotification) isEffect() {}
func (FocusWindow) isEffect()       {}
func (OpenWindow) isEffect()        {}

// Platform executes effects against the real surface (connected UI windows,
// the fallback provider, the OS tray). The displayed-notification set is
// write-only from the worker's perspective: effects display and close, but
// never enumerate or read back.
type Platform interface {
	// Apply executes one effect. ShowNotification may return ErrNoWindows.
	Apply(ctx context.Context, eff Effect) error
	// Windows returns a snapshot of the currently open application windows.
	Windows(ctx context.Context) ([]Window, error)
	// Origin is the application origin used to recognize reusable windows.
	Origin() string
}

// decideClick is the pure click-handling decision: close the notification,
// resolve the route, and either focus the first same-origin window or open
// exactly one new window.
func decideClick(rec Record, windows []Window, origin string, resolver *RouteResolver) []Effect {
	route := resolver.Resolve(rec.Data)
	effects := []Effect{CloseNotification{Tag: rec.Tag}}

	for _, w := range windows {
		if w.Origin == origin {
			return append(effects, FocusWindow{WindowID: w.ID, NavigateTo: route})
		}
	}
	return append(effects, OpenWindow{URL: route})
}
