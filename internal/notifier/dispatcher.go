package notifier

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/viralboost/boostd/internal/storage"
)

// ErrStopped is returned when an event is submitted after Close.
var ErrStopped = errors.New("notifier: dispatcher is stopped")

// ControlSkipWaiting is the only control message type in the page-to-worker
// contract. It forces immediate activation of a pending worker version.
const ControlSkipWaiting = "SKIP_WAITING"

// ControlMessage is a control-channel message from an active page.
type ControlMessage struct {
	Type string `json:"type"`
}

// effectTimeout bounds platform effect execution for a single event.
const effectTimeout = 15 * time.Second

type eventKind int

const (
	eventPush eventKind = iota
	eventClick
	eventDismiss
	eventControl
	eventLifecycle
)

// event is one unit of work for the dispatcher loop. done is closed with
// the handling outcome once all effects have settled, which is what keeps
// the triggering event "held open" until then.
type event struct {
	kind    eventKind
	payload []byte
	record  Record
	tag     string
	control ControlMessage
	version string
	done    chan error
}

// Dispatcher is the notification worker. A single goroutine consumes events
// in arrival order, so handlers never race with each other; submitters block
// until their event's effects settle.
type Dispatcher struct {
	platform Platform
	resolver *RouteResolver
	store    storage.NotificationStore
	logger   *slog.Logger

	ch   chan *event
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	// version state is read by accessors, written only by the loop.
	versionMu      sync.Mutex
	activeVersion  string
	pendingVersion string
}

// New creates a Dispatcher and starts its event loop. store may be nil to
// disable history persistence (used by tests).
func New(platform Platform, resolver *RouteResolver, store storage.NotificationStore, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		platform: platform,
		resolver: resolver,
		store:    store,
		logger:   logger,
		ch:       make(chan *event),
		quit:     make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

// Close stops the loop after the event in progress finishes. Pending
// submitters receive ErrStopped.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.quit)
	})
	d.wg.Wait()
}

// Push handles an inbound push payload: normalize, display, persist.
// Exactly one notification is produced per call; a payload that cannot be
// parsed degrades to defaults rather than failing.
func (d *Dispatcher) Push(ctx context.Context, payload []byte) error {
	return d.submit(ctx, &event{kind: eventPush, payload: payload})
}

// Click handles user interaction with a displayed notification: the
// notification is closed, its route target resolved, and exactly one window
// is focused or opened.
func (d *Dispatcher) Click(ctx context.Context, rec Record) error {
	return d.submit(ctx, &event{kind: eventClick, record: rec})
}

// Dismiss handles a notification being closed without interaction.
func (d *Dispatcher) Dismiss(ctx context.Context, tag string) error {
	return d.submit(ctx, &event{kind: eventDismiss, tag: tag})
}

// Control handles a page-to-worker control message. Unknown message types
// are ignored; SKIP_WAITING is idempotent.
func (d *Dispatcher) Control(ctx context.Context, msg ControlMessage) error {
	return d.submit(ctx, &event{kind: eventControl, control: msg})
}

// SetPendingVersion records a newly installed worker version awaiting
// activation. Activation happens on the next SKIP_WAITING control message.
func (d *Dispatcher) SetPendingVersion(ctx context.Context, version string) error {
	return d.submit(ctx, &event{kind: eventLifecycle, version: version})
}

// ActiveVersion returns the currently active worker version.
func (d *Dispatcher) ActiveVersion() string {
	d.versionMu.Lock()
	defer d.versionMu.Unlock()
	return d.activeVersion
}

// PendingVersion returns the installed-but-not-activated version, if any.
func (d *Dispatcher) PendingVersion() string {
	d.versionMu.Lock()
	defer d.versionMu.Unlock()
	return d.pendingVersion
}

func (d *Dispatcher) submit(ctx context.Context, ev *event) error {
	ev.done = make(chan error, 1)
	select {
	case d.ch <- ev:
	case <-d.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ev.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.ch:
			ev.done <- d.handle(ev)
		case <-d.quit:
			return
		}
	}
}

// handle runs one event with panic recovery so a single bad payload can
// never take the worker down.
func (d *Dispatcher) handle(ev *event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notifier: handler panicked", "kind", ev.kind, "panic", r)
			err = errors.New("notifier: handler panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
	defer cancel()

	switch ev.kind {
	case eventPush:
		return d.handlePush(ctx, ev.payload)
	case eventClick:
		return d.handleClick(ctx, ev.record)
	case eventDismiss:
		d.logger.Debug("notification dismissed", "tag", ev.tag)
		return nil
	case eventControl:
		return d.handleControl(ev.control)
	case eventLifecycle:
		d.versionMu.Lock()
		d.pendingVersion = ev.version
		d.versionMu.Unlock()
		d.logger.Info("worker version installed, awaiting activation", "version", ev.version)
		return nil
	}
	return nil
}

func (d *Dispatcher) handlePush(ctx context.Context, payload []byte) error {
	rec := Normalize(payload)

	entry := storage.NotificationEntry{
		Tag:       rec.Tag,
		Title:     rec.Title,
		Body:      rec.Body,
		NotifType: rec.Data.Type,
		Route:     d.resolver.Resolve(rec.Data),
		Status:    storage.StatusDisplayed,
		CreatedAt: time.Now().UTC(),
	}

	showErr := d.platform.Apply(ctx, ShowNotification{Record: rec})
	switch {
	case showErr == nil:
	case errors.Is(showErr, ErrNoWindows):
		// No surface to display on. The record is preserved for the
		// fallback digest rather than dropped.
		entry.Status = storage.StatusQueued
		showErr = nil
	default:
		entry.Status = storage.StatusFailed
		entry.ErrorMsg = showErr.Error()
		d.logger.Error("notifier: failed to display notification", "tag", rec.Tag, "error", showErr)
	}

	if d.store != nil {
		if _, logErr := d.store.Log(ctx, entry); logErr != nil {
			d.logger.Error("notifier: failed to persist notification history", "tag", rec.Tag, "error", logErr)
		}
	}
	return showErr
}

func (d *Dispatcher) handleClick(ctx context.Context, rec Record) error {
	windows, err := d.platform.Windows(ctx)
	if err != nil {
		// Enumeration failure degrades to opening a fresh window.
		d.logger.Warn("notifier: window enumeration failed", "error", err)
		windows = nil
	}

	effects := decideClick(rec, windows, d.platform.Origin(), d.resolver)
	for _, eff := range effects {
		applyErr := d.platform.Apply(ctx, eff)
		if applyErr == nil {
			continue
		}
		if focus, ok := eff.(FocusWindow); ok {
			// The window went away between enumeration and focus. Fall back
			// to opening a new one so the click still lands somewhere.
			d.logger.Warn("notifier: focus failed, opening new window",
				"window_id", focus.WindowID, "error", applyErr)
			if openErr := d.platform.Apply(ctx, OpenWindow{URL: focus.NavigateTo}); openErr != nil {
				d.logger.Error("notifier: fallback open failed", "error", openErr)
			}
			continue
		}
		d.logger.Error("notifier: effect failed", "error", applyErr)
	}
	return nil
}

// handleControl applies a SKIP_WAITING message: a pending version becomes
// active; with nothing pending the message is a no-op.
func (d *Dispatcher) handleControl(msg ControlMessage) error {
	if msg.Type != ControlSkipWaiting {
		d.logger.Debug("notifier: ignoring unknown control message", "type", msg.Type)
		return nil
	}

	d.versionMu.Lock()
	defer d.versionMu.Unlock()
	if d.pendingVersion == "" {
		return nil
	}
	d.activeVersion = d.pendingVersion
	d.pendingVersion = ""
	d.logger.Info("worker version activated", "version", d.activeVersion)
	return nil
}
