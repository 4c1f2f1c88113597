// Package querycache provides a keyed read-through cache with request
// deduplication and a mutation pathway that keeps cached reads consistent
// with server writes.
//
// One Coordinator instance serves the whole application. It is constructed
// explicitly at startup and passed to consumers; there is no package-level
// singleton. Close tears it down and clears all entries.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by operations on a Coordinator after Close.
var ErrClosed = errors.New("querycache: coordinator is closed")

// TimeoutError reports that a fetch attempt exceeded the configured
// fetch timeout. It is stored on the entry like any other fetch error.
type TimeoutError struct {
	Key   Key
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("querycache: fetch for %s timed out after %s", e.Key, e.After)
}

// ConsistencyViolation indicates a generation-counter or invalidation
// ordering bug inside the coordinator. It should be impossible; in debug
// mode it panics so the bug is caught immediately.
type ConsistencyViolation struct {
	Key    Key
	Detail string
}

func (e *ConsistencyViolation) Error() string {
	return fmt.Sprintf("querycache: consistency violation for %s: %s", e.Key, e.Detail)
}

// Stats is a point-in-time summary of the cache, served by the local API.
type Stats struct {
	Entries     int `json:"entries"`
	Subscribers int `json:"subscribers"`
	Loading     int `json:"loading"`
	Errored     int `json:"errored"`
}

// Coordinator owns the entry map. All entry state is guarded by mu; the
// check for an in-flight fetch and the decision to start one happen under
// the same lock acquisition, so concurrent callers can never both start a
// fetch for one key.
type Coordinator struct {
	mu      sync.Mutex
	entries map[string]*entry
	opts    Options
	logger  *slog.Logger
	metrics Metrics
	nextSub uint64
	closed  bool
}

// New creates a Coordinator. logger must not be nil; metrics may be nil.
func New(opts Options, logger *slog.Logger, metrics Metrics) *Coordinator {
	return &Coordinator{
		entries: make(map[string]*entry),
		opts:    opts.withDefaults(),
		logger:  logger,
		metrics: metrics,
	}
}

// Close clears all entries and stops pending eviction timers. Subscriber
// channels are closed; further calls return ErrClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, e := range c.entries {
		if e.gcTimer != nil {
			e.gcTimer.Stop()
		}
		for _, sub := range e.subscribers {
			close(sub.ch)
		}
		delete(c.entries, id)
	}
}

// Query resolves the resource for key. Fresh cached data is returned without
// invoking fetchFn. If a fetch for key is already in flight the caller
// attaches to it; otherwise a new fetch starts. ctx bounds only this
// caller's wait — an abandoned fetch still completes to warm the cache.
func (c *Coordinator) Query(ctx context.Context, key Key, fetchFn FetchFunc, opts QueryOptions) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	e := c.entryLocked(key)
	e.fetchFn = fetchFn
	e.opts = opts
	e.staleTime = c.staleTime(opts)

	if e.fresh(time.Now()) {
		data := e.data
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.CacheHit()
		}
		return data, nil
	}

	if c.metrics != nil {
		c.metrics.CacheMiss()
	}

	var done chan struct{}
	if e.inflight != nil {
		done = e.inflight.done
	} else {
		done = c.startFetchLocked(e)
	}

	// Wait for the fetch to settle. If it was superseded by a newer
	// generation, follow the newer fetch instead of serving its leftovers.
	for {
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		if e.inflight == nil {
			break
		}
		done = e.inflight.done
	}
	defer c.mu.Unlock()

	if e.status == StatusError {
		return nil, e.err
	}
	return e.data, nil
}

// Subscribe attaches a live handle to key. The current snapshot is delivered
// immediately; if the entry is absent or stale and fetchFn is non-nil, a
// fetch starts unless the entry opted out with NoRefetchOnMount.
func (c *Coordinator) Subscribe(key Key, fetchFn FetchFunc, opts QueryOptions) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	e := c.entryLocked(key)
	if fetchFn != nil {
		e.fetchFn = fetchFn
		e.opts = opts
		e.staleTime = c.staleTime(opts)
	}

	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}

	c.nextSub++
	sub := &Subscription{
		id:  c.nextSub,
		key: key,
		ch:  make(chan Snapshot, 1),
		c:   c,
	}
	e.subscribers[sub.id] = sub
	sub.ch <- e.snapshot()

	if !e.fresh(time.Now()) && e.inflight == nil && e.fetchFn != nil && !e.opts.NoRefetchOnMount {
		c.startFetchLocked(e)
	}
	return sub, nil
}

// Invalidate marks every entry whose key starts with prefix as stale.
// Entries with active subscribers refetch immediately; the rest refetch
// lazily on their next Query.
func (c *Coordinator) Invalidate(prefix Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.invalidateLocked(prefix)
}

func (c *Coordinator) invalidateLocked(prefix Key) {
	for _, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		e.stale = true
		e.notifyLocked()
		// Subscribed entries refetch immediately. This supersedes any fetch
		// already in flight: the new generation wins and the old completion
		// is discarded.
		if len(e.subscribers) > 0 && e.fetchFn != nil {
			c.startFetchLocked(e)
		}
	}
}

// Stats reports a snapshot of the entry map.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Entries: len(c.entries)}
	for _, e := range c.entries {
		s.Subscribers += len(e.subscribers)
		switch e.status {
		case StatusLoading:
			s.Loading++
		case StatusError:
			s.Errored++
		}
	}
	return s
}

// entryLocked returns the entry for key, creating an Idle one if absent.
func (c *Coordinator) entryLocked(key Key) *entry {
	id := key.id()
	e, ok := c.entries[id]
	if !ok {
		e = &entry{
			key:         key,
			status:      StatusIdle,
			staleTime:   c.opts.StaleTime,
			subscribers: make(map[uint64]*Subscription),
		}
		c.entries[id] = e
	}
	return e
}

func (c *Coordinator) staleTime(opts QueryOptions) time.Duration {
	if opts.StaleTime > 0 {
		return opts.StaleTime
	}
	return c.opts.StaleTime
}

// startFetchLocked transitions the entry to Loading and launches the fetch
// goroutine. The caller must hold mu; the in-flight check and the start are
// atomic under that lock.
func (c *Coordinator) startFetchLocked(e *entry) chan struct{} {
	e.generation++
	e.status = StatusLoading
	inf := &inflightFetch{
		generation: e.generation,
		done:       make(chan struct{}),
	}
	e.inflight = inf
	e.notifyLocked()

	if c.metrics != nil {
		c.metrics.FetchStarted()
	}

	fetchFn := e.fetchFn
	opts := e.opts
	go c.runFetch(e, inf, fetchFn, opts)
	return inf.done
}

// runFetch performs the fetch with retries and applies the outcome, unless
// a newer generation has superseded it.
func (c *Coordinator) runFetch(e *entry, inf *inflightFetch, fetchFn FetchFunc, opts QueryOptions) {
	data, err := c.fetchWithRetry(e.key, fetchFn, opts)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		close(inf.done)
		return
	}

	if inf.generation > e.generation {
		c.violation(e.key, "completion generation ahead of entry generation")
	}
	if inf.generation < e.generation {
		// A newer fetch was started while this one ran. Its result wins;
		// this one is discarded.
		if c.metrics != nil {
			c.metrics.FetchDiscarded()
		}
		close(inf.done)
		return
	}

	if err != nil {
		e.status = StatusError
		e.err = err
	} else {
		e.status = StatusSuccess
		e.data = data
		e.err = nil
		e.stale = false
		e.lastUpdatedAt = time.Now()
	}
	e.inflight = nil
	e.notifyLocked()
	close(inf.done)

	if len(e.subscribers) == 0 {
		c.scheduleEvictionLocked(e)
	}
}

// fetchWithRetry runs fetchFn up to 1+retryCount times with exponential
// backoff. Each attempt is bounded by the fetch timeout; an attempt that
// outlives it counts as failed with a TimeoutError even if fetchFn never
// returns.
func (c *Coordinator) fetchWithRetry(key Key, fetchFn FetchFunc, opts QueryOptions) (any, error) {
	retries := c.opts.RetryCount
	if opts.RetryCount != 0 {
		retries = opts.RetryCount
	}
	if retries < 0 {
		retries = 0
	}
	timeout := c.opts.FetchTimeout
	if opts.FetchTimeout > 0 {
		timeout = opts.FetchTimeout
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			time.Sleep(c.opts.RetryBase << (attempt - 1))
		}

		data, err := c.fetchOnce(key, fetchFn, timeout)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// fetchOnce runs a single attempt under its own deadline. A fetchFn that
// ignores its context is abandoned when the watchdog fires; its eventual
// result is dropped.
func (c *Coordinator) fetchOnce(key Key, fetchFn FetchFunc, timeout time.Duration) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type result struct {
		data any
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := fetchFn(ctx)
		ch <- result{data: data, err: err}
	}()

	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		return nil, &TimeoutError{Key: key, After: timeout}
	}
}

// unsubscribe detaches a handle and schedules eviction when the entry has
// no subscribers left.
func (c *Coordinator) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	e, ok := c.entries[sub.key.id()]
	if !ok {
		return
	}
	if _, ok := e.subscribers[sub.id]; !ok {
		return
	}
	delete(e.subscribers, sub.id)
	close(sub.ch)
	if len(e.subscribers) == 0 && e.inflight == nil {
		c.scheduleEvictionLocked(e)
	}
}

// scheduleEvictionLocked arms the idle-eviction timer for a zero-subscriber
// entry. Re-subscribing before it fires cancels the eviction.
func (c *Coordinator) scheduleEvictionLocked(e *entry) {
	if e.gcTimer != nil {
		e.gcTimer.Stop()
	}
	id := e.key.id()
	e.gcTimer = time.AfterFunc(c.opts.GCIdle, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		cur, ok := c.entries[id]
		if !ok || cur != e {
			return
		}
		if len(cur.subscribers) > 0 || cur.inflight != nil {
			return
		}
		delete(c.entries, id)
		if c.metrics != nil {
			c.metrics.EntryEvicted()
		}
	})
}

// SweepIdle immediately evicts zero-subscriber entries whose data is older
// than the idle window. Used by the periodic maintenance job as a safety
// net behind the per-entry timers.
func (c *Coordinator) SweepIdle() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	evicted := 0
	cutoff := time.Now().Add(-c.opts.GCIdle)
	for id, e := range c.entries {
		if len(e.subscribers) > 0 || e.inflight != nil {
			continue
		}
		if e.lastUpdatedAt.After(cutoff) {
			continue
		}
		if e.gcTimer != nil {
			e.gcTimer.Stop()
		}
		delete(c.entries, id)
		evicted++
		if c.metrics != nil {
			c.metrics.EntryEvicted()
		}
	}
	return evicted
}

// refreshTrigger identifies what prompted a subscribed-entry refresh pass.
type refreshTrigger int

const (
	triggerInterval refreshTrigger = iota
	triggerFocus
	triggerReconnect
)

// RefreshSubscribed refetches every stale entry that still has active
// subscribers. Driven by the periodic refresh job.
func (c *Coordinator) RefreshSubscribed() int {
	return c.refreshSubscribed(triggerInterval)
}

// RefreshOnFocus refetches stale subscribed entries when a window regains
// focus. Entries that set NoRefetchOnFocus are skipped.
func (c *Coordinator) RefreshOnFocus() int {
	return c.refreshSubscribed(triggerFocus)
}

// RefreshOnReconnect refetches stale subscribed entries after the push
// stream re-establishes its connection, on the assumption that updates were
// missed while offline. Entries that set NoRefetchOnReconnect are skipped.
func (c *Coordinator) RefreshOnReconnect() int {
	return c.refreshSubscribed(triggerReconnect)
}

func (c *Coordinator) refreshSubscribed(trigger refreshTrigger) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	started := 0
	now := time.Now()
	for _, e := range c.entries {
		if len(e.subscribers) == 0 || e.inflight != nil || e.fetchFn == nil {
			continue
		}
		if e.fresh(now) {
			continue
		}
		switch trigger {
		case triggerFocus:
			if e.opts.NoRefetchOnFocus {
				continue
			}
		case triggerReconnect:
			if e.opts.NoRefetchOnReconnect {
				continue
			}
		}
		c.startFetchLocked(e)
		started++
	}
	return started
}

// violation reports an internal invariant breach. Debug builds panic so the
// bug surfaces in development; otherwise it is logged loudly.
func (c *Coordinator) violation(key Key, detail string) {
	v := &ConsistencyViolation{Key: key, Detail: detail}
	if c.opts.Debug {
		panic(v)
	}
	c.logger.Error("cache consistency violation", "key", key.String(), "detail", detail)
}
