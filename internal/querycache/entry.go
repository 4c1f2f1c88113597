package querycache

import (
	"context"
	"time"
)

// Status is the lifecycle state of a cache entry.
//
// Transitions: Idle → Loading → {Success, Error}; Success → Loading on
// invalidation or refetch; Error → Loading on retry. Nothing leaves Loading
// except to Success or Error.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Snapshot is the read-only view of a cache entry handed to subscribers.
// The coordinator exclusively owns the underlying entry; consumers must not
// mutate Data.
type Snapshot struct {
	Key           Key
	Status        Status
	Data          any
	Err           error
	LastUpdatedAt time.Time
	Stale         bool
}

// FetchFunc produces the resource for one key. It is invoked at most once
// per key at a time regardless of how many callers are waiting. The context
// carries the per-attempt fetch timeout.
type FetchFunc func(ctx context.Context) (any, error)

// entry is the internal cache record for one key. All fields are guarded by
// the Coordinator's mutex.
type entry struct {
	key           Key
	status        Status
	data          any
	err           error
	lastUpdatedAt time.Time
	stale         bool
	staleTime     time.Duration

	// generation increments every time a fetch starts for this key.
	// Completions carrying an older generation are discarded.
	generation uint64

	// inflight is non-nil while a fetch is running. Waiters block on done.
	inflight *inflightFetch

	// fetchFn is the most recent producer, kept so invalidation can refetch
	// for active subscribers without a new Query call.
	fetchFn FetchFunc
	opts    QueryOptions

	subscribers map[uint64]*Subscription
	gcTimer     *time.Timer
}

// inflightFetch tracks a single running fetch for a key.
type inflightFetch struct {
	generation uint64
	done       chan struct{} // closed when the fetch settles
}

func (e *entry) fresh(now time.Time) bool {
	if e.status != StatusSuccess || e.stale {
		return false
	}
	return now.Sub(e.lastUpdatedAt) < e.staleTime
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Key:           e.key,
		Status:        e.status,
		Data:          e.data,
		Err:           e.err,
		LastUpdatedAt: e.lastUpdatedAt,
		Stale:         e.stale,
	}
}

// notifyLocked pushes the current snapshot to every subscriber channel.
// Channels hold a single latest-wins snapshot: a slow consumer observes the
// newest state, never a backlog. Caller must hold the coordinator mutex.
func (e *entry) notifyLocked() {
	snap := e.snapshot()
	for _, sub := range e.subscribers {
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}

// Subscription is a live read handle on one cache entry. Snapshots arrive on
// C after every state change. Callers must Unsubscribe when done so the
// entry becomes eligible for garbage collection.
type Subscription struct {
	id  uint64
	key Key
	ch  chan Snapshot
	c   *Coordinator
}

// C returns the snapshot delivery channel.
func (s *Subscription) C() <-chan Snapshot { return s.ch }

// Key returns the key this subscription observes.
func (s *Subscription) Key() Key { return s.key }

// Unsubscribe detaches the handle. An in-flight fetch for the key is allowed
// to finish for the benefit of other subscribers, but no further snapshots
// are delivered here.
func (s *Subscription) Unsubscribe() {
	s.c.unsubscribe(s)
}
