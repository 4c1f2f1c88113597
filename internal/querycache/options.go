package querycache

import "time"

// Defaults applied when an Options field is zero.
const (
	defaultStaleTime    = 30 * time.Second
	defaultGCIdle       = 5 * time.Minute
	defaultFetchTimeout = 15 * time.Second
	defaultRetryBase    = 500 * time.Millisecond
)

// Options configures the Coordinator. The zero value is usable; zero fields
// take the package defaults above.
type Options struct {
	// StaleTime is how long successful data is served without refetching.
	StaleTime time.Duration

	// GCIdle is how long a zero-subscriber entry is kept before eviction.
	GCIdle time.Duration

	// FetchTimeout bounds a single fetch attempt. An attempt exceeding it
	// fails with a TimeoutError independent of the retry policy.
	FetchTimeout time.Duration

	// RetryCount is the number of retries after the first failed attempt.
	// Retries back off exponentially starting at RetryBase.
	RetryCount int

	// RetryBase is the initial retry backoff delay.
	RetryBase time.Duration

	// Debug makes internal consistency violations panic instead of being
	// logged. Meant for development builds only.
	Debug bool
}

func (o Options) withDefaults() Options {
	if o.StaleTime <= 0 {
		o.StaleTime = defaultStaleTime
	}
	if o.GCIdle <= 0 {
		o.GCIdle = defaultGCIdle
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = defaultFetchTimeout
	}
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	return o
}

// QueryOptions tunes a single Query call. Zero fields inherit the
// Coordinator's Options; a negative RetryCount disables retries entirely.
type QueryOptions struct {
	StaleTime    time.Duration
	RetryCount   int
	FetchTimeout time.Duration

	// Refetch triggers. All three are on by default; each flag opts the
	// entry out of one trigger independently. NoRefetchOnMount suppresses
	// the fetch Subscribe starts for a stale entry; the other two suppress
	// RefreshOnFocus and RefreshOnReconnect for the entry.
	NoRefetchOnMount     bool
	NoRefetchOnFocus     bool
	NoRefetchOnReconnect bool
}

// Metrics receives cache lifecycle counters. Implementations must be safe
// for concurrent use. A nil Metrics disables instrumentation.
type Metrics interface {
	CacheHit()
	CacheMiss()
	FetchStarted()
	FetchDiscarded()
	EntryEvicted()
}
