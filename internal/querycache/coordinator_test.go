package querycache_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralboost/boostd/internal/querycache"
)

func newCoordinator(t *testing.T, opts querycache.Options) *querycache.Coordinator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := querycache.New(opts, logger, nil)
	t.Cleanup(c.Close)
	return c
}

func fixed(v any) querycache.FetchFunc {
	return func(_ context.Context) (any, error) {
		return v, nil
	}
}

func TestQuery_FetchesAndCaches(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: time.Minute})

	var calls int32
	fetch := func(_ context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "payload", nil
	}

	key := querycache.NewKey("tasks", 1)
	data, err := c.Query(context.Background(), key, fetch, querycache.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "payload", data)

	// Second call within the stale window is a cache hit.
	data, err = c.Query(context.Background(), key, fetch, querycache.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "payload", data)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestQuery_DeduplicatesConcurrentFetches(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: time.Minute})

	var calls int32
	release := make(chan struct{})
	fetch := func(_ context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 42, nil
	}

	key := querycache.NewKey("wallet")
	const n = 8
	results := make([]any, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := c.Query(context.Background(), key, fetch, querycache.QueryOptions{})
			require.NoError(t, err)
			results[i] = data
		}(i)
	}

	// Let all callers attach to the single in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, 42, r)
	}
}

func TestQuery_PerKeyConcurrency(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: time.Minute})

	slowRelease := make(chan struct{})
	slow := func(_ context.Context) (any, error) {
		<-slowRelease
		return "slow", nil
	}
	defer close(slowRelease)

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_, _ = c.Query(context.Background(), querycache.NewKey("slow"), slow, querycache.QueryOptions{})
	}()

	// A fast fetch for a different key resolves while the slow one blocks.
	data, err := c.Query(context.Background(), querycache.NewKey("fast"), fixed("fast"), querycache.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fast", data)

	select {
	case <-slowDone:
		t.Fatal("slow fetch should still be blocked")
	default:
	}
}

func TestQuery_ErrorStoredAndReturned(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: time.Minute, RetryCount: -1})

	boom := errors.New("backend down")
	fetch := func(_ context.Context) (any, error) {
		return nil, boom
	}

	_, err := c.Query(context.Background(), querycache.NewKey("tasks"), fetch, querycache.QueryOptions{RetryCount: -1})
	require.ErrorIs(t, err, boom)
}

func TestQuery_RetriesBeforeSettlingError(t *testing.T) {
	c := newCoordinator(t, querycache.Options{
		StaleTime:  time.Minute,
		RetryCount: 2,
		RetryBase:  time.Millisecond,
	})

	var calls int32
	fetch := func(_ context.Context) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return nil, errors.New("transient")
		}
		return "recovered", nil
	}

	data, err := c.Query(context.Background(), querycache.NewKey("flaky"), fetch, querycache.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", data)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestQuery_TimeoutProducesTimeoutError(t *testing.T) {
	c := newCoordinator(t, querycache.Options{
		StaleTime:    time.Minute,
		FetchTimeout: 20 * time.Millisecond,
	})

	stuck := func(_ context.Context) (any, error) {
		select {} // never returns
	}

	_, err := c.Query(context.Background(), querycache.NewKey("stuck"), stuck, querycache.QueryOptions{RetryCount: -1})
	var te *querycache.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 20*time.Millisecond, te.After)
}

func TestQuery_CallerContextCancelDoesNotAbortFetch(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: time.Minute})

	fetched := make(chan struct{})
	release := make(chan struct{})
	fetch := func(_ context.Context) (any, error) {
		<-release
		close(fetched)
		return "warm", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Query(ctx, querycache.NewKey("warmed"), fetch, querycache.QueryOptions{})
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	// The abandoned fetch still completes and warms the cache.
	close(release)
	<-fetched
	time.Sleep(20 * time.Millisecond)

	var calls int32
	counting := func(_ context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "cold", nil
	}
	data, err := c.Query(context.Background(), querycache.NewKey("warmed"), counting, querycache.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "warm", data)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestInvalidate_PrefixCascade(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: time.Minute})

	var calls int32
	fetch := func(_ context.Context) (any, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	keys := []querycache.Key{
		querycache.NewKey("tasks"),
		querycache.NewKey("tasks", 1),
		querycache.NewKey("tasks", 2),
		querycache.NewKey("wallet"),
	}
	for _, k := range keys {
		_, err := c.Query(context.Background(), k, fetch, querycache.QueryOptions{})
		require.NoError(t, err)
	}
	require.EqualValues(t, 4, atomic.LoadInt32(&calls))

	// Subscribe to one of the tasks entries so it refetches eagerly.
	sub, err := c.Subscribe(querycache.NewKey("tasks", 1), fetch, querycache.QueryOptions{})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	drain(sub)

	c.Invalidate(querycache.NewKey("tasks"))

	// The subscribed entry refetched immediately; the others only go stale.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 5
	}, time.Second, 10*time.Millisecond)

	// A Query against a stale, unsubscribed entry refetches lazily.
	_, err = c.Query(context.Background(), querycache.NewKey("tasks", 2), fetch, querycache.QueryOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 6, atomic.LoadInt32(&calls))

	// The untouched prefix stays fresh.
	_, err = c.Query(context.Background(), querycache.NewKey("wallet"), fetch, querycache.QueryOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 6, atomic.LoadInt32(&calls))
}

func TestGenerationOrdering_StaleCompletionDiscarded(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: time.Minute})

	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	var generation int32

	fetch := func(_ context.Context) (any, error) {
		n := atomic.AddInt32(&generation, 1)
		if n == 1 {
			close(firstStarted)
			<-releaseFirst
			return "old", nil
		}
		return "new", nil
	}

	key := querycache.NewKey("tasks")
	sub, err := c.Subscribe(key, fetch, querycache.QueryOptions{})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	<-firstStarted
	// Invalidation supersedes the in-flight fetch with a newer generation.
	c.Invalidate(key)

	require.Eventually(t, func() bool {
		data, qerr := c.Query(context.Background(), key, fetch, querycache.QueryOptions{})
		return qerr == nil && data == "new"
	}, time.Second, 10*time.Millisecond)

	// Now let the superseded fetch finish. Its result must not win.
	close(releaseFirst)
	time.Sleep(50 * time.Millisecond)

	data, err := c.Query(context.Background(), key, fetch, querycache.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "new", data)
}

func TestSubscribe_DeliversSnapshots(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: time.Minute})

	key := querycache.NewKey("membership")
	sub, err := c.Subscribe(key, fixed("gold"), querycache.QueryOptions{})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool {
		select {
		case snap := <-sub.C():
			return snap.Status == querycache.StatusSuccess && snap.Data == "gold"
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestUnsubscribe_SchedulesEviction(t *testing.T) {
	c := newCoordinator(t, querycache.Options{
		StaleTime: time.Minute,
		GCIdle:    30 * time.Millisecond,
	})

	key := querycache.NewKey("ephemeral")
	sub, err := c.Subscribe(key, fixed(1), querycache.QueryOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.Stats().Entries == 1
	}, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()

	require.Eventually(t, func() bool {
		return c.Stats().Entries == 0
	}, time.Second, 5*time.Millisecond)
}

func TestResubscribe_CancelsEviction(t *testing.T) {
	c := newCoordinator(t, querycache.Options{
		StaleTime: time.Minute,
		GCIdle:    50 * time.Millisecond,
	})

	key := querycache.NewKey("kept")
	sub, err := c.Subscribe(key, fixed(1), querycache.QueryOptions{})
	require.NoError(t, err)
	sub.Unsubscribe()

	sub2, err := c.Subscribe(key, fixed(1), querycache.QueryOptions{})
	require.NoError(t, err)
	defer sub2.Unsubscribe()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestSubscribe_NoRefetchOnMount(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: time.Minute})

	var calls int32
	fetch := func(_ context.Context) (any, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	sub, err := c.Subscribe(querycache.NewKey("tasks"), fetch, querycache.QueryOptions{NoRefetchOnMount: true})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// The initial snapshot arrives, but no fetch starts for the stale entry.
	snap := <-sub.C()
	assert.Equal(t, querycache.StatusIdle, snap.Status)
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestRefreshOnFocus_SkipsOptedOutEntries(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: 20 * time.Millisecond})

	var focusable, optedOut int32
	fetchA := func(_ context.Context) (any, error) {
		return atomic.AddInt32(&focusable, 1), nil
	}
	fetchB := func(_ context.Context) (any, error) {
		return atomic.AddInt32(&optedOut, 1), nil
	}

	subA, err := c.Subscribe(querycache.NewKey("tasks"), fetchA, querycache.QueryOptions{})
	require.NoError(t, err)
	defer subA.Unsubscribe()
	subB, err := c.Subscribe(querycache.NewKey("wallet"), fetchB, querycache.QueryOptions{NoRefetchOnFocus: true})
	require.NoError(t, err)
	defer subB.Unsubscribe()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&focusable) == 1 && atomic.LoadInt32(&optedOut) == 1
	}, time.Second, 5*time.Millisecond)

	// Both entries go stale; only the non-opted-out one refetches on focus.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, c.RefreshOnFocus())
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&focusable) == 2
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&optedOut))
}

func TestRefreshOnReconnect_SkipsOptedOutEntries(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: 20 * time.Millisecond})

	var calls int32
	fetch := func(_ context.Context) (any, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	sub, err := c.Subscribe(querycache.NewKey("referrals"), fetch, querycache.QueryOptions{NoRefetchOnReconnect: true})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, c.RefreshOnReconnect())

	// The opt-out is per trigger: the periodic refresh still fetches it.
	assert.Equal(t, 1, c.RefreshSubscribed())
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestQuery_CloseWhileWaitingReturnsErrClosed(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := querycache.New(querycache.Options{StaleTime: time.Minute}, logger, nil)

	release := make(chan struct{})
	fetch := func(_ context.Context) (any, error) {
		<-release
		return "late", nil
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Query(context.Background(), querycache.NewKey("doomed"), fetch, querycache.QueryOptions{})
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return c.Stats().Loading == 1
	}, time.Second, 5*time.Millisecond)

	c.Close()
	close(release)
	require.ErrorIs(t, <-errCh, querycache.ErrClosed)
}

func TestClose_RejectsFurtherOperations(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := querycache.New(querycache.Options{}, logger, nil)
	c.Close()

	_, err := c.Query(context.Background(), querycache.NewKey("x"), fixed(1), querycache.QueryOptions{})
	assert.ErrorIs(t, err, querycache.ErrClosed)

	_, err = c.Subscribe(querycache.NewKey("x"), fixed(1), querycache.QueryOptions{})
	assert.ErrorIs(t, err, querycache.ErrClosed)

	// Close is idempotent.
	c.Close()
}

func TestSweepIdle_EvictsOnlyIdleEntries(t *testing.T) {
	c := newCoordinator(t, querycache.Options{
		StaleTime: time.Minute,
		GCIdle:    time.Nanosecond,
	})

	_, err := c.Query(context.Background(), querycache.NewKey("idle"), fixed(1), querycache.QueryOptions{})
	require.NoError(t, err)

	sub, err := c.Subscribe(querycache.NewKey("active"), fixed(2), querycache.QueryOptions{})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool {
		return c.Stats().Loading == 0
	}, time.Second, 5*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	c.SweepIdle()

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 1, stats.Subscribers)
}

func drain(sub *querycache.Subscription) {
	for {
		select {
		case <-sub.C():
		default:
			return
		}
	}
}
