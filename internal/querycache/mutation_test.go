package querycache_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralboost/boostd/internal/querycache"
)

func TestMutate_RunFailureAppliesNoEffects(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: time.Minute})

	var calls int32
	fetch := func(_ context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return []string{"a", "b"}, nil
	}

	key := querycache.NewKey("tasks", 1)
	before, err := c.Query(context.Background(), key, fetch, querycache.QueryOptions{})
	require.NoError(t, err)

	boom := errors.New("rejected")
	desc := querycache.Descriptor{
		Run: func(_ context.Context, _ any) (any, error) {
			return nil, boom
		},
		OnSuccess: []querycache.Effect{
			querycache.Invalidate(querycache.NewKey("tasks")),
			querycache.PatchWithResult(querycache.NewKey("tasks"), func(existing, _ any) any {
				return nil
			}),
		},
	}

	_, err = c.Mutate(context.Background(), desc, "input")
	require.ErrorIs(t, err, boom)

	// Cache state is untouched: same data, no refetch.
	after, err := c.Query(context.Background(), key, fetch, querycache.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestMutate_InvalidateEffect(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: time.Minute})

	var calls int32
	fetch := func(_ context.Context) (any, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	key := querycache.NewKey("complaints", 1)
	_, err := c.Query(context.Background(), key, fetch, querycache.QueryOptions{})
	require.NoError(t, err)

	desc := querycache.Descriptor{
		Run: func(_ context.Context, input any) (any, error) {
			return input, nil
		},
		OnSuccess: []querycache.Effect{
			querycache.Invalidate(querycache.NewKey("complaints")),
		},
	}

	result, err := c.Mutate(context.Background(), desc, "new complaint")
	require.NoError(t, err)
	assert.Equal(t, "new complaint", result)

	// The entry went stale, so the next read refetches.
	_, err = c.Query(context.Background(), key, fetch, querycache.QueryOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestMutate_PatchWithResultAvoidsRefetch(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: time.Minute})

	var calls int32
	fetch := func(_ context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return []string{"task-1", "task-2", "task-3"}, nil
	}

	key := querycache.NewKey("tasks", 1)
	_, err := c.Query(context.Background(), key, fetch, querycache.QueryOptions{})
	require.NoError(t, err)

	// Deleting a row patches it out of every cached tasks page in place.
	desc := querycache.Descriptor{
		Run: func(_ context.Context, input any) (any, error) {
			return input, nil // backend returns the deleted id
		},
		OnSuccess: []querycache.Effect{
			querycache.PatchWithResult(querycache.NewKey("tasks"), func(existing, result any) any {
				items, ok := existing.([]string)
				if !ok {
					return existing
				}
				out := make([]string, 0, len(items))
				for _, it := range items {
					if it != result {
						out = append(out, it)
					}
				}
				return out
			}),
		},
	}

	_, err = c.Mutate(context.Background(), desc, "task-2")
	require.NoError(t, err)

	data, err := c.Query(context.Background(), key, fetch, querycache.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1", "task-3"}, data)
	// Patch applied without a network round-trip.
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestMutate_EffectsApplyInOrder(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: time.Minute})

	key := querycache.NewKey("wallet")
	_, err := c.Query(context.Background(), key, fixed(100), querycache.QueryOptions{})
	require.NoError(t, err)

	desc := querycache.Descriptor{
		Run: func(_ context.Context, _ any) (any, error) {
			return 25, nil
		},
		OnSuccess: []querycache.Effect{
			querycache.PatchWithResult(key, func(existing, result any) any {
				return existing.(int) - result.(int)
			}),
			querycache.PatchWithResult(key, func(existing, result any) any {
				return existing.(int) * 2
			}),
		},
	}

	_, err = c.Mutate(context.Background(), desc, nil)
	require.NoError(t, err)

	data, err := c.Query(context.Background(), key, fixed(100), querycache.QueryOptions{})
	require.NoError(t, err)
	// (100 - 25) * 2, not 100*2 - 25: ordered application.
	assert.Equal(t, 150, data)
}

func TestMutate_NoRetry(t *testing.T) {
	c := newCoordinator(t, querycache.Options{StaleTime: time.Minute, RetryCount: 3})

	var runs int32
	desc := querycache.Descriptor{
		Run: func(_ context.Context, _ any) (any, error) {
			atomic.AddInt32(&runs, 1)
			return nil, errors.New("write failed")
		},
	}

	_, err := c.Mutate(context.Background(), desc, nil)
	require.Error(t, err)
	// The coordinator's read retry policy never applies to writes.
	assert.EqualValues(t, 1, atomic.LoadInt32(&runs))
}
