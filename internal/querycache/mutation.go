package querycache

import "context"

// PatchFunc rewrites a cached value using the result of a successful
// mutation. existing is the entry's current data; the returned value
// replaces it without a network round-trip.
type PatchFunc func(existing any, result any) any

// effectKind distinguishes the two supported cache effects.
type effectKind int

const (
	effectInvalidate effectKind = iota
	effectPatch
)

// Effect is one declarative cache side effect of a successful mutation,
// keyed by prefix. Effects are data, not closures scattered at call sites,
// so their ordering and atomicity are testable.
type Effect struct {
	kind   effectKind
	prefix Key
	patch  PatchFunc
}

// Invalidate marks every entry whose key starts with prefix as stale.
// Actively subscribed entries refetch immediately.
func Invalidate(prefix Key) Effect {
	return Effect{kind: effectInvalidate, prefix: prefix}
}

// PatchWithResult applies fn to the cached data of every Success entry
// whose key starts with prefix.
func PatchWithResult(prefix Key, fn PatchFunc) Effect {
	return Effect{kind: effectPatch, prefix: prefix, patch: fn}
}

// RunFunc performs the write against the backend.
type RunFunc func(ctx context.Context, input any) (any, error)

// Descriptor describes a mutation: the write itself plus the ordered cache
// effects applied after it succeeds.
type Descriptor struct {
	Run       RunFunc
	OnSuccess []Effect
}

// Mutate invokes the descriptor's write. On success the effects are applied
// in order under the coordinator's lock, so a concurrent Query observes
// either the full pre-mutation or the full post-mutation cache state. On
// failure no effect is applied and the error is returned to the caller.
//
// Mutations are never retried here: a write without an idempotency
// guarantee must not be silently reissued.
func (c *Coordinator) Mutate(ctx context.Context, desc Descriptor, input any) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Unlock()

	result, err := desc.Run(ctx, input)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return result, nil
	}
	for _, eff := range desc.OnSuccess {
		switch eff.kind {
		case effectInvalidate:
			c.invalidateLocked(eff.prefix)
		case effectPatch:
			c.patchLocked(eff.prefix, eff.patch, result)
		}
	}
	return result, nil
}

// patchLocked rewrites every matching Success entry's data in place.
func (c *Coordinator) patchLocked(prefix Key, fn PatchFunc, result any) {
	for _, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		if e.status != StatusSuccess {
			continue
		}
		e.data = fn(e.data, result)
		e.notifyLocked()
	}
}
