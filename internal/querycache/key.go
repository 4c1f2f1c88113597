package querycache

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Key identifies one logical query as an ordered tuple, e.g.
// NewKey("tasks", page, limit, search). Two keys with structurally equal
// elements resolve to the same cache entry. Keys form a prefix hierarchy:
// invalidating NewKey("tasks") affects every entry whose key starts with
// "tasks".
type Key struct {
	parts []string
}

// NewKey builds a Key from its tuple elements. Elements are canonicalized
// through JSON encoding so that e.g. int(1) and int64(1) compare equal.
func NewKey(elems ...any) Key {
	parts := make([]string, len(elems))
	for i, e := range elems {
		b, err := json.Marshal(e)
		if err != nil {
			// Non-serializable elements fall back to their Go representation.
			// They still compare structurally, just without cross-type folding.
			parts[i] = fmt.Sprintf("%#v", e)
			continue
		}
		parts[i] = string(b)
	}
	return Key{parts: parts}
}

// Len returns the number of tuple elements.
func (k Key) Len() int { return len(k.parts) }

// Equal reports whether two keys have structurally equal tuples.
func (k Key) Equal(other Key) bool {
	if len(k.parts) != len(other.parts) {
		return false
	}
	for i := range k.parts {
		if k.parts[i] != other.parts[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether k starts with all elements of prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix.parts) > len(k.parts) {
		return false
	}
	for i := range prefix.parts {
		if k.parts[i] != prefix.parts[i] {
			return false
		}
	}
	return true
}

// id returns the canonical map identity for the key.
func (k Key) id() string {
	return strings.Join(k.parts, "\x1f")
}

// String renders the key for logs, e.g. ["tasks",1,10].
func (k Key) String() string {
	return "[" + strings.Join(k.parts, ",") + "]"
}
