package querycache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/viralboost/boostd/internal/querycache"
)

func TestKeyEqual(t *testing.T) {
	tests := []struct {
		name  string
		a, b  querycache.Key
		equal bool
	}{
		{
			name:  "identical tuples",
			a:     querycache.NewKey("tasks", 1, 10),
			b:     querycache.NewKey("tasks", 1, 10),
			equal: true,
		},
		{
			name:  "different page",
			a:     querycache.NewKey("tasks", 1, 10),
			b:     querycache.NewKey("tasks", 2, 10),
			equal: false,
		},
		{
			name:  "different length",
			a:     querycache.NewKey("tasks"),
			b:     querycache.NewKey("tasks", 1),
			equal: false,
		},
		{
			name:  "numeric width folds through canonical encoding",
			a:     querycache.NewKey("tasks", int64(1)),
			b:     querycache.NewKey("tasks", 1),
			equal: true,
		},
		{
			name:  "empty keys",
			a:     querycache.NewKey(),
			b:     querycache.NewKey(),
			equal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.a.Equal(tt.b))
		})
	}
}

func TestKeyHasPrefix(t *testing.T) {
	full := querycache.NewKey("tasks", 1, 10, "search")

	assert.True(t, full.HasPrefix(querycache.NewKey("tasks")))
	assert.True(t, full.HasPrefix(querycache.NewKey("tasks", 1)))
	assert.True(t, full.HasPrefix(full))
	assert.False(t, full.HasPrefix(querycache.NewKey("wallet")))
	assert.False(t, full.HasPrefix(querycache.NewKey("tasks", 2)))
	// A longer key is never a prefix of a shorter one.
	assert.False(t, querycache.NewKey("tasks").HasPrefix(full))
	// The empty prefix matches everything.
	assert.True(t, full.HasPrefix(querycache.NewKey()))
}

func TestKeyString(t *testing.T) {
	k := querycache.NewKey("tasks", 1)
	assert.Equal(t, `["tasks",1]`, k.String())
}
