package o11y

import (
	"context"
	"testing"
	"time"

	"github.com/goware/cachestore/cachestorectl"
	"github.com/goware/cachestore/memlru"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracedCacheSourceAnnotation(t *testing.T) {
	backing, err := cachestorectl.Open[string](memlru.Backend(16))
	require.NoError(t, err)
	cache := NewTracedCache("secrets", backing)

	ctx, parent := Trace(context.Background(), "test")
	defer parent.End()

	getter := func(ctx context.Context, key string) (string, error) {
		return "hunter2", nil
	}

	// Cold read runs the getter.
	v, err := cache.GetOrSetWithLockEx(ctx, "client-a", getter, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	// Warm read is served from the cache.
	v, err = cache.GetOrSetWithLockEx(ctx, "client-a", getter, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	require.Len(t, parent.Children, 2)
	assert.Equal(t, "remote", parent.Children[0].Annotations["source"])
	assert.Equal(t, "cache", parent.Children[1].Annotations["source"])
}
