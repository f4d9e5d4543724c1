package o11y

import (
	"context"
	"time"

	"github.com/goware/cachestore"
)

type tracedCache[V any] struct {
	label string
	cachestore.Store[V]
}

// NewTracedCache instruments the read-through path of a cachestore; the
// client-secret cache is the only caller today.
func NewTracedCache[V any](label string, store cachestore.Store[V]) cachestore.Store[V] {
	return &tracedCache[V]{label: label, Store: store}
}

func (c *tracedCache[V]) GetOrSetWithLockEx(ctx context.Context, key string, getter func(context.Context, string) (V, error), ttl time.Duration) (_ V, err error) {
	ctx, span := Trace(ctx, "cachestore.GetOrSetWithLockEx", WithAnnotation("cache", c.label))

	// The getter only runs on a miss, so the source is not known until
	// the wrapped call returns.
	source := "cache"
	defer func() {
		span.SetAnnotation("source", source)
		span.RecordError(err)
		span.End()
	}()

	tracedGetter := func(ctx context.Context, key string) (V, error) {
		source = "remote"
		return getter(ctx, key)
	}

	return c.Store.GetOrSetWithLockEx(ctx, key, tracedGetter, ttl)
}
