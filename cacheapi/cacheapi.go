package cacheapi

import (
	"context"
	"errors"
)

var (
	ErrCacheKeyNotExist = errors.New("cache key not exist")
)

type ICacheGetter[K comparable, V any] interface {
	Get(ctx context.Context, k K) (V, error)
}

type ICacheSetter[K comparable, V any] interface {
	Set(ctx context.Context, k K, v V) error
}

type ICacheDeleter[K comparable] interface {
	Del(ctx context.Context, k K) error
}

type ICacheLoader[K comparable, V any] interface {
	ICacheGetter[K, V]
	ICacheSetter[K, V]
}

type ICache[K comparable, V any] interface {
	ICacheLoader[K, V]
	ICacheDeleter[K]
}

// LoadCacheCallbackFunc returns the value for a missed key, ok=false means the
// key does not exist in the backend and nothing is cached.
type LoadCacheCallbackFunc[K comparable, V any] func(ctx context.Context, k K) (V, bool, error)

// Load reads k from c, falls back to cb on miss and fills the cache with what
// cb found.
func Load[K comparable, V any](ctx context.Context, c ICacheLoader[K, V], k K, cb LoadCacheCallbackFunc[K, V]) (V, bool, error) {
	var empty V
	v, err := c.Get(ctx, k)
	if err == nil {
		return v, true, nil
	}
	if !errors.Is(err, ErrCacheKeyNotExist) {
		return empty, false, err
	}
	v, ok, err := cb(ctx, k)
	if err != nil {
		return empty, false, err
	}
	if !ok {
		return empty, false, nil
	}
	_ = c.Set(ctx, k, v)
	return v, true, nil
}
