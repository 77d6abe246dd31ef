package cacheapi

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type simpleCache[K comparable, V any] struct {
	m map[K]V
}

func (s *simpleCache[K, V]) Get(ctx context.Context, k K) (V, error) {
	v, ok := s.m[k]
	if !ok {
		return v, ErrCacheKeyNotExist
	}
	return v, nil
}

func (s *simpleCache[K, V]) Set(ctx context.Context, k K, v V) error {
	s.m[k] = v
	return nil
}

func newSimpleCache[K comparable, V any]() ICacheLoader[K, V] {
	return &simpleCache[K, V]{m: map[K]V{}}
}

func TestLoad(t *testing.T) {
	c := newSimpleCache[string, string]()
	ctx := context.Background()
	calls := 0
	cb := func(ctx context.Context, k string) (string, bool, error) {
		calls++
		if k == "missing" {
			return "", false, nil
		}
		return fmt.Sprintf("v-%s", k), true, nil
	}
	v, ok, err := Load(ctx, c, "a", cb)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v-a", v)
	v, ok, err = Load(ctx, c, "a", cb)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v-a", v)
	assert.Equal(t, 1, calls)

	_, ok, err = Load(ctx, c, "missing", cb)
	assert.NoError(t, err)
	assert.False(t, ok)
	_, err = c.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrCacheKeyNotExist))
}

func TestLoadError(t *testing.T) {
	c := newSimpleCache[string, int]()
	_, _, err := Load(context.Background(), c, "x", func(ctx context.Context, k string) (int, bool, error) {
		return 0, false, fmt.Errorf("backend down")
	})
	assert.Error(t, err)
}
