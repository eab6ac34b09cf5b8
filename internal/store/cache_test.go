package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityCaches(t *testing.T) {
	caches := map[string]func(t *testing.T) EntityCache{
		"memory": func(*testing.T) EntityCache { return NewMemoryCache() },
		"sqlite": func(t *testing.T) EntityCache { return newSQLiteStore(t) },
		"redis": func(t *testing.T) EntityCache {
			mr := miniredis.RunT(t)
			c, err := NewRedisCache(context.Background(), mr.Addr(), "", 0)
			require.NoError(t, err)
			t.Cleanup(func() { c.Close() })
			return c
		},
	}
	for name, mk := range caches {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := mk(t)

			_, ok, err := c.GetEntity(ctx, "bmf:53-0196605")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.PutEntity(ctx, "bmf:53-0196605", []byte("payload"), time.Hour))
			data, ok, err := c.GetEntity(ctx, "bmf:53-0196605")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "payload", string(data))

			require.NoError(t, c.PutEntity(ctx, "bmf:53-0196605", []byte("updated"), 0))
			data, _, err = c.GetEntity(ctx, "bmf:53-0196605")
			require.NoError(t, err)
			assert.Equal(t, "updated", string(data))
		})
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	restore := now
	t.Cleanup(func() { now = restore })
	clock := t0
	now = func() time.Time { return clock }

	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.PutEntity(ctx, "k", []byte("v"), time.Minute))

	_, ok, _ := c.GetEntity(ctx, "k")
	assert.True(t, ok)

	clock = clock.Add(2 * time.Minute)
	_, ok, _ = c.GetEntity(ctx, "k")
	assert.False(t, ok)
}

func TestSQLiteCache_Expiry(t *testing.T) {
	s := newSQLiteStore(t)
	restore := now
	t.Cleanup(func() { now = restore })
	clock := t0
	now = func() time.Time { return clock }

	ctx := context.Background()
	require.NoError(t, s.PutEntity(ctx, "k", []byte("v"), time.Hour))
	clock = clock.Add(2 * time.Hour)
	_, ok, err := s.GetEntity(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.PutEntity(ctx, "propublica:org:1", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("grants:entity:propublica:org:1"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := c.GetEntity(ctx, "propublica:org:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(context.Background(), addr, "", 0)
	assert.ErrorContains(t, err, "redis: ping")
}
