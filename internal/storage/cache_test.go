package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) *SQLiteCache {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := NewSQLiteCache(db, ttl)
	require.NoError(t, err)
	return c
}

func TestCachePutGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, 0)

	_, ok, err := c.Get(ctx, "/properties")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "/properties", []byte(`[{"id":"p1"}]`)))
	body, ok, err := c.Get(ctx, "/properties")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"id":"p1"}]`, string(body))
}

func TestCacheExpiresEntries(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, time.Minute)
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put(ctx, "/dashboard", []byte(`{}`)))
	_, ok, _ := c.Get(ctx, "/dashboard")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, err := c.Get(ctx, "/dashboard")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheInvalidateNested(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, 0)

	for _, key := range []string{"/properties", "/properties/p1", "/properties/p1/rooms", "/propertiesx", "/profile"} {
		require.NoError(t, c.Put(ctx, key, []byte("x")))
	}

	require.NoError(t, c.Invalidate(ctx, "/properties"))

	for key, want := range map[string]bool{
		"/properties":          false,
		"/properties/p1":       false,
		"/properties/p1/rooms": false,
		"/propertiesx":         true,
		"/profile":             true,
	} {
		_, ok, err := c.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, ok, key)
	}

	require.NoError(t, c.Purge(ctx))
	_, ok, _ := c.Get(ctx, "/profile")
	assert.False(t, ok)
}
