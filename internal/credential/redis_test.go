package credential

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestRedisBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)

	backend, err := NewRedisBackend(rdb, "rentals", "default", testKey(t))
	require.NoError(t, err)
	store := NewStore(NewMemoryBackend(), backend)

	saved := Credential{
		AccessToken:  "A1",
		RefreshToken: "R1",
		ExpiresAt:    time.Unix(1893456000, 0),
		Remember:     true,
	}
	require.NoError(t, store.Save(ctx, saved))
	assert.True(t, mr.Exists("rentals:credential:default"))

	raw, err := mr.Get("rentals:credential:default")
	require.NoError(t, err)
	assert.NotContains(t, raw, "R1")

	got := NewStore(NewMemoryBackend(), backend).Get(ctx)
	require.NotNil(t, got)
	assert.Equal(t, saved, *got)

	require.NoError(t, store.Clear(ctx))
	assert.False(t, mr.Exists("rentals:credential:default"))
	require.NoError(t, store.Clear(ctx))
}

func TestRedisBackendUnavailableIsAbsentOnGet(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)

	backend, err := NewRedisBackend(rdb, "rentals", "default", testKey(t))
	require.NoError(t, err)
	store := NewStore(NewMemoryBackend(), backend)
	require.NoError(t, store.Save(ctx, Credential{AccessToken: "A1", RefreshToken: "R1", Remember: true}))

	mr.Close()

	assert.Nil(t, store.Get(ctx))
	err = store.Save(ctx, Credential{AccessToken: "A2", RefreshToken: "R2", Remember: true})
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "save", storageErr.Op)
}
