package credential

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/raine/rentals-client/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := DeriveKey("correct horse battery staple")
	require.NoError(t, err)
	return key
}

func openSQLite(t *testing.T, path string, key []byte) (*SQLiteBackend, *sql.DB) {
	t.Helper()
	db, err := storage.Open(path)
	require.NoError(t, err)
	b, err := NewSQLiteBackend(db, "default", key)
	require.NoError(t, err)
	return b, db
}

func TestStoreRoundTripAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "client.db")
	key := testKey(t)

	backend, db := openSQLite(t, path, key)
	store := NewStore(NewMemoryBackend(), backend)

	saved := Credential{
		AccessToken:  "A1",
		RefreshToken: "R1",
		ExpiresAt:    time.Unix(1893456000, 0),
		Remember:     true,
	}
	require.NoError(t, store.Save(ctx, saved))
	require.NoError(t, db.Close())

	// Fresh session backend and fresh connection, as after a process restart
	backend, db = openSQLite(t, path, key)
	defer db.Close()
	restarted := NewStore(NewMemoryBackend(), backend)

	got := restarted.Get(ctx)
	require.NotNil(t, got)
	assert.Equal(t, saved, *got)
}

func TestStoreSessionCredentialDoesNotSurviveRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "client.db")
	key := testKey(t)

	backend, db := openSQLite(t, path, key)
	store := NewStore(NewMemoryBackend(), backend)
	require.NoError(t, store.Save(ctx, Credential{AccessToken: "A1", RefreshToken: "R1"}))
	assert.NotNil(t, store.Get(ctx))
	require.NoError(t, db.Close())

	backend, db = openSQLite(t, path, key)
	defer db.Close()
	assert.Nil(t, NewStore(NewMemoryBackend(), backend).Get(ctx))
}

func TestStoreSaveMovesBetweenBackends(t *testing.T) {
	ctx := context.Background()
	session := NewMemoryBackend()
	persistent := NewMemoryBackend()
	store := NewStore(session, persistent)

	require.NoError(t, store.Save(ctx, Credential{AccessToken: "A1", RefreshToken: "R1", Remember: true}))
	c, _ := persistent.Load(ctx)
	assert.NotNil(t, c)
	c, _ = session.Load(ctx)
	assert.Nil(t, c)

	require.NoError(t, store.Save(ctx, Credential{AccessToken: "A2", RefreshToken: "R2"}))
	c, _ = persistent.Load(ctx)
	assert.Nil(t, c)
	c, _ = session.Load(ctx)
	require.NotNil(t, c)
	assert.Equal(t, "A2", c.AccessToken)
}

func TestStoreRejectsIncompleteCredential(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), NewMemoryBackend())

	err := store.Save(ctx, Credential{AccessToken: "A1", Remember: true})
	assert.True(t, errors.Is(err, ErrIncomplete))

	var storageErr *StorageError
	assert.True(t, errors.As(err, &storageErr))
	assert.Nil(t, store.Get(ctx))
}

func TestStoreClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), NewMemoryBackend())

	assert.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Save(ctx, Credential{AccessToken: "A1", RefreshToken: "R1", Remember: true}))
	assert.NoError(t, store.Clear(ctx))
	assert.NoError(t, store.Clear(ctx))
	assert.Nil(t, store.Get(ctx))
}

func TestStoreTreatsUndecryptableValueAsAbsent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "client.db")

	backend, db := openSQLite(t, path, testKey(t))
	require.NoError(t, NewStore(nil, backend).Save(ctx, Credential{AccessToken: "A1", RefreshToken: "R1", Remember: true}))
	require.NoError(t, db.Close())

	otherKey, err := DeriveKey("a different passphrase")
	require.NoError(t, err)
	backend, db = openSQLite(t, path, otherKey)
	defer db.Close()

	_, err = backend.Load(ctx)
	assert.Error(t, err)
	assert.Nil(t, NewStore(nil, backend).Get(ctx))
}

func TestStoreTreatsCorruptRowAsAbsent(t *testing.T) {
	ctx := context.Background()
	backend, db := openSQLite(t, filepath.Join(t.TempDir(), "client.db"), testKey(t))
	defer db.Close()

	_, err := db.Exec(
		"INSERT INTO credentials (namespace, encrypted_tokens, expires_at, last_updated) VALUES (?, ?, ?, ?)",
		"default", "not base64!", 0, time.Now(),
	)
	require.NoError(t, err)

	assert.Nil(t, NewStore(nil, backend).Get(ctx))
}

func TestStoreWithoutPersistentBackendKeepsRememberedInSession(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil, nil)

	require.NoError(t, store.Save(ctx, Credential{AccessToken: "A1", RefreshToken: "R1", Remember: true}))
	got := store.Get(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "A1", got.AccessToken)
}

func TestCredentialExpiresWithin(t *testing.T) {
	now := time.Unix(1000, 0)
	c := Credential{AccessToken: "A", RefreshToken: "R", ExpiresAt: now.Add(time.Minute)}

	assert.False(t, c.ExpiresWithin(now, 30*time.Second))
	assert.True(t, c.ExpiresWithin(now, time.Minute))
	assert.True(t, c.ExpiresWithin(now.Add(2*time.Minute), 0))
	assert.False(t, (&Credential{}).ExpiresWithin(now, time.Hour))
}

func TestCredentialRefreshMarginCapsAtHalfLifetime(t *testing.T) {
	issued := time.Unix(1000, 0)
	short := Credential{AccessToken: "A", RefreshToken: "R", IssuedAt: issued, ExpiresAt: issued.Add(20 * time.Second)}
	long := Credential{AccessToken: "A", RefreshToken: "R", IssuedAt: issued, ExpiresAt: issued.Add(time.Hour)}
	unknown := Credential{AccessToken: "A", RefreshToken: "R", ExpiresAt: issued.Add(20 * time.Second)}

	assert.Equal(t, 10*time.Second, short.RefreshMargin(30*time.Second))
	assert.Equal(t, 30*time.Second, long.RefreshMargin(30*time.Second))
	assert.Equal(t, 30*time.Second, unknown.RefreshMargin(30*time.Second))

	assert.False(t, short.NeedsRefresh(issued, 30*time.Second))
	assert.False(t, short.NeedsRefresh(issued.Add(9*time.Second), 30*time.Second))
	assert.True(t, short.NeedsRefresh(issued.Add(10*time.Second), 30*time.Second))
}

func TestSQLiteBackendKeepsIssuedAt(t *testing.T) {
	ctx := context.Background()
	b, db := openSQLite(t, filepath.Join(t.TempDir(), "creds.db"), testKey(t))
	defer db.Close()

	issued := time.Unix(1700000000, 0)
	require.NoError(t, b.Save(ctx, &Credential{
		AccessToken: "A1", RefreshToken: "R1",
		IssuedAt: issued, ExpiresAt: issued.Add(20 * time.Second),
	}))

	got, err := b.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, issued.Equal(got.IssuedAt))
	assert.Equal(t, 10*time.Second, got.RefreshMargin(30*time.Second))
}
