package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// SQLiteCache stores raw JSON bodies of fetched entities keyed by API path.
type SQLiteCache struct {
	db  *sql.DB
	ttl time.Duration
	mu  sync.RWMutex
	now func() time.Time
}

// NewSQLiteCache creates the entity_cache table if needed. Entries older than
// ttl are treated as misses; a zero ttl keeps entries until invalidated.
func NewSQLiteCache(db *sql.DB, ttl time.Duration) (*SQLiteCache, error) {
	c := &SQLiteCache{db: db, ttl: ttl, now: time.Now}
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS entity_cache (
		cache_key TEXT PRIMARY KEY,
		body BLOB NOT NULL,
		stored_at INTEGER NOT NULL
	);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity_cache table: %w", err)
	}
	return c, nil
}

// Get returns the cached body for key. ok is false on a miss or stale entry.
func (c *SQLiteCache) Get(ctx context.Context, key string) (body []byte, ok bool, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var storedAt int64
	err = c.db.QueryRowContext(ctx,
		"SELECT body, stored_at FROM entity_cache WHERE cache_key = ?",
		key,
	).Scan(&body, &storedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query cache: %w", err)
	}
	if c.ttl > 0 && c.now().Sub(time.Unix(storedAt, 0)) > c.ttl {
		return nil, false, nil
	}
	return body, true, nil
}

// Put stores body under key.
func (c *SQLiteCache) Put(ctx context.Context, key string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO entity_cache (cache_key, body, stored_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			body = excluded.body,
			stored_at = excluded.stored_at
	`, key, body, c.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// Invalidate removes key and every key nested under it ("/properties" also
// drops "/properties/42").
func (c *SQLiteCache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx,
		"DELETE FROM entity_cache WHERE cache_key = ? OR substr(cache_key, 1, ?) = ?",
		key, len(key)+1, key+"/",
	)
	if err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// Purge drops every entry. Used on logout so the next user never sees the
// previous user's entities.
func (c *SQLiteCache) Purge(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, "DELETE FROM entity_cache"); err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}
	return nil
}
