package credential

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// SQLiteBackend persists the credential in a SQLite table, one row per
// namespace, with the token pair encrypted.
type SQLiteBackend struct {
	db        *sql.DB
	namespace string
	sealer    *sealer
	mu        sync.RWMutex
}

// NewSQLiteBackend creates the credentials table if needed. The db is owned by
// the caller; see storage.Open.
func NewSQLiteBackend(db *sql.DB, namespace string, encryptionKey []byte) (*SQLiteBackend, error) {
	s, err := newSealer(encryptionKey)
	if err != nil {
		return nil, err
	}
	b := &SQLiteBackend{db: db, namespace: namespace, sealer: s}
	if err := b.init(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) init() error {
	_, err := b.db.Exec(`
	CREATE TABLE IF NOT EXISTS credentials (
		namespace TEXT PRIMARY KEY,
		encrypted_tokens TEXT NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0,
		last_updated DATETIME NOT NULL
	);
	`)
	if err != nil {
		return fmt.Errorf("failed to create credentials table: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Load(ctx context.Context) (*Credential, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var encrypted string
	var expiresAt int64
	err := b.db.QueryRowContext(ctx,
		"SELECT encrypted_tokens, expires_at FROM credentials WHERE namespace = ?",
		b.namespace,
	).Scan(&encrypted, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}

	p, err := b.sealer.open(encrypted)
	if err != nil {
		return nil, err
	}
	p.ExpiresAt = expiresAt
	return p.credential(true), nil
}

func (b *SQLiteBackend) Save(ctx context.Context, c *Credential) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := toPersisted(c)
	encrypted, err := b.sealer.seal(persisted{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken, IssuedAt: p.IssuedAt})
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO credentials (namespace, encrypted_tokens, expires_at, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace) DO UPDATE SET
			encrypted_tokens = excluded.encrypted_tokens,
			expires_at = excluded.expires_at,
			last_updated = excluded.last_updated
	`, b.namespace, encrypted, p.ExpiresAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.db.ExecContext(ctx, "DELETE FROM credentials WHERE namespace = ?", b.namespace); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
