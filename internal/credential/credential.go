// Package credential persists the access/refresh token pair of the signed-in
// user. It is the only package that reads or writes persisted auth state.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrIncomplete is returned when saving a credential that lacks either token.
// A credential is either absent or has both tokens populated.
var ErrIncomplete = errors.New("credential is missing access or refresh token")

// Credential is the authentication state of one logical session.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	// IssuedAt is when the token pair was granted. Zero when unknown.
	IssuedAt time.Time `json:"issued_at"`
	// Remember selects the persistent backend. Otherwise the credential only
	// lives for the current process.
	Remember bool `json:"remember"`
}

// Validate reports ErrIncomplete for partial credentials.
func (c *Credential) Validate() error {
	if c == nil || c.AccessToken == "" || c.RefreshToken == "" {
		return ErrIncomplete
	}
	return nil
}

// ExpiresWithin reports whether the access token expires within d of now.
// A zero ExpiresAt never expires.
func (c *Credential) ExpiresWithin(now time.Time, d time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt.Add(-d))
}

// RefreshMargin returns margin, capped at half the granted lifetime so a
// short-lived token is not already due for refresh when it arrives.
func (c *Credential) RefreshMargin(margin time.Duration) time.Duration {
	if c.IssuedAt.IsZero() || c.ExpiresAt.IsZero() {
		return margin
	}
	if half := c.ExpiresAt.Sub(c.IssuedAt) / 2; half < margin {
		return max(half, 0)
	}
	return margin
}

// NeedsRefresh reports whether the access token is within its refresh margin
// of expiry.
func (c *Credential) NeedsRefresh(now time.Time, margin time.Duration) bool {
	return c.ExpiresWithin(now, c.RefreshMargin(margin))
}

// Backend is a single storage location for the credential.
// Load returns nil, nil when nothing is stored.
type Backend interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, c *Credential) error
	Delete(ctx context.Context) error
}

// StorageError wraps a failed read or write against a backend.
type StorageError struct {
	Op      string // "load", "save", "delete"
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	if e == nil {
		return "credential storage error"
	}
	return fmt.Sprintf("%s credential (%s): %v", e.Op, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// persisted is the on-disk shape: two token strings plus unix expiry and
// issue time.
type persisted struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	IssuedAt     int64  `json:"issued_at,omitempty"`
}

func toPersisted(c *Credential) persisted {
	p := persisted{AccessToken: c.AccessToken, RefreshToken: c.RefreshToken}
	if !c.ExpiresAt.IsZero() {
		p.ExpiresAt = c.ExpiresAt.Unix()
	}
	if !c.IssuedAt.IsZero() {
		p.IssuedAt = c.IssuedAt.Unix()
	}
	return p
}

func (p persisted) credential(remember bool) *Credential {
	c := &Credential{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		Remember:     remember,
	}
	if p.ExpiresAt != 0 {
		c.ExpiresAt = time.Unix(p.ExpiresAt, 0)
	}
	if p.IssuedAt != 0 {
		c.IssuedAt = time.Unix(p.IssuedAt, 0)
	}
	return c
}
