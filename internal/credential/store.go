package credential

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Store routes the credential between a session-scoped backend and a
// persistent one depending on Credential.Remember.
type Store struct {
	session    Backend
	persistent Backend
}

// NewStore returns a Store. persistent may be nil, in which case remembered
// credentials are kept in the session backend only.
func NewStore(session, persistent Backend) *Store {
	if session == nil {
		session = NewMemoryBackend()
	}
	return &Store{session: session, persistent: persistent}
}

// Get returns the stored credential, or nil if there is none. Read and decode
// failures are logged and reported as absent; the caller must sign in again.
func (s *Store) Get(ctx context.Context) *Credential {
	if c := s.load(ctx, "session", s.session); c != nil {
		return c
	}
	if s.persistent == nil {
		return nil
	}
	return s.load(ctx, "persistent", s.persistent)
}

func (s *Store) load(ctx context.Context, name string, b Backend) *Credential {
	c, err := b.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Str("backend", name).Msg("failed to load credential, treating as absent")
		return nil
	}
	if c == nil {
		return nil
	}
	if err := c.Validate(); err != nil {
		log.Warn().Str("backend", name).Msg("ignoring incomplete stored credential")
		return nil
	}
	return c
}

// Save overwrites the stored credential. The backend not selected by
// c.Remember is cleared so only one copy exists.
func (s *Store) Save(ctx context.Context, c Credential) error {
	if err := c.Validate(); err != nil {
		return &StorageError{Op: "save", Backend: "store", Err: err}
	}

	target, targetName := s.session, "session"
	other, otherName := s.persistent, "persistent"
	if c.Remember && s.persistent != nil {
		target, targetName = s.persistent, "persistent"
		other, otherName = s.session, "session"
	}

	if err := target.Save(ctx, &c); err != nil {
		return &StorageError{Op: "save", Backend: targetName, Err: err}
	}
	if other != nil {
		if err := other.Delete(ctx); err != nil {
			return &StorageError{Op: "delete", Backend: otherName, Err: err}
		}
	}
	return nil
}

// Clear removes the credential from both backends. Clearing an empty store is
// a no-op.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.session.Delete(ctx); err != nil {
		return &StorageError{Op: "delete", Backend: "session", Err: err}
	}
	if s.persistent != nil {
		if err := s.persistent.Delete(ctx); err != nil {
			return &StorageError{Op: "delete", Backend: "persistent", Err: err}
		}
	}
	return nil
}
