// Package session owns the signed-in state of the client.
//
// A Session moves between three states:
//
//	Unauthenticated --Login--> Authenticated
//	Authenticated --AccessToken (near expiry) / Refresh--> Refreshing
//	Refreshing --success--> Authenticated (new credential persisted)
//	Refreshing --InvalidRefreshToken--> Unauthenticated (credential cleared)
//	Refreshing --network/server failure--> Authenticated (credential kept)
//	any --Logout--> Unauthenticated
//
// Only one refresh is in flight per Session. Concurrent callers wait for it
// and share its result, because refresh tokens are single-use on the server.
// All writes to the credential store happen here, under mu.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raine/rentals-client/internal/credential"
	"github.com/raine/rentals-client/internal/grant"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrNotLoggedIn is wrapped in the SessionExpired error returned when there is
// no credential at all.
var ErrNotLoggedIn = errors.New("not logged in")

const DefaultSafetyMargin = 30 * time.Second

type State int

const (
	Unauthenticated State = iota
	Authenticated
	Refreshing
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Granter is the subset of grant.Client used by the session.
type Granter interface {
	PasswordGrant(ctx context.Context, username, password string) (*grant.Response, error)
	RefreshGrant(ctx context.Context, refreshToken string) (*grant.Response, error)
	Register(ctx context.Context, req grant.RegisterRequest) (*grant.User, error)
}

type Options struct {
	// SafetyMargin is how long before expiry a token is already refreshed.
	SafetyMargin time.Duration
	Now          func() time.Time
	// OnAuthChange runs after every login, logout and forced logout, outside
	// the session lock. Callers use it to drop per-user state.
	OnAuthChange func(ctx context.Context, authenticated bool)
}

type Session struct {
	grants Granter
	store  *credential.Store
	margin time.Duration
	now    func() time.Time
	hook   func(ctx context.Context, authenticated bool)

	mu     sync.Mutex
	loaded bool
	cred   *credential.Credential
	state  State

	flight singleflight.Group

	watchMu  sync.Mutex
	watchers map[int]chan bool
	nextID   int
}

func New(grants Granter, store *credential.Store, opts Options) *Session {
	s := &Session{
		grants:   grants,
		store:    store,
		margin:   opts.SafetyMargin,
		now:      opts.Now,
		hook:     opts.OnAuthChange,
		watchers: make(map[int]chan bool),
	}
	if s.margin <= 0 {
		s.margin = DefaultSafetyMargin
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// current returns the cached credential, reading the store on first use.
// Caller holds mu.
func (s *Session) current(ctx context.Context) *credential.Credential {
	if !s.loaded {
		s.cred = s.store.Get(ctx)
		s.loaded = true
		if s.cred != nil {
			s.state = Authenticated
		}
	}
	return s.cred
}

func (s *Session) authChanged(ctx context.Context, authenticated bool) {
	if s.hook != nil {
		s.hook(ctx, authenticated)
	}
}

// Login exchanges username and password for a credential and persists it.
// On failure the state is unchanged.
func (s *Session) Login(ctx context.Context, username, password string, remember bool) error {
	res, err := s.grants.PasswordGrant(ctx, username, password)
	if err != nil {
		return err
	}

	now := s.now()
	c := credential.Credential{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    res.ExpiresAt(now),
		IssuedAt:     now,
		Remember:     remember,
	}

	s.mu.Lock()
	if err := s.store.Save(ctx, c); err != nil {
		s.mu.Unlock()
		return err
	}
	s.loaded = true
	s.cred = &c
	was := s.state
	s.state = Authenticated
	s.mu.Unlock()

	// Always fires, since a new login may be a different user
	s.authChanged(ctx, true)
	if was == Unauthenticated {
		s.notify(true)
	}
	log.Info().Bool("remember", remember).Msg("logged in")
	return nil
}

// Logout clears the credential. It is idempotent; the session always ends up
// Unauthenticated even if the store fails to delete, and that failure is
// returned.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.current(ctx)
	was := s.state
	err := s.store.Clear(ctx)
	s.loaded = true
	s.cred = nil
	s.state = Unauthenticated
	s.mu.Unlock()

	s.authChanged(ctx, false)
	if was != Unauthenticated {
		s.notify(false)
		log.Info().Msg("logged out")
	}
	return err
}

// IsAuthenticated reports whether a credential is present. It does not check
// expiry and makes no network call.
func (s *Session) IsAuthenticated(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current(ctx) != nil
}

// State returns the state machine position.
func (s *Session) State(ctx context.Context) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current(ctx)
	return s.state
}

// Info describes the current credential without exposing the tokens.
type Info struct {
	State     State
	ExpiresAt time.Time
	Remember  bool
}

func (s *Session) Info(ctx context.Context) Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.current(ctx)
	info := Info{State: s.state}
	if c != nil {
		info.ExpiresAt = c.ExpiresAt
		info.Remember = c.Remember
	}
	return info
}

// AccessToken returns a usable access token, refreshing first when the cached
// one is within the safety margin of expiry. The margin is capped at half the
// token's lifetime. Without a credential it fails
// with KindSessionExpired and makes no network call.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	c := s.current(ctx)
	if c == nil {
		s.mu.Unlock()
		return "", &grant.AuthError{Op: "AccessToken", Kind: grant.KindSessionExpired, Err: ErrNotLoggedIn}
	}
	if !c.NeedsRefresh(s.now(), s.margin) {
		token := c.AccessToken
		s.mu.Unlock()
		return token, nil
	}
	stale := c.AccessToken
	s.mu.Unlock()

	return s.Refresh(ctx, stale)
}

// Register creates an account on the backend. It does not log in.
func (s *Session) Register(ctx context.Context, req grant.RegisterRequest) (*grant.User, error) {
	return s.grants.Register(ctx, req)
}
