package session

import (
	"context"
	"errors"
	"time"

	"github.com/raine/rentals-client/internal/credential"
	"github.com/raine/rentals-client/internal/grant"
	"github.com/rs/zerolog/log"
)

const refreshKey = "refresh"

// Refresh obtains a new access token. stale is the access token the caller
// saw rejected or expiring; if the session already holds a different, fresh
// token, that token is returned without a network call.
//
// Concurrent calls share one refresh. A caller whose ctx ends stops waiting,
// but the shared refresh keeps running for the others.
func (s *Session) Refresh(ctx context.Context, stale string) (string, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(refreshKey, func() (any, error) {
		return s.refresh(detached, stale)
	})

	select {
	case <-ctx.Done():
		return "", &grant.AuthError{Op: "Refresh", Kind: grant.KindNetwork, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *Session) refresh(ctx context.Context, stale string) (string, error) {
	s.mu.Lock()
	c := s.current(ctx)
	if c == nil {
		s.mu.Unlock()
		return "", &grant.AuthError{Op: "Refresh", Kind: grant.KindSessionExpired, Err: ErrNotLoggedIn}
	}
	if c.AccessToken != stale && !c.NeedsRefresh(s.now(), s.margin) {
		token := c.AccessToken
		s.mu.Unlock()
		return token, nil
	}
	from := *c
	s.state = Refreshing
	s.mu.Unlock()

	log.Debug().Msg("refreshing access token")
	started := s.now()
	res, err := s.grants.RefreshGrant(ctx, from.RefreshToken)

	s.mu.Lock()
	token, expired, err := s.commit(ctx, from, res, err, started)
	s.mu.Unlock()

	if expired {
		s.authChanged(ctx, false)
	}
	return token, err
}

// commit applies a refresh result. expired reports that the session was
// ended because the refresh token is no longer valid. Caller holds mu.
func (s *Session) commit(ctx context.Context, from credential.Credential, res *grant.Response, err error, started time.Time) (string, bool, error) {
	// A login or logout during the refresh wins over its result
	if s.cred == nil || s.cred.RefreshToken != from.RefreshToken || s.cred.AccessToken != from.AccessToken {
		if s.cred == nil {
			return "", false, &grant.AuthError{Op: "Refresh", Kind: grant.KindSessionExpired, Err: ErrNotLoggedIn}
		}
		return s.cred.AccessToken, false, nil
	}

	if err != nil {
		var authErr *grant.AuthError
		if !errors.As(err, &authErr) || authErr.Transient() {
			s.state = Authenticated
			log.Warn().Err(err).Dur("elapsed", s.now().Sub(started)).Msg("token refresh failed, keeping credential")
			return "", false, err
		}

		if clearErr := s.store.Clear(ctx); clearErr != nil {
			log.Error().Err(clearErr).Msg("failed to clear revoked credential")
		}
		s.cred = nil
		s.state = Unauthenticated
		s.notify(false)
		log.Warn().Err(err).Msg("refresh token rejected, session expired")
		return "", true, &grant.AuthError{Op: "Refresh", Kind: grant.KindSessionExpired, Err: err}
	}

	now := s.now()
	next := credential.Credential{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    res.ExpiresAt(now),
		IssuedAt:     now,
		Remember:     from.Remember,
	}
	if next.RefreshToken == "" {
		// Server does not rotate refresh tokens
		next.RefreshToken = from.RefreshToken
	}
	if err := s.store.Save(ctx, next); err != nil {
		log.Warn().Err(err).Msg("failed to persist refreshed tokens")
	}
	s.cred = &next
	s.state = Authenticated

	log.Info().Time("expiresAt", next.ExpiresAt).Msg("token refresh successful")
	return next.AccessToken, false, nil
}
