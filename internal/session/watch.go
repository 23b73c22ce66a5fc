package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Watch returns a channel that receives the authentication status, starting
// with the current value. Slow readers only see the latest value. Call stop to
// unsubscribe; it closes the channel.
func (s *Session) Watch(ctx context.Context) (<-chan bool, func()) {
	ch := make(chan bool, 1)

	s.mu.Lock()
	ch <- s.current(ctx) != nil
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.watchMu.Unlock()
	s.mu.Unlock()

	stop := func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if c, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(c)
		}
	}
	return ch, stop
}

func (s *Session) notify(authenticated bool) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- authenticated:
		default:
			// Replace the unread value
			select {
			case <-ch:
			default:
			}
			ch <- authenticated
		}
	}
}

// KeepAlive refreshes the access token ahead of expiry while the session is
// authenticated, checking every interval. Failures are logged; a revoked
// refresh token ends the session as usual. It returns when ctx is done.
func (s *Session) KeepAlive(ctx context.Context, interval time.Duration) error {
	check := func() {
		s.mu.Lock()
		c := s.current(ctx)
		if c == nil || !c.ExpiresWithin(s.now(), c.RefreshMargin(s.margin)+interval) {
			s.mu.Unlock()
			return
		}
		stale := c.AccessToken
		s.mu.Unlock()

		if _, err := s.Refresh(ctx, stale); err != nil {
			log.Warn().Err(err).Msg("keep-alive refresh failed")
		}
	}

	check()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping session keep-alive")
			return ctx.Err()
		case <-ticker.C:
			check()
		}
	}
}
