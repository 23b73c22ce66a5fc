package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raine/rentals-client/internal/mockapi"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := os.Getenv("MOCK_ADDR")
	if addr == "" {
		addr = ":8089"
	}

	lifetime := mockapi.DefaultAccessTokenLifetime
	if v := os.Getenv("MOCK_TOKEN_LIFETIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid MOCK_TOKEN_LIFETIME")
		}
		lifetime = d
	}

	s := mockapi.New(mockapi.Options{
		AccessTokenLifetime: lifetime,
		Secret:              []byte(os.Getenv("MOCK_JWT_SECRET")),
	})
	if email, password := os.Getenv("MOCK_USER"), os.Getenv("MOCK_PASSWORD"); email != "" && password != "" {
		if err := s.AddUser(email, password, "Demo", "User"); err != nil {
			log.Fatal().Err(err).Msg("failed to seed user")
		}
		log.Info().Str("email", email).Msg("seeded user")
	}

	srv := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 10 * time.Second}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Dur("tokenLifetime", lifetime).Msg("mock backend listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("shutdown complete")
}
