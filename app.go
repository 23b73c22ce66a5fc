package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/raine/rentals-client/config"
	"github.com/raine/rentals-client/internal/api"
	"github.com/raine/rentals-client/internal/credential"
	"github.com/raine/rentals-client/internal/grant"
	"github.com/raine/rentals-client/internal/rentals"
	"github.com/raine/rentals-client/internal/session"
	"github.com/raine/rentals-client/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisKeyPrefix = "rentals"

// app wires the client stack for one CLI invocation.
type app struct {
	session    *session.Session
	dispatcher *api.Dispatcher
	rentals    *rentals.Client
	closers    []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	persistent, cache, err := a.openBackends(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	grants := grant.NewClient(grant.ClientOpts{BaseURL: cfg.APIURL, Timeout: cfg.Timeout})
	store := credential.NewStore(credential.NewMemoryBackend(), persistent)
	a.session = session.New(grants, store, session.Options{
		SafetyMargin: cfg.RefreshMargin,
		OnAuthChange: func(ctx context.Context, authenticated bool) {
			// Cached bodies belong to whoever was signed in before
			a.rentals.HandleAuthChange(ctx, authenticated)
		},
	})
	a.dispatcher = api.NewDispatcher(a.session, api.Opts{BaseURL: cfg.APIURL, Timeout: cfg.Timeout})

	var rc rentals.Cache
	if cache != nil {
		rc = cache
	}
	a.rentals = rentals.NewClient(a.dispatcher, rc, a.session)
	return a, nil
}

// openBackends returns the persistent credential backend selected by
// cfg.Store and, for sqlite, the entity cache sharing its database.
func (a *app) openBackends(ctx context.Context, cfg *config.Config) (credential.Backend, *storage.SQLiteCache, error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Debug().Msg("credentials are kept in memory only")
		return nil, nil, nil

	case config.StoreSQLite:
		key, err := credential.DeriveKey(cfg.TokenKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		db, err := storage.Open(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		backend, err := credential.NewSQLiteBackend(db, cfg.Namespace, key)
		if err != nil {
			return nil, nil, err
		}
		cache, err := newCache(db, cfg)
		if err != nil {
			return nil, nil, err
		}
		log.Debug().Str("dbPath", cfg.DBPath).Msg("credential store initialized")
		return backend, cache, nil

	case config.StoreRedis:
		key, err := credential.DeriveKey(cfg.TokenKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			// Store.Get treats an unreachable backend as logged out
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis is not reachable")
		}
		backend, err := credential.NewRedisBackend(client, redisKeyPrefix, cfg.Namespace, key)
		if err != nil {
			return nil, nil, err
		}
		return backend, nil, nil
	}
	return nil, nil, fmt.Errorf("unsupported store %q", cfg.Store)
}

func newCache(db *sql.DB, cfg *config.Config) (*storage.SQLiteCache, error) {
	if cfg.CacheTTL <= 0 {
		return nil, nil
	}
	return storage.NewSQLiteCache(db, cfg.CacheTTL)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("failed to close resource")
		}
	}
}
