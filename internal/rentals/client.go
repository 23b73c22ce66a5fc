// Package rentals is a typed client for the rental-property resources. All
// calls go through an api.Dispatcher, so they carry the session's bearer
// token and survive one token expiry transparently.
package rentals

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/raine/rentals-client/internal/api"
	"github.com/raine/rentals-client/internal/grant"
	"github.com/rs/zerolog/log"
)

// Doer is implemented by *api.Dispatcher.
type Doer interface {
	Do(ctx context.Context, req *api.Request) (*api.Response, error)
}

// Cache holds raw response bodies keyed by API path. *storage.SQLiteCache
// implements it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, body []byte) error
	Invalidate(ctx context.Context, key string) error
	Purge(ctx context.Context) error
}

// AuthChecker is implemented by *session.Session.
type AuthChecker interface {
	IsAuthenticated(ctx context.Context) bool
}

type Client struct {
	api   Doer
	cache Cache
	auth  AuthChecker
}

// NewClient returns a Client. cache may be nil. When auth is set, cached
// bodies are only served while it reports a signed-in user.
func NewClient(d Doer, cache Cache, auth AuthChecker) *Client {
	return &Client{api: d, cache: cache, auth: auth}
}

const (
	propertiesPath = "/properties"
	dashboardPath  = "/dashboard"
	profilePath    = "/profile"
)

func propertyPath(id string) string {
	return propertiesPath + "/" + url.PathEscape(id)
}

func (c *Client) ListProperties(ctx context.Context) ([]Property, error) {
	var out []Property
	if err := c.getCached(ctx, propertiesPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetProperty(ctx context.Context, id string) (*Property, error) {
	var out Property
	if err := c.getCached(ctx, propertyPath(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateProperty(ctx context.Context, in PropertyInput) (*Property, error) {
	var out Property
	if err := c.send(ctx, http.MethodPost, propertiesPath, in, &out, propertiesPath, dashboardPath); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProperty(ctx context.Context, id string, in PropertyInput) (*Property, error) {
	var out Property
	if err := c.send(ctx, http.MethodPut, propertyPath(id), in, &out, propertiesPath); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteProperty(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, propertyPath(id), nil, nil, propertiesPath, dashboardPath)
}

func (c *Client) ListLeases(ctx context.Context, propertyID string) ([]Lease, error) {
	var out []Lease
	if err := c.get(ctx, propertyPath(propertyID)+"/leases", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateLease(ctx context.Context, propertyID string, in LeaseInput) (*Lease, error) {
	var out Lease
	if err := c.send(ctx, http.MethodPost, propertyPath(propertyID)+"/leases", in, &out, dashboardPath); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EndLease(ctx context.Context, leaseID string) (*Lease, error) {
	var out Lease
	if err := c.send(ctx, http.MethodPost, "/leases/"+url.PathEscape(leaseID)+"/end", nil, &out, dashboardPath); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListRooms(ctx context.Context, propertyID string) ([]Room, error) {
	var out []Room
	if err := c.get(ctx, propertyPath(propertyID)+"/rooms", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateRoom(ctx context.Context, propertyID string, in RoomInput) (*Room, error) {
	var out Room
	if err := c.send(ctx, http.MethodPost, propertyPath(propertyID)+"/rooms", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListFurniture(ctx context.Context, roomID string) ([]Furniture, error) {
	var out []Furniture
	if err := c.get(ctx, "/rooms/"+url.PathEscape(roomID)+"/furniture", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddFurniture(ctx context.Context, roomID string, in FurnitureInput) (*Furniture, error) {
	var out Furniture
	if err := c.send(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/furniture", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListDamages(ctx context.Context, propertyID string) ([]Damage, error) {
	var out []Damage
	if err := c.get(ctx, propertyPath(propertyID)+"/damages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ReportDamage(ctx context.Context, propertyID string, in DamageInput) (*Damage, error) {
	var out Damage
	if err := c.send(ctx, http.MethodPost, propertyPath(propertyID)+"/damages", in, &out, dashboardPath); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Dashboard(ctx context.Context) (*Dashboard, error) {
	var out Dashboard
	if err := c.getCached(ctx, dashboardPath, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile returns the signed-in user's account record.
func (c *Client) Profile(ctx context.Context) (*grant.User, error) {
	var out grant.User
	if err := c.getCached(ctx, profilePath, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PurgeCache drops every cached entity. Call it on logout.
func (c *Client) PurgeCache(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Purge(ctx)
}

// HandleAuthChange drops every cached body. It is meant for
// session.Options.OnAuthChange, so a new login never sees the previous
// user's data.
func (c *Client) HandleAuthChange(ctx context.Context, authenticated bool) {
	if err := c.PurgeCache(ctx); err != nil {
		log.Warn().Err(err).Bool("authenticated", authenticated).Msg("failed to purge response cache")
	}
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	_, err := c.fetch(ctx, path, v)
	return err
}

// getCached serves path from the cache when possible. Cache failures are
// logged and fall through to the network. Without a session nothing is read
// from the cache.
func (c *Client) getCached(ctx context.Context, path string, v any) error {
	if c.cache != nil && (c.auth == nil || c.auth.IsAuthenticated(ctx)) {
		body, ok, err := c.cache.Get(ctx, path)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("path", path).Msg("cache read failed")
		case ok:
			if err := json.Unmarshal(body, v); err == nil {
				log.Debug().Str("path", path).Msg("cache hit")
				return nil
			}
			log.Warn().Str("path", path).Msg("dropping undecodable cache entry")
		}
	}

	body, err := c.fetch(ctx, path, v)
	if err != nil {
		if c.cache != nil && api.IsSessionExpired(err) {
			c.HandleAuthChange(ctx, false)
		}
		return err
	}
	if c.cache != nil {
		if err := c.cache.Put(ctx, path, body); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("cache write failed")
		}
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, path string, v any) ([]byte, error) {
	res, err := c.api.Do(ctx, &api.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return nil, err
	}
	if err := res.Decode(v); err != nil {
		return nil, err
	}
	return res.Body, nil
}

// send performs a write and, once it succeeds, invalidates the given cache
// keys.
func (c *Client) send(ctx context.Context, method, path string, body, v any, invalidate ...string) error {
	res, err := c.api.Do(ctx, &api.Request{Method: method, Path: path, Body: body})
	if err != nil {
		return err
	}
	if err := res.Decode(v); err != nil {
		return err
	}
	if c.cache == nil {
		return nil
	}
	for _, key := range invalidate {
		if err := c.cache.Invalidate(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache invalidation failed")
		}
	}
	return nil
}
