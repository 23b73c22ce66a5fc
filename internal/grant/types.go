package grant

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Request is a grant submitted to the token endpoint: PasswordGrant or
// RefreshGrant.
type Request interface {
	form() url.Values
	op() string
	isRefresh() bool
}

// PasswordGrant exchanges user credentials for a token pair.
type PasswordGrant struct {
	Username string
	Password string
}

func (g PasswordGrant) form() url.Values {
	return url.Values{
		"grant_type": {"password"},
		"username":   {g.Username},
		"password":   {g.Password},
	}
}

func (PasswordGrant) op() string      { return "PasswordGrant" }
func (PasswordGrant) isRefresh() bool { return false }

// RefreshGrant exchanges a refresh token for a new token pair.
type RefreshGrant struct {
	RefreshToken string
}

func (g RefreshGrant) form() url.Values {
	return url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {g.RefreshToken},
	}
}

func (RefreshGrant) op() string      { return "RefreshGrant" }
func (RefreshGrant) isRefresh() bool { return true }

// Response is the token endpoint payload.
type Response struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int64          `json:"expires_in"`
	Properties   map[string]any `json:"properties,omitempty"`
}

// validate checks the response before it may become a credential. Refresh
// responses may omit refresh_token, in which case the caller keeps the old one.
func (r *Response) validate(requireRefresh bool) error {
	if r.AccessToken == "" {
		return errors.New("access_token is empty")
	}
	if requireRefresh && r.RefreshToken == "" {
		return errors.New("refresh_token is empty")
	}
	if r.TokenType != "" && !strings.EqualFold(r.TokenType, "bearer") {
		return fmt.Errorf("unexpected token_type: %s", r.TokenType)
	}
	if r.ExpiresIn <= 0 {
		if _, ok := jwtExpiry(r.AccessToken); !ok {
			return fmt.Errorf("expires_in must be positive, got %d", r.ExpiresIn)
		}
	}
	return nil
}

// ExpiresAt computes the access token expiry as now + expires_in, falling
// back to the JWT exp claim when the server omitted expires_in.
func (r *Response) ExpiresAt(now time.Time) time.Time {
	if r.ExpiresIn > 0 {
		return now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	if exp, ok := jwtExpiry(r.AccessToken); ok {
		return exp
	}
	return time.Time{}
}

// jwtExpiry reads exp without verifying the signature; the client only needs
// to know when to refresh, the server still validates the token.
func jwtExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// RegisterRequest is the /auth/register body.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// User is the account record returned by /auth/register.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// UnmarshalJSON accepts both firstName/lastName and firstname/lastname, the
// backends in use disagree on casing.
func (u *User) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        json.RawMessage `json:"id"`
		Email     string          `json:"email"`
		FirstName string          `json:"firstName"`
		LastName  string          `json:"lastName"`
		FirstLow  string          `json:"firstname"`
		LastLow   string          `json:"lastname"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = User{Email: raw.Email, FirstName: raw.FirstName, LastName: raw.LastName}
	if u.FirstName == "" {
		u.FirstName = raw.FirstLow
	}
	if u.LastName == "" {
		u.LastName = raw.LastLow
	}
	u.ID = rawID(raw.ID)
	return nil
}

// rawID keeps numeric and string ids alike as strings.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
