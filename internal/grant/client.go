// Package grant talks to the backend token endpoint: the password and
// refresh_token grants and account registration.
package grant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	TokenPath    = "/auth/token"
	RegisterPath = "/auth/register"

	DefaultTimeout = 15 * time.Second
	UserAgent      = "rentals-client/1.0"
)

type ClientOpts struct {
	BaseURL string
	// Timeout bounds every grant call. A timed-out call is KindNetwork.
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	httpClient *resty.Client
}

func NewClient(opts ClientOpts) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetDebug(false).
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeaders(map[string]string{
			"Accept":     "application/json",
			"User-Agent": UserAgent,
		})
	return &Client{httpClient: rc}
}

// PasswordGrant logs in with username and password.
func (c *Client) PasswordGrant(ctx context.Context, username, password string) (*Response, error) {
	return c.Exchange(ctx, PasswordGrant{Username: username, Password: password})
}

// RefreshGrant exchanges a refresh token. A 400 or 401 means the refresh token
// itself is dead and is reported as KindInvalidRefreshToken.
func (c *Client) RefreshGrant(ctx context.Context, refreshToken string) (*Response, error) {
	return c.Exchange(ctx, RefreshGrant{RefreshToken: refreshToken})
}

// Exchange submits any grant to the token endpoint.
func (c *Client) Exchange(ctx context.Context, g Request) (*Response, error) {
	op := g.op()
	form := g.form()
	res, err := c.httpClient.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		Post(TokenPath)
	if err != nil {
		return nil, &AuthError{Op: op, Kind: KindNetwork, Err: err}
	}

	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		authErr := classifyStatus(op, g.isRefresh(), res)
		log.Debug().Str("op", op).Int("status", res.StatusCode()).Str("kind", string(authErr.Kind)).Msg("grant rejected")
		return nil, authErr
	}

	var out Response
	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return nil, &AuthError{Op: op, Kind: KindInvalidResponse, Status: res.StatusCode(), Err: fmt.Errorf("failed to parse token response: %w", err)}
	}
	if err := out.validate(!g.isRefresh()); err != nil {
		return nil, &AuthError{Op: op, Kind: KindInvalidResponse, Status: res.StatusCode(), Err: err}
	}
	return &out, nil
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	const op = "Register"
	if req.Email == "" || req.Password == "" {
		return nil, &AuthError{Op: op, Kind: KindInvalidCredentials, Err: errors.New("email and password are required")}
	}
	res, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(RegisterPath)
	if err != nil {
		return nil, &AuthError{Op: op, Kind: KindNetwork, Err: err}
	}
	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		return nil, classifyStatus(op, false, res)
	}

	var user User
	if err := json.Unmarshal(res.Body(), &user); err != nil {
		return nil, &AuthError{Op: op, Kind: KindInvalidResponse, Status: res.StatusCode(), Err: fmt.Errorf("failed to parse user: %w", err)}
	}
	return &user, nil
}

// oauthError is the standard OAuth error body.
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

// classifyStatus maps a non-2xx token endpoint response to an AuthError using
// the status code only. The body is parsed for display.
func classifyStatus(op string, refresh bool, res *resty.Response) *AuthError {
	status := res.StatusCode()
	e := &AuthError{Op: op, Status: status}

	var body oauthError
	if json.Unmarshal(res.Body(), &body) == nil {
		e.Code = body.Error
		e.Description = body.ErrorDescription
		if e.Description == "" {
			e.Description = body.Message
		}
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		switch op {
		case "Register":
			e.Kind = KindUnexpectedStatus
		default:
			if refresh {
				e.Kind = KindInvalidRefreshToken
			} else {
				e.Kind = KindInvalidCredentials
			}
		}
	case status >= 500:
		e.Kind = KindServerError
	default:
		e.Kind = KindUnexpectedStatus
	}
	return e
}
