// Package api sends authenticated requests to the backend. Every resource
// call goes through Dispatcher.Do, which attaches the bearer token and, on a
// 401, refreshes once and replays the request once.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/raine/rentals-client/internal/grant"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout  = 30 * time.Second
	RequestIDHeader = "X-Request-ID"
)

// TokenSource is the part of session.Session the dispatcher needs.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context, stale string) (string, error)
}

type Opts struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Dispatcher struct {
	httpClient *resty.Client
	tokens     TokenSource
}

func NewDispatcher(tokens TokenSource, opts Opts) *Dispatcher {
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
			"User-Agent": grant.UserAgent,
		})
	return &Dispatcher{httpClient: rc, tokens: tokens}
}

// Request is one logical call. It is captured in full before the first attempt
// so a replay after refresh is identical.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	// Body is sent as is when it is []byte, otherwise encoded as JSON.
	Body any
	// SkipAuth sends the request without a bearer token and never refreshes.
	// Only then may a caller-supplied Authorization header pass through.
	SkipAuth bool
}

// Response is a completed HTTP exchange with the body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	op         string
}

// Err returns an ApiError for non-2xx responses.
func (r *Response) Err() error {
	if r.StatusCode >= 200 && r.StatusCode <= 299 {
		return nil
	}
	return &ApiError{Op: r.op, Kind: KindHTTP, Status: r.StatusCode, Body: r.Body}
}

// Decode checks the status and decodes the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if v == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", r.op, err)
	}
	return nil
}

// Call is shorthand for Do with a method, path, optional body and headers.
func (d *Dispatcher) Call(ctx context.Context, method, path string, body any, header http.Header) (*Response, error) {
	return d.Do(ctx, &Request{Method: method, Path: path, Body: body, Header: header})
}

// Do sends req. Any response other than 401 is returned as is for the caller
// to interpret. A 401 triggers one refresh and one replay; a second 401 or an
// expired session fails with KindSessionExpired.
func (d *Dispatcher) Do(ctx context.Context, req *Request) (*Response, error) {
	op := req.Method + " " + req.Path

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode body: %w", op, err)
	}
	requestID := uuid.NewString()

	if req.SkipAuth {
		return d.send(ctx, req, op, body, requestID, "")
	}

	token, err := d.tokens.AccessToken(ctx)
	if err != nil {
		return nil, tokenError(op, err)
	}

	res, err := d.send(ctx, req, op, body, requestID, token)
	if err != nil || res.StatusCode != http.StatusUnauthorized {
		return res, err
	}

	log.Debug().Str("op", op).Str("requestId", requestID).Msg("got 401, refreshing token")
	token, err = d.tokens.Refresh(ctx, token)
	if err != nil {
		return nil, tokenError(op, err)
	}

	res, err = d.send(ctx, req, op, body, requestID, token)
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusUnauthorized {
		log.Warn().Str("op", op).Str("requestId", requestID).Msg("still unauthorized after refresh")
		return nil, &ApiError{Op: op, Kind: KindSessionExpired, Status: http.StatusUnauthorized, Body: res.Body}
	}
	return res, nil
}

func (d *Dispatcher) send(ctx context.Context, req *Request, op string, body []byte, requestID, token string) (*Response, error) {
	r := d.httpClient.R().SetContext(ctx)
	for name, values := range req.Header {
		for _, v := range values {
			r.Header.Add(name, v)
		}
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	r.Header.Set(RequestIDHeader, requestID)
	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}
	if body != nil {
		if r.Header.Get("Content-Type") == "" {
			r.Header.Set("Content-Type", "application/json")
		}
		r.SetBody(bytes.NewReader(body))
	}

	res, err := r.Execute(req.Method, req.Path)
	if err != nil {
		return nil, &ApiError{Op: op, Kind: KindNetwork, Err: err}
	}
	return &Response{
		StatusCode: res.StatusCode(),
		Header:     res.Header(),
		Body:       res.Body(),
		op:         op,
	}, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(b)
	}
}

// tokenError maps a session failure to the dispatcher taxonomy: an expired
// session stays SessionExpired, anything else is a transient network failure.
func tokenError(op string, err error) error {
	if grant.IsKind(err, grant.KindSessionExpired) || grant.IsKind(err, grant.KindInvalidRefreshToken) {
		return &ApiError{Op: op, Kind: KindSessionExpired, Err: err}
	}
	return &ApiError{Op: op, Kind: KindNetwork, Err: err}
}
