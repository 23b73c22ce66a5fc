package api

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindHTTP           Kind = "HTTP"
	KindNetwork        Kind = "Network"
	KindSessionExpired Kind = "SessionExpired"
)

// ApiError is returned by the dispatcher and by Response.Err.
type ApiError struct {
	Op     string // "METHOD /path"
	Kind   Kind
	Status int
	Body   []byte
	Err    error
}

func (e *ApiError) Error() string {
	if e == nil {
		return "api error"
	}
	switch {
	case e.Kind == KindHTTP:
		return fmt.Sprintf("%s: %s", e.Op, http.StatusText(e.Status))
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *ApiError) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first ApiError in err's chain, or "".
func KindOf(err error) Kind {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsSessionExpired reports whether the caller must sign in again.
func IsSessionExpired(err error) bool {
	return KindOf(err) == KindSessionExpired
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
