package grant

import (
	"errors"
	"fmt"
)

// Kind classifies a failed grant so callers can decide between re-login,
// retry later and forced logout.
type Kind string

const (
	KindInvalidCredentials  Kind = "InvalidCredentials"
	KindInvalidRefreshToken Kind = "InvalidRefreshToken"
	KindSessionExpired      Kind = "SessionExpired"
	KindNetwork             Kind = "NetworkError"
	KindServerError         Kind = "ServerError"
	KindUnexpectedStatus    Kind = "UnexpectedStatus"
	KindInvalidResponse     Kind = "InvalidResponse"
)

// AuthError describes a failed call to the auth endpoints.
type AuthError struct {
	Op     string
	Kind   Kind
	Status int // HTTP status, 0 for transport failures
	// Code and Description come from an OAuth error body, for display only.
	Code        string
	Description string
	Err         error
}

func (e *AuthError) Error() string {
	if e == nil {
		return "auth error"
	}
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Description != "" {
		msg += ": " + e.Description
	} else if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// Transient reports whether the failure leaves the stored credential valid.
func (e *AuthError) Transient() bool {
	switch e.Kind {
	case KindNetwork, KindServerError, KindInvalidResponse, KindUnexpectedStatus:
		return true
	}
	return false
}

// KindOf returns the Kind of the first AuthError in err's chain, or "".
func KindOf(err error) Kind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return ""
}

// IsKind reports whether err carries an AuthError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
