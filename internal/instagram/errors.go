package instagram

import (
	"errors"
	"fmt"
)

// ErrorKind classifies API failures so callers can tell "session is dead"
// apart from "this media is gone" without string matching.
type ErrorKind int

const (
	KindClient ErrorKind = iota
	KindLoginRequired
	KindBadCredentials
	KindChallenge
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindLoginRequired:
		return "login_required"
	case KindBadCredentials:
		return "bad_credentials"
	case KindChallenge:
		return "challenge_required"
	case KindNotFound:
		return "not_found"
	default:
		return "client_error"
	}
}

// APIError is any non-2xx or error-status response from the service.
type APIError struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("instagram: %s (http %d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("instagram: %s (http %d): %s", e.Kind, e.Status, e.Message)
}

// IsAuthError reports whether err means the session is no longer authorized
// and a re-login could help.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Kind == KindLoginRequired || apiErr.Kind == KindChallenge
}

// IsBadCredentials reports whether err means the configured password is wrong;
// retrying a login with the same credentials cannot succeed.
func IsBadCredentials(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindBadCredentials
}

// IsNotFound reports whether err means the requested media does not exist or
// is not visible to this account.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindNotFound
}
