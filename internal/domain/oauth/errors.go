package oauth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRequest indicates caller input validation errors.
	ErrInvalidRequest = errors.New("oauth: invalid request")
	// ErrInvalidState indicates the callback state is missing, expired, or replayed.
	ErrInvalidState = errors.New("oauth: invalid state")
	// ErrNoToken signals that no token set has been stored yet.
	ErrNoToken = errors.New("oauth: no stored token")
	// ErrNeedsReauth signals that automatic recovery is impossible and the
	// end user must go back through the authorization-code flow.
	ErrNeedsReauth = errors.New("oauth: reauthorization required")
	// ErrNotConfigured signals missing client credentials. Operator action,
	// not user action, is required.
	ErrNotConfigured = errors.New("oauth: provider credentials not configured")
)

// ErrorKind classifies provider failures so callers can decide between
// re-login, retry-later, and give-up without parsing messages.
type ErrorKind string

const (
	KindInvalidGrant      ErrorKind = "invalid_grant"
	KindRateLimited       ErrorKind = "rate_limited"
	KindMalformedResponse ErrorKind = "invalid_response"
	KindTransient         ErrorKind = "transient"
)

// ProviderError is a normalized failure from the Podio token endpoint or API.
type ProviderError struct {
	Kind        ErrorKind
	Status      int
	Code        string
	Description string
	RetryAfter  time.Duration
	Err         error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("podio: %s (status=%d code=%s)", e.Kind, e.Status, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("podio: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("podio: %s (status=%d)", e.Kind, e.Status)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err, or "" when err is not a ProviderError.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsInvalidGrant reports whether the provider rejected the credential itself,
// which is terminal for that token family.
func IsInvalidGrant(err error) bool { return KindOf(err) == KindInvalidGrant }

// IsRateLimited reports whether the provider returned 429.
func IsRateLimited(err error) bool { return KindOf(err) == KindRateLimited }

// IsMalformed reports whether the provider returned a non-JSON body where
// JSON was expected.
func IsMalformed(err error) bool { return KindOf(err) == KindMalformedResponse }

// IsTransient reports whether the failure is a network error, timeout, or
// provider 5xx that a later attempt may not see.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// RetryAfterOf returns the provider supplied retry hint, if any.
func RetryAfterOf(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}
