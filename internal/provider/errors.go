package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/FranksOps/seedling/pkg/httpclient"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindRateLimited    Kind = "rate_limited"
	KindQuotaExhausted Kind = "quota_exhausted"
	KindTransient      Kind = "transient"
	KindParseFailure   Kind = "parse_failure"
	KindAuthFailure    Kind = "auth_failure"
	KindInvalidRequest Kind = "invalid_request"
)

// Retryable reports whether another attempt may succeed.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindTransient
}

// Halts reports whether the failure affects every later call to the provider.
func (k Kind) Halts() bool {
	return k == KindAuthFailure || k == KindQuotaExhausted
}

// Error is the only error type Access.Fetch returns.
type Error struct {
	Kind     Kind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, provider.ErrAuthFailure).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && (t.Provider == "" || t.Provider == e.Provider)
}

var (
	ErrRateLimited    = &Error{Kind: KindRateLimited}
	ErrQuotaExhausted = &Error{Kind: KindQuotaExhausted}
	ErrTransient      = &Error{Kind: KindTransient}
	ErrParseFailure   = &Error{Kind: KindParseFailure}
	ErrAuthFailure    = &Error{Kind: KindAuthFailure}
	ErrInvalidRequest = &Error{Kind: KindInvalidRequest}
)

// KindOf returns the kind of a provider error, or "" for other errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Classify maps a raw transport error onto the provider taxonomy.
// Errors that are already *Error keep their kind.
func Classify(name string, err error) *Error {
	if err == nil {
		return nil
	}

	var pe *Error
	if errors.As(err, &pe) {
		if pe.Provider == "" {
			return &Error{Kind: pe.Kind, Provider: name, Err: pe.Err}
		}
		return pe
	}

	var se *httpclient.StatusError
	if errors.As(err, &se) {
		return &Error{Kind: statusKind(se.Code), Provider: name, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTransient, Provider: name, Err: err}
	}

	// Anything else from a transport is a timeout or connection failure.
	return &Error{Kind: KindTransient, Provider: name, Err: err}
}

func statusKind(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuthFailure
	case code == http.StatusPaymentRequired:
		return KindQuotaExhausted
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout || code >= 500:
		return KindTransient
	}
	return KindInvalidRequest
}

// ParseError wraps a decode failure so it is never retried.
func ParseError(name string, err error) *Error {
	return &Error{Kind: KindParseFailure, Provider: name, Err: err}
}
