// Package errs defines the engine's error taxonomy. Every failure path in the
// engine returns one of these kinds so handlers can populate reply status codes
// without inspecting error text.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure.
type Kind int

const (
	// KindInvalid marks a structurally malformed descriptor or envelope,
	// detected before authentication.
	KindInvalid Kind = iota
	// KindUnauthenticated marks a signature that is structurally or
	// cryptographically unverifiable, or an unresolvable signer.
	KindUnauthenticated
	// KindUnauthorized marks a correctly authenticated signer that lacks
	// permission for the attempted action.
	KindUnauthorized
	// KindNotFound marks a missing record, grant, or ancestor message.
	KindNotFound
	// KindStore marks an underlying message/data store failure.
	KindStore
)

// Error carries a kind alongside a human-readable detail and an optional cause.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.cause)
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.cause }

// Invalid returns a KindInvalid error.
func Invalid(format string, args ...any) error {
	return &Error{Kind: KindInvalid, Detail: fmt.Sprintf(format, args...)}
}

// Unauthenticated returns a KindUnauthenticated error.
func Unauthenticated(format string, args ...any) error {
	return &Error{Kind: KindUnauthenticated, Detail: fmt.Sprintf(format, args...)}
}

// Unauthorized returns a KindUnauthorized error.
func Unauthorized(format string, args ...any) error {
	return &Error{Kind: KindUnauthorized, Detail: fmt.Sprintf(format, args...)}
}

// NotFound returns a KindNotFound error.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Detail: fmt.Sprintf(format, args...)}
}

// Store wraps an underlying storage failure.
func Store(err error, format string, args ...any) error {
	return &Error{Kind: KindStore, Detail: fmt.Sprintf(format, args...), cause: err}
}

// Wrap attaches a kind to an existing error, preserving the cause chain.
func Wrap(kind Kind, err error, detail string) error {
	return &Error{Kind: kind, Detail: detail, cause: err}
}

// KindOf extracts the kind of err. Unclassified errors report KindStore, the
// conservative choice: they surface as 500s and are never silently retried.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Code maps an error kind to the HTTP-style status vocabulary used by replies.
// This is a borrowed taxonomy, not literal HTTP.
func Code(err error) int {
	switch KindOf(err) {
	case KindInvalid:
		return 400
	case KindUnauthenticated, KindUnauthorized:
		return 401
	case KindNotFound:
		return 404
	default:
		return 500
	}
}
