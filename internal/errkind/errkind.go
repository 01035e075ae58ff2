// Package errkind classifies failures so callers can pick a recovery
// strategy without inspecting error strings.
package errkind

import (
	"errors"
	"fmt"
)

// Kind buckets an error by the recovery policy it demands.
type Kind int

const (
	// Unknown is the zero kind for unclassified errors.
	Unknown Kind = iota
	// Transient covers dropped sockets, timeouts, 5xx and 429 responses.
	// Retry locally with bounded attempts and backoff.
	Transient
	// AuthExpired is an HTTP 401 from the platform. Refresh once and retry once.
	AuthExpired
	// Subscription means an event subscription could not be established.
	// The coordinator reacts by dropping to the fallback source.
	Subscription
	// InvalidInput covers unparseable URLs, unknown users and missing clips.
	// Surface as chat feedback, do not retry.
	InvalidInput
	// Playback is a runtime failure while driving a clip through the engine.
	// Counted per clip id toward quarantine.
	Playback
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case AuthExpired:
		return "auth_expired"
	case Subscription:
		return "subscription"
	case InvalidInput:
		return "invalid_input"
	case Playback:
		return "playback"
	default:
		return "unknown"
	}
}

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind. A nil err yields a bare kinded error.
func New(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// Newf wraps a formatted message with a kind.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err, or Unknown if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
