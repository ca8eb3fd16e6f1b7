// Package apperr defines the error-kind taxonomy shared across mnemex's
// storage, retrieval, and dispatch layers (see spec §7).
package apperr

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind classifies an error for propagation-policy purposes. It is a
// closed vocabulary, not a Go type hierarchy: callers switch on Kind
// rather than type-asserting concrete error structs.
type Kind string

const (
	InvalidInput           Kind = "invalid_input"
	NotFound               Kind = "not_found"
	Conflict               Kind = "conflict"
	LockTimeout            Kind = "lock_timeout"
	VectorBackendUnavailable Kind = "vector_backend_unavailable"
	EmbedderUnavailable    Kind = "embedder_unavailable"
	IntegrityFailure       Kind = "integrity_failure"
	PluginFailure          Kind = "plugin_failure"
	Transient              Kind = "transient"
	Fatal                  Kind = "fatal"
)

// Error is the typed error carried internally. At the tool-dispatch
// boundary it collapses to the wire {error: string} shape via Sanitize.
type Error struct {
	Kind  Kind
	Op    string
	Field string // set for InvalidInput errors naming the offending field
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with an operation name and kind. A nil err returns nil,
// mirroring beads' wrapDBError convention.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Invalid builds a validation error naming the offending field.
func Invalid(op, field, msg string) error {
	return &Error{Kind: InvalidInput, Op: op, Field: field, Err: errors.New(msg)}
}

// KindOf extracts the Kind of err, defaulting to Fatal for unrecognized errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

var absPathPattern = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[^\s:]+)`)

const maxWireMessageLen = 200

// Sanitize prepares an error message for the wire: absolute paths are
// replaced with "[path]" and the message is truncated to 200 characters,
// per spec §6/§7. No stack traces ever cross this boundary.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = absPathPattern.ReplaceAllString(msg, "[path]")
	msg = strings.TrimSpace(msg)
	if r := []rune(msg); len(r) > maxWireMessageLen {
		msg = string(r[:maxWireMessageLen])
	}
	return msg
}
