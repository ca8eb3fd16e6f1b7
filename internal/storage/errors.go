package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel errors surfaced by storage operations. Callers match these with
// errors.Is; apperr.KindOf maps them onto the dispatcher-facing error kinds.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid")
)

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to ErrNotFound so callers can use errors.Is uniformly.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
