package eventstore

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable wraps failures of the underlying database. Appends
// surface it loudly (a silently dropped write defeats the whole system)
// while read paths (the assembler in particular) catch it and degrade.
var ErrStoreUnavailable = errors.New("store unavailable")

// ValidationError reports malformed input to a write operation. The caller
// must fix the input; these are never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("eventstore: invalid %s: %s", e.Field, e.Reason)
}

// InvalidQueryError reports a query missing required bounds, most commonly
// an absent limit. Unbounded scans are refused outright.
type InvalidQueryError struct {
	Reason string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("eventstore: invalid query: %s", e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInvalidQuery reports whether err is an InvalidQueryError.
func IsInvalidQuery(err error) bool {
	var qe *InvalidQueryError
	return errors.As(err, &qe)
}

// unavailable wraps a low-level database error so callers can detect it
// with errors.Is(err, ErrStoreUnavailable) without losing the cause.
func unavailable(op string, err error) error {
	return fmt.Errorf("eventstore: %s: %w: %v", op, ErrStoreUnavailable, err)
}
