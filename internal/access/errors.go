package access

import "errors"

var (
	// ErrInvalidInput marks validation failures: unknown permission types, malformed
	// ids, expirations in the past.
	ErrInvalidInput = errors.New("access: invalid input")
	// ErrPermissionDenied is the business-rule rejection raised when sharing without
	// holding the required permissions.
	ErrPermissionDenied = errors.New("access: permission denied")
	// ErrStorage wraps every failure reported by a backing store.
	ErrStorage = errors.New("access: storage failure")
	// ErrConflict reports a concurrent write that could not be serialized.
	ErrConflict = errors.New("access: write conflict")
)
