// Package errs defines the error kinds shared across the indexing engine.
//
// Callers should check kind with errors.Is against the sentinels below.
// Most construction sites wrap with fmt.Errorf's %w, matching the
// teacher's own convention; sites closer to the OS/SQL boundary (dbpool's
// Acquire) use github.com/pkg/errors.Wrap instead, to retain a stack
// trace in the log line when the underlying failure wasn't one of the
// sentinels here.
package errs

import "errors"

var (
	// ErrNotFound means a lookup by id or path found nothing. Get operations
	// return it instead of panicking or returning a zero value
	// indistinguishable from "found"; list operations return an empty
	// result instead.
	ErrNotFound = errors.New("not found")

	// ErrValidation means the caller supplied bad input: a missing or
	// non-directory path, a path that cannot be made absolute, an unknown
	// search field. No state is mutated when this is returned. (A duplicate
	// scan target is reported as ErrAlreadyExists.)
	ErrValidation = errors.New("validation failed")

	// ErrPersistence means the underlying SQL engine or connection failed.
	// Callers performing a transaction should roll back on this.
	ErrPersistence = errors.New("persistence failure")

	// ErrAlreadyExists means an insert collided with a uniqueness
	// constraint (duplicate directory_path or file_path).
	ErrAlreadyExists = errors.New("already exists")

	// ErrClosed means an operation was attempted on a Catalogue or a
	// scan-target Store after it was closed (a closed Scanner's Search and
	// Stats surface it from its catalogue).
	ErrClosed = errors.New("already closed")
)
