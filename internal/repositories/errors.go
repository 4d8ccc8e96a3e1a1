package repositories

import (
	"errors"
	"fmt"
)

// StoreErrorKind classifies failures raised by storage adapters that do not carry their own
// backend error type.
type StoreErrorKind string

const (
	// StoreErrorNotFound indicates the requested record does not exist.
	StoreErrorNotFound StoreErrorKind = "not_found"
	// StoreErrorConflict indicates a uniqueness or optimistic concurrency violation.
	StoreErrorConflict StoreErrorKind = "conflict"
	// StoreErrorUnavailable indicates a transient backend failure.
	StoreErrorUnavailable StoreErrorKind = "unavailable"
)

// StoreError implements RepositoryError for the memory and SQL backends.
type StoreError struct {
	Op   string
	Kind StoreErrorKind
	Err  error
}

var _ RepositoryError = (*StoreError)(nil)

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the record was missing.
func (e *StoreError) IsNotFound() bool { return e != nil && e.Kind == StoreErrorNotFound }

// IsConflict reports whether a uniqueness constraint was violated.
func (e *StoreError) IsConflict() bool { return e != nil && e.Kind == StoreErrorConflict }

// IsUnavailable reports whether the backend was unreachable.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == StoreErrorUnavailable }

// NewNotFound builds a not-found StoreError.
func NewNotFound(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: StoreErrorNotFound, Err: err}
}

// NewConflict builds a conflict StoreError.
func NewConflict(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: StoreErrorConflict, Err: err}
}

// NewUnavailable builds an unavailable StoreError.
func NewUnavailable(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: StoreErrorUnavailable, Err: err}
}

// IsNotFound reports whether err is a RepositoryError flagged as not found.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a RepositoryError flagged as a conflict.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err is a RepositoryError flagged as unavailable.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
