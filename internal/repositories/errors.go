package repositories

import (
	"errors"
	"fmt"
)

// StoreError is the RepositoryError implementation shared by the memory and postgres backends.
type StoreError struct {
	Op          string
	Err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

var _ RepositoryError = (*StoreError)(nil)

// Error implements error.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound implements RepositoryError.
func (e *StoreError) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict implements RepositoryError.
func (e *StoreError) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable implements RepositoryError.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.unavailable }

// NewNotFoundError reports a missing record.
func NewNotFoundError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, notFound: true}
}

// NewConflictError reports a uniqueness or concurrent modification failure.
func NewConflictError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, conflict: true}
}

// NewUnavailableError reports a transient backend failure.
func NewUnavailableError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, unavailable: true}
}

// IsNotFound reports whether err carries a not-found classification.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries a conflict classification.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
