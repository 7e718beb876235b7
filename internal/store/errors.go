package store

import (
	"errors"
	"fmt"
)

// Op names a store operation in a StoreError.
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpRemove Op = "remove"
	OpGetAll Op = "get_all"
	OpSweep  Op = "sweep"
	OpPing   Op = "ping"
)

// StoreError is returned by every lease store backend.
type StoreError struct {
	// Op is the failed operation.
	Op Op

	// Key is the key, or the prefix for get_all and sweep.
	Key string

	// Err is the underlying driver error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("lease store %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the driver error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewError wraps err as a StoreError. Other backends use it so that callers
// can match any store failure with IsStoreError.
func NewError(op Op, key string, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Err: err}
}

// IsStoreError returns true if err is, or wraps, a StoreError.
// Uses errors.As to handle wrapped errors.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
