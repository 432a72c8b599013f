// Package common holds the error taxonomy shared by the coordinator, the
// stores and the verification gate. Callers compare with errors.Is.
package common

import (
	"context"
	"errors"
)

var (
	// coordinator / store errors
	ErrConflict         = errors.New("conflict: an active session already exists")
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation error")
	ErrDuplicate        = errors.New("attendance already marked for this session")
	ErrInactiveSession  = errors.New("session is not active")
	ErrStoreUnavailable = errors.New("store unavailable")

	// verification gate errors
	ErrVerificationFailed = errors.New("verification failed")
	ErrDeviceUnavailable  = errors.New("capture device unavailable")
	ErrAlreadyInProgress  = errors.New("verification already in progress")
)

// Unavailable wraps a transport failure so that it matches ErrStoreUnavailable
// while keeping the underlying cause in the chain.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Failed is Unavailable for calls made on behalf of ctx: once ctx is done the
// context error is returned as is, so a caller that went away is not reported
// as an outage.
func Failed(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return Unavailable(op, err)
}

// StoreError is a connectivity failure reported by a store or broker backend.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return e.Op + ": " + ErrStoreUnavailable.Error() + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }
