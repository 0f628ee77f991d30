// Package storage holds the sentinel errors shared by every store adapter.
//
// Adapters return these (optionally wrapped) so callers can tell a missing record
// from an unreachable backend:
//   - ErrNotFound: the record does not exist
//   - ErrConflict: an insert-only record already exists
//   - ErrUnavailable: the backend could not be reached or timed out
package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("store unavailable")
)

// Unavailable wraps a transport or driver failure so errors.Is(err, ErrUnavailable) holds
// while the driver error stays inspectable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// IsUnavailable reports whether err means the backend could not be reached.
// Context cancellation and deadlines count as unavailability.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
