package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrUnavailable = errors.New("storage: unavailable")
	ErrWrite       = errors.New("storage: write failed")
	ErrInvalidCID  = errors.New("storage: invalid cid")
	ErrCIDMismatch = errors.New("storage: cid mismatch")
	ErrImmutable   = errors.New("storage: immutable object mismatch")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// Unavailable wraps a transport failure so that it matches ErrUnavailable
// while keeping the underlying cause. Cancellation is returned as is; a
// deadline counts as the store being unreachable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// WriteFailed wraps a rejected write so that it matches ErrWrite.
func WriteFailed(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrWrite, op, err)
}
