package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
	"github.com/Proots-Foundation/pRoots-command-line/codec"
	"github.com/Proots-Foundation/pRoots-command-line/proots"
	"github.com/Proots-Foundation/pRoots-command-line/resolver"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
)

type ErrorCode string

const (
	ErrUnavailable    ErrorCode = "UNAVAILABLE"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrMalformed      ErrorCode = "MALFORMED"
	ErrInvalid        ErrorCode = "INVALID"
	ErrWriteFailed    ErrorCode = "WRITE_FAILED"
	ErrCIDMismatch    ErrorCode = "CID_MISMATCH"
	ErrInvalidCID     ErrorCode = "INVALID_CID"
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrMissingCAS     ErrorCode = "MISSING_CAS"
	ErrCanceled       ErrorCode = "CANCELED"
	ErrInternal       ErrorCode = "INTERNAL"
)

// CodedError is a stable error with a machine-readable code and a human message.
//
// Index is set when the failure belongs to one annotation of a sequence.
type CodedError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Index   *int      `json:"index,omitempty"`

	cause error
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Headline is the one-line, user-facing description of the failure class.
func (e *CodedError) Headline() string {
	if e == nil {
		return ""
	}
	var h string
	switch e.Code {
	case ErrUnavailable:
		h = "store unreachable"
	case ErrNotFound:
		h = "record not found"
	case ErrMalformed:
		h = "record malformed"
	case ErrInvalid:
		h = "record invalid"
	case ErrWriteFailed:
		h = "store write failed"
	case ErrCIDMismatch:
		h = "content does not match its CID"
	case ErrInvalidCID:
		h = "invalid CID"
	case ErrInvalidRequest:
		h = "invalid request"
	case ErrMissingCAS:
		h = "no store configured"
	case ErrCanceled:
		h = "canceled"
	default:
		h = "internal error"
	}
	if e.Index != nil {
		return fmt.Sprintf("annotation %d failed: %s", *e.Index, h)
	}
	return h
}

func NewError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// Classify maps any error from the proots stack to a CodedError. It returns
// nil for a nil error.
func Classify(err error) *CodedError {
	if err == nil {
		return nil
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce
	}
	out := &CodedError{Code: codeFor(err), Message: err.Error(), cause: err}

	var re *proots.ResolveError
	var be *proots.BuildError
	switch {
	case errors.As(err, &re) && re.Index != proots.RecordIndex:
		out.Index = intPtr(re.Index)
	case errors.As(err, &be) && be.Index != proots.RecordIndex:
		out.Index = intPtr(be.Index)
	}
	return out
}

func codeFor(err error) ErrorCode {
	var (
		se *proots.SchemaError
		ve *proots.ValidationError
		de *codec.DecodeError
		uc *codec.UnknownCodecError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return ErrCanceled
	case errors.Is(err, storage.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return ErrUnavailable
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrWrite):
		return ErrWriteFailed
	case errors.Is(err, storage.ErrCIDMismatch), errors.Is(err, storage.ErrImmutable), errors.Is(err, cidutil.ErrMismatch):
		return ErrCIDMismatch
	case errors.Is(err, storage.ErrInvalidCID), errors.Is(err, cidutil.ErrUndefined):
		return ErrInvalidCID
	case errors.As(err, &se), errors.As(err, &de), errors.As(err, &uc):
		return ErrMalformed
	case errors.As(err, &ve):
		return ErrInvalid
	case errors.Is(err, resolver.ErrMissingCAS):
		return ErrMissingCAS
	case errors.Is(err, resolver.ErrCodecMismatch), errors.Is(err, proots.ErrUnbuiltAnnotation):
		return ErrInvalidRequest
	default:
		return ErrInternal
	}
}
