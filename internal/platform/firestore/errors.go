package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error satisfies repositories.RepositoryError.
type Error struct {
	op   string
	err  error
	code codes.Code
}

func (e *Error) Error() string {
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) IsNotFound() bool { return e != nil && e.code == codes.NotFound }

// IsConflict covers failed preconditions and aborted transactions as well as duplicates.
func (e *Error) IsConflict() bool {
	if e == nil {
		return false
	}
	switch e.code {
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return true
	}
	return false
}

func (e *Error) IsUnavailable() bool {
	if e == nil {
		return false
	}
	switch e.code {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return true
	}
	return false
}

// IsMalformed reports a stored document that could not be decoded. Retrying does not help.
func (e *Error) IsMalformed() bool { return e != nil && e.code == codes.DataLoss }

// NotFound builds a not-found error for lookups that do not go through the client.
func NotFound(op, what string) error {
	return &Error{op: op, err: errors.New(what + " not found"), code: codes.NotFound}
}

// Conflict builds a conflict error for precondition checks made inside transactions.
func Conflict(op, reason string) error {
	return &Error{op: op, err: errors.New(reason), code: codes.FailedPrecondition}
}

// Malformed marks a decode failure for a stored document.
func Malformed(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{op: op, err: err, code: codes.DataLoss}
}

// Unavailable marks a failure to reach the store at all, such as a dial error.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{op: op, err: err, code: codes.Unavailable}
}

// WrapError tags err with its gRPC category. Context cancellation passes through unchanged.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	return &Error{op: op, err: err, code: status.Code(err)}
}
