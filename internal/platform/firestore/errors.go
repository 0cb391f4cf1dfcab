package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error annotates a Firestore failure with the operation and the classification callers branch on.
type Error struct {
	op   string
	err  error
	code codes.Code
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Code reports the gRPC status code of the failure.
func (e *Error) Code() codes.Code {
	if e == nil {
		return codes.OK
	}
	return e.code
}

// IsNotFound reports whether the error represents a missing document.
func (e *Error) IsNotFound() bool {
	return e != nil && e.code == codes.NotFound
}

// IsUnavailable reports whether the error represents a transient backend outage.
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

// WrapError annotates Firestore errors with the operation name. Context cancellations are passed through.
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

	var fsErr *Error
	if errors.As(err, &fsErr) {
		if op != "" && fsErr.op == "" {
			fsErr.op = op
		}
		return fsErr
	}
	return &Error{op: op, err: err, code: status.Code(err)}
}

// IsNotFound reports whether err wraps a Firestore not-found failure.
func IsNotFound(err error) bool {
	var fsErr *Error
	return errors.As(err, &fsErr) && fsErr.IsNotFound()
}
