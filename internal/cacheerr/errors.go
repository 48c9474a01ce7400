// Package cacheerr defines the error taxonomy shared by the token cache packages.
//
// Callers match on the sentinel kinds with errors.Is:
//
//	if errors.Is(err, cacheerr.ErrLockTimeout) { ... }
//
// Every *Error carries the operation, the storage location and the underlying
// cause so a caller can log it and decide on a fallback.
package cacheerr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned before any I/O for rejected input, such as a nil payload.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrLockTimeout is returned when the cross-process lock was not obtained in time.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrPersistenceUnavailable is returned only by the persistence probe.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// ErrUnderlyingIO wraps file and native store failures that are not "not found".
	ErrUnderlyingIO = errors.New("underlying i/o failure")

	// ErrCorruptPayload marks stored bytes that could not be decoded or decrypted.
	ErrCorruptPayload = errors.New("corrupt payload")
)

// Error is a structured cache error.
type Error struct {
	Kind     error
	Op       string
	Location string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Location != "" {
		msg += " [" + e.Location + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// New creates an Error of the given kind.
func New(kind error, op, location string, err error) *Error {
	return &Error{Kind: kind, Op: op, Location: location, Err: err}
}

// InvalidArgument creates an ErrInvalidArgument error.
func InvalidArgument(op, location, format string, args ...any) *Error {
	return New(ErrInvalidArgument, op, location, fmt.Errorf(format, args...))
}

// IO wraps err as an ErrUnderlyingIO error. A nil err yields nil.
func IO(op, location string, err error) error {
	if err == nil {
		return nil
	}
	return New(ErrUnderlyingIO, op, location, err)
}

// Corrupt wraps err as an ErrCorruptPayload error.
func Corrupt(op, location string, err error) *Error {
	return New(ErrCorruptPayload, op, location, err)
}

// Unavailable wraps err as an ErrPersistenceUnavailable error.
func Unavailable(op, location string, err error) *Error {
	return New(ErrPersistenceUnavailable, op, location, err)
}
