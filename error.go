package cannode

import (
	"errors"
	"fmt"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	var u unrecoverableError
	return !errors.As(err, &u)
}

var (
	ErrNoMessage     = errors.New("no message pending")
	ErrInvalidLength = errors.New("invalid data length")
	ErrNilAdapter    = errors.New("adapter is nil")
	ErrNilDisplay    = errors.New("display is nil")
	ErrDroppedFrame  = errors.New("adapter incoming channel full")
	ErrClosed        = errors.New("closed")
)

// BusError is a transceiver init, read or send failure.
type BusError struct {
	Op  string
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("bus %s: %v", e.Op, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// DisplayError is a panel transport or render failure.
type DisplayError struct {
	Op  string
	Err error
}

func (e *DisplayError) Error() string {
	return fmt.Sprintf("display %s: %v", e.Op, e.Err)
}

func (e *DisplayError) Unwrap() error {
	return e.Err
}

// IdentifierRangeError reports a value that does not fit the identifier width.
type IdentifierRangeError struct {
	Value    uint32
	Extended bool
}

func (e *IdentifierRangeError) Error() string {
	if e.Extended {
		return fmt.Sprintf("identifier %d exceeds 29-bit range (max %d)", e.Value, MaxExtendedID)
	}
	return fmt.Sprintf("identifier %d exceeds 11-bit range (max %d)", e.Value, MaxStandardID)
}

// StartupError is a hardware bring-up failure returned to the entry point,
// which decides whether to retry or halt.
type StartupError struct {
	Component string
	Err       error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup %s: %v", e.Component, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}
