package anscheduler

import (
	"errors"
	"fmt"
)

// Error represents a structured scheduler-core error with context.
type Error struct {
	Op    string    // operation that failed, e.g. "CreateTask", "SocketMsg"
	PID   uint64    // task pid, 0 if not applicable
	Desc  int64     // socket descriptor, -1 if not applicable
	Code  ErrorCode // high-level error category
	Msg   string    // human-readable message
	Inner error     // wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.PID != 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", e.PID))
	}
	if e.Desc >= 0 {
		parts = append(parts, fmt.Sprintf("desc=%d", e.Desc))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("anscheduler: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("anscheduler: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support comparing error codes.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode categorizes failures per the error taxonomy: allocation
// failure, capacity refusal, liveness failure, fatal programmer error,
// and task-level fault.
type ErrorCode string

const (
	ErrCodeAllocFailed     ErrorCode = "allocation failure"
	ErrCodeCapacityRefused ErrorCode = "capacity refusal"
	ErrCodeLivenessFailed  ErrorCode = "liveness failure"
	ErrCodeProgrammerFault ErrorCode = "fatal programmer error"
	ErrCodeTaskFault       ErrorCode = "task-level fault"
	ErrCodeNotFound        ErrorCode = "not found"
	ErrCodeInvalidArgs     ErrorCode = "invalid arguments"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Desc: -1, Code: code, Msg: msg}
}

// NewTaskError creates a task-scoped error.
func NewTaskError(op string, pid uint64, code ErrorCode, msg string) *Error {
	return &Error{Op: op, PID: pid, Desc: -1, Code: code, Msg: msg}
}

// NewSocketError creates a socket-scoped error.
func NewSocketError(op string, pid uint64, desc int64, code ErrorCode, msg string) *Error {
	return &Error{Op: op, PID: pid, Desc: desc, Code: code, Msg: msg}
}

// WrapError wraps an existing error with scheduler-core context.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ae, ok := inner.(*Error); ok {
		return &Error{Op: op, PID: ae.PID, Desc: ae.Desc, Code: ae.Code, Msg: ae.Msg, Inner: ae.Inner}
	}
	return &Error{Op: op, Desc: -1, Code: ErrCodeTaskFault, Msg: inner.Error(), Inner: inner}
}

// IsCode checks whether an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
