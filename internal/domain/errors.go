package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrRetryNotAllowed    = errors.New("retry not allowed")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrUnavailable        = errors.New("unavailable")
)

// CapabilityError wraps a failure raised by an external provider call.
// Code is the value recorded on the failed task.
type CapabilityError struct {
	Code string
	Err  error
}

func (e *CapabilityError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *CapabilityError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCapabilityError tags err with code. A nil err stays nil.
func NewCapabilityError(code string, err error) error {
	if err == nil {
		return nil
	}
	return &CapabilityError{Code: code, Err: err}
}

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func preconditionFailed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPreconditionFailed, fmt.Sprintf(format, args...))
}

func invalidTransition(t *Task, op string) error {
	return fmt.Errorf("%w: %s %s task %s from %s", ErrInvalidTransition, op, t.Kind, t.TaskID, t.Status)
}
