package sync

import "fmt"

// ConflictError is a stable, machine-readable error class of the conflict engine.
type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on Code so that errors.Is works against the class values below.
func (e *ConflictError) Is(target error) bool {
	t, ok := target.(*ConflictError)
	return ok && e.Code == t.Code
}

// WithMessage returns a new error of the same class with a specific message.
func (e *ConflictError) WithMessage(msg string) *ConflictError {
	return &ConflictError{Code: e.Code, Message: msg}
}

// WithMessagef returns a new error of the same class with a formatted message.
func (e *ConflictError) WithMessagef(format string, args ...any) *ConflictError {
	return &ConflictError{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrInvalidArgument   = &ConflictError{Code: "E_INVALID_ARGUMENT"}
	ErrNotFound          = &ConflictError{Code: "E_NOT_FOUND"}
	ErrAlreadyResolved   = &ConflictError{Code: "E_ALREADY_RESOLVED"}
	ErrInvalidResolution = &ConflictError{Code: "E_INVALID_RESOLUTION"}
)
