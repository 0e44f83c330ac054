package errors

import (
	"errors"
	"fmt"
)

// Error codes shared across orion packages
const (
	CodeAlreadyInitialized = "ALREADY_INITIALIZED"
	CodeUnsupported        = "UNSUPPORTED"
	CodeStopped            = "STOPPED"
	CodeNotConnected       = "NOT_CONNECTED"
	CodeCleanup            = "CLEANUP_FAILED"
	CodeConfig             = "INVALID_CONFIG"
	CodeProtocol           = "PROTOCOL"
)

var (
	ErrAlreadyInitialized = New(CodeAlreadyInitialized, "already initialized")
	ErrUnsupported        = New(CodeUnsupported, "hasher not supported on this hardware")
	ErrStopped            = New(CodeStopped, "hasher stopped")
	ErrNotConnected       = New(CodeNotConnected, "pool not connected")
)

// AppError represents an application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new AppError wrapping another error
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or ""
func CodeOf(err error) string {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code
	}
	return ""
}
