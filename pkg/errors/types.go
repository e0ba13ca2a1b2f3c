package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Fatal startup errors: the process exits non-zero before the
	// dispatch loop starts.
	ErrCodeScriptParse    ErrorCode = "SCRIPT_PARSE"
	ErrCodeScriptSecurity ErrorCode = "SCRIPT_SECURITY"
	ErrCodeScriptPath     ErrorCode = "SCRIPT_PATH"
	ErrCodeScriptLoad     ErrorCode = "SCRIPT_LOAD"
	ErrCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"

	// Non-fatal load errors
	ErrCodeScriptSetup ErrorCode = "SCRIPT_SETUP"

	// Per-request errors: converted into a Response error field, the
	// dispatch loop continues.
	ErrCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"
	ErrCodeMethodNotFound   ErrorCode = "METHOD_NOT_FOUND"
	ErrCodeMethodTimeout    ErrorCode = "METHOD_TIMEOUT"
	ErrCodeMethodRuntime    ErrorCode = "METHOD_RUNTIME"
	ErrCodeRequestMalformed ErrorCode = "REQUEST_MALFORMED"

	// Generic errors
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error represents a structured bridge error
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new structured error with a formatted message
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with bridge error context
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
	}
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(err error, code ErrorCode, format string, args ...any) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, v))
			first = false
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	bridgeErr, ok := err.(*Error)
	if !ok {
		return false
	}

	return bridgeErr.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	bridgeErr, ok := err.(*Error)
	if !ok {
		return ErrCodeInternal
	}

	return bridgeErr.Code
}

// IsFatal reports whether an error class terminates the process before
// the dispatch loop starts.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case ErrCodeScriptParse, ErrCodeScriptSecurity, ErrCodeScriptPath,
		ErrCodeScriptLoad, ErrCodeConfigInvalid:
		return true
	}
	return false
}
