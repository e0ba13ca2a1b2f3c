package execution

import (
	"errors"
	"time"

	"go.starlark.net/starlark"
)

// Outcome is the tagged result of invoking one method under a timeout
// strategy.
type Outcome struct {
	// OK is true when the method returned normally within the timeout.
	OK bool

	// Value is the method's return value when OK.
	Value starlark.Value

	// Err is the failure message surfaced on the protocol stream.
	Err string

	// Backtrace is the interpreter stack for host-side logging only; it
	// is never echoed into a protocol response.
	Backtrace string

	// Timeout marks a wall-clock expiry, as opposed to the method
	// raising.
	Timeout bool
}

// Success wraps a normal return value
func Success(v starlark.Value) Outcome {
	return Outcome{OK: true, Value: v}
}

// Failure wraps a method error with its host-only diagnostic
func Failure(msg, backtrace string) Outcome {
	return Outcome{Err: msg, Backtrace: backtrace}
}

// TimeoutFailure wraps a wall-clock expiry
func TimeoutFailure(timeout time.Duration) Outcome {
	return Outcome{Err: timeoutMessage(timeout), Timeout: true}
}

// failureFromErr converts an interpreter error into a Failure, splitting
// the message from the backtrace so only the former reaches the wire.
func failureFromErr(err error) Outcome {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return Failure(evalErr.Msg, evalErr.Backtrace())
	}
	return Failure(err.Error(), "")
}
