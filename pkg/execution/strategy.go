// Package execution invokes registered script methods under a hard
// wall-clock timeout.
//
// The package defines the Strategy interface and provides two
// implementations, selected once per process:
//   - Preemptive: cancels the interpreter thread at the deadline; the
//     cancelled call unwinds and is charged no further CPU time.
//   - Watchdog: joins a worker goroutine with a bounded wait and abandons
//     it on expiry; the worker is signalled but never forced to stop.
package execution

import (
	"fmt"
	"time"

	"go.starlark.net/starlark"

	bridgeerrors "github.com/exiv-ai/scriptbridge/pkg/errors"
)

// Strategy names accepted by New and the execution config.
const (
	StrategyPreemptive = "preemptive"
	StrategyWatchdog   = "watchdog"
)

// ThreadFactory builds a fresh interpreter thread per invocation, with the
// module's print routing already attached. A fresh thread per call keeps
// one call's cancellation from leaking into the next.
type ThreadFactory func(name string) *starlark.Thread

// Strategy invokes a method with a params payload and enforces a wall-clock
// timeout. Implementations never touch the protocol stream.
type Strategy interface {
	// Invoke calls fn with params, returning a tagged outcome. On
	// timeout the outcome's message is exactly
	// "Method execution timeout (<n> seconds)".
	Invoke(fn starlark.Value, params starlark.Value, timeout time.Duration) Outcome

	// Name returns the strategy identifier for logging/config.
	Name() string
}

// New returns the strategy for the given mode name; an empty name selects
// the platform default.
func New(name string, threads ThreadFactory) (Strategy, error) {
	switch name {
	case StrategyPreemptive:
		return &preemptive{threads: threads}, nil
	case StrategyWatchdog:
		return &watchdog{threads: threads}, nil
	case "":
		return New(platformDefault(), threads)
	default:
		return nil, bridgeerrors.Newf(bridgeerrors.ErrCodeConfigInvalid, "unknown execution strategy %q", name)
	}
}

// timeoutMessage is the wire-visible timeout text. The integer is whole
// seconds, matching the configured timeout.
func timeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf("Method execution timeout (%d seconds)", int(timeout/time.Second))
}
