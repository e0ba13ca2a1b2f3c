package execution

import (
	"time"

	"go.starlark.net/starlark"
)

// watchdog runs the method on a spawned worker goroutine and bounds the
// join by the timeout.
//
// On expiry it reports a timeout and returns WITHOUT forcing worker
// termination: this is timeout reporting, not cancellation. The abandoned
// worker receives a cooperative cancel signal, which the interpreter honors
// at its next step, but a worker blocked inside a builtin keeps running and
// may consume CPU or emit events after its request has already failed. Its
// result, if any, is discarded. The leaked worker is a known resource risk
// inherent to this strategy.
type watchdog struct {
	threads ThreadFactory
}

func (w *watchdog) Name() string { return StrategyWatchdog }

func (w *watchdog) Invoke(fn starlark.Value, params starlark.Value, timeout time.Duration) Outcome {
	thread := w.threads("invoke")

	done := make(chan Outcome, 1)
	go func() {
		value, err := starlark.Call(thread, fn, starlark.Tuple{params}, nil)
		if err != nil {
			done <- failureFromErr(err)
			return
		}
		done <- Success(value)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-done:
		return outcome
	case <-timer.C:
		thread.Cancel("method execution timeout")
		return TimeoutFailure(timeout)
	}
}
