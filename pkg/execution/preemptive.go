package execution

import (
	"sync/atomic"
	"time"

	"go.starlark.net/starlark"
)

// preemptive runs the method synchronously on the calling goroutine and
// arms a deadline timer that cancels the interpreter thread on expiry.
// Cancellation is genuine: the interrupted call's stack unwinds at the next
// interpreter step and no further CPU time is charged to it, even inside a
// pure-compute loop.
type preemptive struct {
	threads ThreadFactory
}

func (p *preemptive) Name() string { return StrategyPreemptive }

func (p *preemptive) Invoke(fn starlark.Value, params starlark.Value, timeout time.Duration) Outcome {
	thread := p.threads("invoke")

	var expired atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		expired.Store(true)
		thread.Cancel("method execution timeout")
	})
	defer timer.Stop()

	value, err := starlark.Call(thread, fn, starlark.Tuple{params}, nil)
	if err != nil {
		if expired.Load() {
			return TimeoutFailure(timeout)
		}
		return failureFromErr(err)
	}
	return Success(value)
}
