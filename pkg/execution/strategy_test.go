package execution

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	bridgeerrors "github.com/exiv-ai/scriptbridge/pkg/errors"
)

func testThreads(name string) *starlark.Thread {
	return &starlark.Thread{Name: name}
}

// loadFn compiles a snippet and returns the named function from it.
func loadFn(t *testing.T, src, name string, predeclared starlark.StringDict) starlark.Value {
	t.Helper()
	globals, err := starlark.ExecFile(testThreads("load"), "test.star", src, predeclared)
	require.NoError(t, err)
	fn, ok := globals[name]
	require.True(t, ok, "function %s not defined", name)
	return fn
}

func bothStrategies(t *testing.T) map[string]Strategy {
	t.Helper()
	pre, err := New(StrategyPreemptive, testThreads)
	require.NoError(t, err)
	wd, err := New(StrategyWatchdog, testThreads)
	require.NoError(t, err)
	return map[string]Strategy{StrategyPreemptive: pre, StrategyWatchdog: wd}
}

func TestNew(t *testing.T) {
	s, err := New(StrategyPreemptive, testThreads)
	require.NoError(t, err)
	assert.Equal(t, StrategyPreemptive, s.Name())

	s, err = New(StrategyWatchdog, testThreads)
	require.NoError(t, err)
	assert.Equal(t, StrategyWatchdog, s.Name())

	s, err = New("", testThreads)
	require.NoError(t, err)
	assert.Equal(t, platformDefault(), s.Name())

	_, err = New("optimistic", testThreads)
	require.Error(t, err)
	assert.Equal(t, bridgeerrors.ErrCodeConfigInvalid, bridgeerrors.GetCode(err))
}

func TestInvoke_Success(t *testing.T) {
	fn := loadFn(t, "def double(params):\n    return params * 2\n", "double", nil)

	for name, strategy := range bothStrategies(t) {
		t.Run(name, func(t *testing.T) {
			out := strategy.Invoke(fn, starlark.MakeInt(21), 2*time.Second)
			require.True(t, out.OK, "unexpected failure: %s", out.Err)
			assert.Equal(t, starlark.MakeInt(42), out.Value)
			assert.False(t, out.Timeout)
		})
	}
}

func TestInvoke_MethodError(t *testing.T) {
	fn := loadFn(t, "def boom(params):\n    fail(\"kaput\")\n", "boom", nil)

	for name, strategy := range bothStrategies(t) {
		t.Run(name, func(t *testing.T) {
			out := strategy.Invoke(fn, starlark.None, 2*time.Second)
			require.False(t, out.OK)
			assert.False(t, out.Timeout)
			assert.Contains(t, out.Err, "kaput")
			assert.NotEmpty(t, out.Backtrace, "diagnostic backtrace should be captured for host logging")
		})
	}
}

func TestInvoke_NonCallable(t *testing.T) {
	for name, strategy := range bothStrategies(t) {
		t.Run(name, func(t *testing.T) {
			out := strategy.Invoke(starlark.MakeInt(5), starlark.None, time.Second)
			require.False(t, out.OK)
			assert.Contains(t, out.Err, "invalid call of non-function")
		})
	}
}

// spinSrc loops essentially forever; only cancellation stops it.
const spinSrc = "def spin(params):\n    for _ in range(1 << 62):\n        pass\n    return None\n"

func TestPreemptive_CancelsComputeLoop(t *testing.T) {
	fn := loadFn(t, spinSrc, "spin", nil)
	strategy, err := New(StrategyPreemptive, testThreads)
	require.NoError(t, err)

	start := time.Now()
	out := strategy.Invoke(fn, starlark.None, time.Second)
	elapsed := time.Since(start)

	require.False(t, out.OK)
	assert.True(t, out.Timeout)
	assert.Equal(t, "Method execution timeout (1 seconds)", out.Err)
	assert.Less(t, elapsed, 5*time.Second, "preemption should interrupt the loop near the deadline")
}

func TestWatchdog_ReturnsAtDeadline(t *testing.T) {
	fn := loadFn(t, spinSrc, "spin", nil)
	strategy, err := New(StrategyWatchdog, testThreads)
	require.NoError(t, err)

	start := time.Now()
	out := strategy.Invoke(fn, starlark.None, 500*time.Millisecond)
	elapsed := time.Since(start)

	require.False(t, out.OK)
	assert.True(t, out.Timeout)
	assert.Less(t, elapsed, 5*time.Second)
}

// A worker blocked inside a builtin cannot be cancelled: the watchdog
// abandons it, the worker finishes on its own later, and the result is
// discarded.
func TestWatchdog_AbandonedWorkerKeepsRunning(t *testing.T) {
	var completed atomic.Bool
	block := starlark.NewBuiltin("block", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		time.Sleep(300 * time.Millisecond)
		completed.Store(true)
		return starlark.None, nil
	})
	fn := loadFn(t, "def sleepy(params):\n    block()\n    return \"done\"\n", "sleepy",
		starlark.StringDict{"block": block})

	strategy, err := New(StrategyWatchdog, testThreads)
	require.NoError(t, err)

	out := strategy.Invoke(fn, starlark.None, 50*time.Millisecond)
	require.False(t, out.OK)
	assert.True(t, out.Timeout)
	assert.False(t, completed.Load(), "timeout must be reported before the worker finishes")

	// The abandoned worker keeps running to completion in the background.
	assert.Eventually(t, completed.Load, 2*time.Second, 10*time.Millisecond)
}

func TestInvoke_SlowButWithinTimeout(t *testing.T) {
	block := starlark.NewBuiltin("block", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		time.Sleep(100 * time.Millisecond)
		return starlark.None, nil
	})
	fn := loadFn(t, "def slow(params):\n    block()\n    return \"done\"\n", "slow",
		starlark.StringDict{"block": block})

	for name, strategy := range bothStrategies(t) {
		t.Run(name, func(t *testing.T) {
			out := strategy.Invoke(fn, starlark.None, 2*time.Second)
			require.True(t, out.OK, "no timeout error for a method finishing within the deadline: %s", out.Err)
			assert.Equal(t, starlark.String("done"), out.Value)
		})
	}
}

func TestTimeoutMessageFormat(t *testing.T) {
	assert.Equal(t, "Method execution timeout (8 seconds)", TimeoutFailure(8*time.Second).Err)
	assert.Equal(t, "Method execution timeout (30 seconds)", TimeoutFailure(30*time.Second).Err)
}
