package script

import (
	"errors"
	"fmt"
	"log/slog"

	"go.starlark.net/starlark"
)

// predeclared builds the capability namespace injected into the script
// before its body executes, so the module's own code can use these without
// any import.
func (m *Module) predeclared() starlark.StringDict {
	return starlark.StringDict{
		"emit_event": starlark.NewBuiltin("emit_event", m.emitEvent),
		"state_get":  starlark.NewBuiltin("state_get", m.stateGet),
		"state_set":  starlark.NewBuiltin("state_set", m.stateSet),
		"spawn":      starlark.NewBuiltin("spawn", m.spawn),
	}
}

// emit_event(event_type, data=None) sends an asynchronous event on the
// protocol stream. Callable at any time, from any interpreter thread; the
// write blocks until the line is flushed.
func (m *Module) emitEvent(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var eventType string
	var data starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "event_type", &eventType, "data?", &data); err != nil {
		return nil, err
	}

	payload, err := FromStarlark(data)
	if err != nil {
		return nil, fmt.Errorf("emit_event: %w", err)
	}
	if err := m.emitter.Emit(eventType, payload); err != nil {
		return nil, fmt.Errorf("emit_event: %w", err)
	}
	return starlark.None, nil
}

// state_get(key, default=None) reads from the host-owned state store.
func (m *Module) stateGet(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var fallback starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "default?", &fallback); err != nil {
		return nil, err
	}
	return m.state.Get(key, fallback), nil
}

// state_set(key, value) writes to the host-owned state store. The value is
// frozen, so it can be read by any later call or background task.
func (m *Module) stateSet(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var value starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "value", &value); err != nil {
		return nil, err
	}
	m.state.Set(key, value)
	return starlark.None, nil
}

// spawn(fn, *args) starts fn on its own interpreter thread as a background
// task. The task may call emit_event and the state builtins at any point,
// including after the request that spawned it has completed. Intended for
// use from setup or a handler, once the module namespace is frozen; the
// arguments are frozen at spawn time for the same reason.
//
// Task errors are logged to the diagnostic channel, never the protocol
// stream.
func (m *Module) spawn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: missing function argument", b.Name())
	}
	fn, ok := args[0].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want callable", b.Name(), args[0].Type())
	}

	taskArgs := make(starlark.Tuple, len(args)-1)
	copy(taskArgs, args[1:])
	fn.Freeze()
	for _, arg := range taskArgs {
		arg.Freeze()
	}

	go m.runBackground(fn, taskArgs)
	return starlark.None, nil
}

func (m *Module) runBackground(fn starlark.Callable, args starlark.Tuple) {
	thread := m.NewThread("task:" + fn.Name())
	if _, err := starlark.Call(thread, fn, args, nil); err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			m.logger.Warn("background task failed",
				slog.String("task", fn.Name()),
				slog.String("error", evalErr.Msg),
				slog.String("backtrace", evalErr.Backtrace()))
			return
		}
		m.logger.Warn("background task failed",
			slog.String("task", fn.Name()),
			slog.String("error", err.Error()))
	}
}
