// Package script loads a vetted script as an executable module, injects the
// host capabilities into its namespace, and builds the frozen method
// registry the dispatcher routes through.
package script

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"

	bridgeerrors "github.com/exiv-ai/scriptbridge/pkg/errors"
	"github.com/exiv-ai/scriptbridge/pkg/logging"
	"github.com/exiv-ai/scriptbridge/pkg/security"
)

// EventSink receives asynchronous events emitted by the script. The bridge
// wires its protocol emitter here; tests substitute a recorder.
type EventSink interface {
	Emit(eventType string, data any) error
}

type discardSink struct{}

func (discardSink) Emit(string, any) error { return nil }

// Options configures script loading
type Options struct {
	// Dir is the allowed base directory. Paths escaping it after
	// canonicalization are rejected before the file is opened.
	Dir string

	// Policy is the security denylist applied before execution.
	Policy security.Policy

	// Emitter is the event channel injected as emit_event. Nil drops
	// events.
	Emitter EventSink

	Logger *logging.Logger
}

// Module is a loaded script: its frozen globals, the method registry, the
// manifest, and the host-owned cross-call state store. Immutable for the
// process lifetime once Load returns.
type Module struct {
	path     string
	globals  starlark.StringDict
	registry *Registry
	manifest Manifest
	state    *State
	emitter  EventSink
	logger   *logging.Logger
}

// Load vets and executes the script at path, resolving it inside opts.Dir.
//
// The security gate runs to completion before any script code executes; a
// violation means no partial loading. A failure in the module body is fatal.
// A failure in the optional setup hook is logged and the module still
// serves requests.
func Load(path string, opts Options) (*Module, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Emitter == nil {
		opts.Emitter = discardSink{}
	}

	resolved, err := resolveScriptPath(opts.Dir, path)
	if err != nil {
		return nil, err
	}

	src, err := os.ReadFile(resolved)
	if err != nil {
		return nil, bridgeerrors.Wrapf(err, bridgeerrors.ErrCodeScriptLoad, "reading script %s", resolved)
	}

	if err := opts.Policy.Analyze(resolved, src); err != nil {
		return nil, err
	}

	m := &Module{
		path:    resolved,
		state:   NewState(),
		emitter: opts.Emitter,
		logger:  opts.Logger.WithScript(resolved),
	}

	globals, err := starlark.ExecFile(m.NewThread("load"), resolved, src, m.predeclared())
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			m.logger.Error("script body failed",
				slog.String("error", evalErr.Msg),
				slog.String("backtrace", evalErr.Backtrace()))
		}
		return nil, bridgeerrors.Wrapf(err, bridgeerrors.ErrCodeScriptLoad, "executing script %s", resolved)
	}
	m.globals = globals

	// Namespace is frozen from here on: the registry and manifest are
	// built once and never re-scanned.
	m.runSetup()
	m.registry = newRegistry(globals, m.logger)
	m.manifest = manifestFromGlobals(globals, m.logger)

	return m, nil
}

// runSetup invokes the optional setup hook with no arguments. Failure
// degrades gracefully: the error is logged and the loop still starts.
func (m *Module) runSetup() {
	setupFn, ok := m.globals["setup"]
	if !ok {
		return
	}

	if _, err := starlark.Call(m.NewThread("setup"), setupFn, nil, nil); err != nil {
		setupErr := bridgeerrors.Wrap(err, bridgeerrors.ErrCodeScriptSetup, "setup hook failed")
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			m.logger.Warn("setup hook failed",
				slog.String("error", evalErr.Msg),
				slog.String("backtrace", evalErr.Backtrace()))
			return
		}
		m.logger.Warn("setup hook failed", slog.String("error", setupErr.Error()))
	}
}

// NewThread returns an interpreter thread for running code from this
// module. Script print() output is routed to the diagnostic channel, never
// the protocol stream.
func (m *Module) NewThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			m.logger.Info("script print", slog.String("output", msg))
		},
	}
}

// Path returns the canonicalized script path
func (m *Module) Path() string { return m.path }

// Registry returns the frozen method registry
func (m *Module) Registry() *Registry { return m.registry }

// Manifest returns the script's declared manifest, or the fixed default
func (m *Module) Manifest() Manifest { return m.manifest }

// State returns the host-owned cross-call state store
func (m *Module) State() *State { return m.state }

// resolveScriptPath canonicalizes dir and path and rejects any path that
// escapes dir. This guard is independent of the security analyzer and runs
// before the file is opened. Relative paths resolve against dir.
func resolveScriptPath(dir, path string) (string, error) {
	base, err := filepath.Abs(dir)
	if err != nil {
		return "", bridgeerrors.Wrapf(err, bridgeerrors.ErrCodeScriptPath, "resolving script directory %s", dir)
	}
	base, err = filepath.EvalSymlinks(base)
	if err != nil {
		if os.IsNotExist(err) {
			return "", bridgeerrors.Newf(bridgeerrors.ErrCodeScriptPath, "scripts directory not found: %s", dir)
		}
		if os.IsPermission(err) {
			return "", bridgeerrors.Newf(bridgeerrors.ErrCodeScriptPath, "permission denied accessing scripts directory: %s", dir)
		}
		return "", bridgeerrors.Wrapf(err, bridgeerrors.ErrCodeScriptPath, "resolving script directory %s", dir)
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(base, candidate)
	}
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			return "", bridgeerrors.Newf(bridgeerrors.ErrCodeScriptPath, "script file not found: %s", path)
		}
		if os.IsPermission(err) {
			return "", bridgeerrors.Newf(bridgeerrors.ErrCodeScriptPath, "permission denied accessing script: %s", path)
		}
		return "", bridgeerrors.Wrapf(err, bridgeerrors.ErrCodeScriptPath, "resolving script path %s", path)
	}

	rel, err := filepath.Rel(base, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", bridgeerrors.Newf(bridgeerrors.ErrCodeScriptPath,
			"script path %q escapes allowed directory %q", path, dir)
	}

	return resolved, nil
}
