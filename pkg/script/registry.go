package script

import (
	"log/slog"
	"regexp"
	"slices"
	"sort"

	"go.starlark.net/starlark"

	"github.com/exiv-ai/scriptbridge/pkg/logging"
)

// coreMethods is the fixed set of method names a script may serve without
// matching the action-naming convention. get_manifest is additionally
// special-cased by the dispatcher and never routed through the executor.
var coreMethods = map[string]bool{
	"think":        true,
	"execute":      true,
	"setup":        true,
	"get_manifest": true,
}

// actionNamePattern is the discovery convention for action handlers.
var actionNamePattern = regexp.MustCompile(`^on_action_[a-z][a-z0-9_]*$`)

// Registry maps callable method names to their module values. It is built
// once at load time from the frozen module namespace and never mutated:
// a name is callable only if it is in coreMethods or the discovered action
// set, and the module actually defines it.
type Registry struct {
	methods map[string]starlark.Value
	actions []string
}

func newRegistry(globals starlark.StringDict, logger *logging.Logger) *Registry {
	r := &Registry{methods: make(map[string]starlark.Value)}

	for name, value := range globals {
		switch {
		case coreMethods[name]:
			r.methods[name] = value
		case actionNamePattern.MatchString(name):
			if _, ok := value.(starlark.Callable); ok {
				r.methods[name] = value
				r.actions = append(r.actions, name)
			}
		}
	}
	sort.Strings(r.actions)

	if len(r.actions) > 0 {
		logger.Info("registered action methods", slog.Any("actions", r.actions))
	}

	return r
}

// Allowed reports whether a method name may be dispatched at all. Core
// names are always allowed even when the module does not define them (the
// dispatch then fails with a not-found error rather than not-allowed).
func (r *Registry) Allowed(name string) bool {
	if coreMethods[name] {
		return true
	}
	_, ok := r.methods[name]
	return ok
}

// Lookup returns the module value registered under name. The value may be
// non-callable for core names; invoking it then fails at call time, the
// same way the invocation of any misdeclared method does.
func (r *Registry) Lookup(name string) (starlark.Value, bool) {
	v, ok := r.methods[name]
	return v, ok
}

// Actions returns the discovered action method names, sorted.
func (r *Registry) Actions() []string {
	return slices.Clone(r.actions)
}
