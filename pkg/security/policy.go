package security

// Policy is the denylist a script is vetted against. It is fixed at build
// time and never parameterized by the script itself.
type Policy struct {
	// ForbiddenModules are top-level module names disallowed in any load
	// statement. Only the first dotted-path segment is checked, so
	// "os.path" is caught via "os".
	ForbiddenModules map[string]bool

	// ForbiddenBuiltins are names disallowed as direct call targets
	// (dynamic-execution primitives).
	ForbiddenBuiltins map[string]bool
}

// DefaultPolicy returns the fixed denylists enforced for bridge scripts.
func DefaultPolicy() Policy {
	return Policy{
		ForbiddenModules: map[string]bool{
			"os":              true,
			"subprocess":      true,
			"shutil":          true,
			"ctypes":          true,
			"importlib":       true,
			"pathlib":         true,
			"socket":          true,
			"pickle":          true,
			"multiprocessing": true,
			"marshal":         true,
			"signal":          true,
			"tempfile":        true,
		},
		ForbiddenBuiltins: map[string]bool{
			"__import__": true,
			"exec":       true,
			"eval":       true,
			"compile":    true,
		},
	}
}
