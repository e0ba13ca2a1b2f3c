// Package security statically vets an untrusted script before any of its
// code executes. The analyzer parses the source into a syntax tree and
// rejects the script if it loads a denylisted module or calls a denylisted
// builtin by bare name.
//
// Known gap, kept deliberately: only bare-name call targets are inspected,
// so aliasing a forbidden builtin (e = eval) or reaching it through
// attribute indirection is not caught. That matches the documented contract
// of the analyzer, which is a gate, not a full escape-proof sandbox.
package security

import (
	"fmt"
	"strings"

	"go.starlark.net/syntax"

	bridgeerrors "github.com/exiv-ai/scriptbridge/pkg/errors"
)

// Violation describes the first policy breach found in a script. Its
// existence is always fatal to process startup.
type Violation struct {
	Message string
	Line    int
}

func (v *Violation) Error() string {
	return v.Message
}

// Analyze parses source and walks every node looking for policy breaches.
// It is purely read-only: no script code runs. A syntactically invalid
// source yields a SCRIPT_PARSE error, distinct from a violation. The first
// violation found wins; analysis is not exhaustive.
func (p Policy) Analyze(filename string, src []byte) error {
	file, err := syntax.Parse(filename, src, 0)
	if err != nil {
		return bridgeerrors.Wrapf(err, bridgeerrors.ErrCodeScriptParse, "script %s is not syntactically valid", filename)
	}

	var violation *Violation
	syntax.Walk(file, func(n syntax.Node) bool {
		if n == nil || violation != nil {
			return false
		}
		switch n := n.(type) {
		case *syntax.LoadStmt:
			violation = p.checkLoad(n)
		case *syntax.CallExpr:
			violation = p.checkCall(n)
		}
		return violation == nil
	})

	if violation != nil {
		return bridgeerrors.Wrapf(violation, bridgeerrors.ErrCodeScriptSecurity, "script %s rejected", filename)
	}
	return nil
}

// checkLoad flags load statements whose module path's top-level segment is
// denylisted. load() is the dialect's only import form, covering both the
// plain-import and from-import shapes of the original scripts.
func (p Policy) checkLoad(stmt *syntax.LoadStmt) *Violation {
	module, ok := stmt.Module.Value.(string)
	if !ok {
		return nil
	}
	top := strings.SplitN(module, ".", 2)[0]
	if !p.ForbiddenModules[top] {
		return nil
	}
	line := int(stmt.Load.Line)
	return &Violation{
		Line: line,
		Message: fmt.Sprintf("forbidden load of %q at line %d: module %q is not allowed in bridge scripts",
			module, line, top),
	}
}

// checkCall flags call expressions whose callee is a bare denylisted name.
func (p Policy) checkCall(call *syntax.CallExpr) *Violation {
	ident, ok := call.Fn.(*syntax.Ident)
	if !ok || !p.ForbiddenBuiltins[ident.Name] {
		return nil
	}
	line := int(ident.NamePos.Line)
	return &Violation{
		Line: line,
		Message: fmt.Sprintf("forbidden builtin %q at line %d: dynamic code execution is not allowed in bridge scripts",
			ident.Name, line),
	}
}
