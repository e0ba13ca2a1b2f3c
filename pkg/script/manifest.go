package script

import (
	"log/slog"

	"go.starlark.net/starlark"

	"github.com/exiv-ai/scriptbridge/pkg/logging"
)

// manifestGlobal is the namespace name a script uses to declare metadata.
const manifestGlobal = "EXIV_MANIFEST"

// Manifest is free-form script-declared metadata, queried via the reserved
// get_manifest method. Read-only after load.
type Manifest map[string]any

// DefaultManifest is the fixed fallback payload served when the script
// declares no manifest of its own.
func DefaultManifest() Manifest {
	return Manifest{
		"id":           "python.unnamed",
		"name":         "Unnamed Python Script",
		"description":  "No description provided.",
		"version":      "0.0.0",
		"capabilities": []any{"Reasoning"},
	}
}

func manifestFromGlobals(globals starlark.StringDict, logger *logging.Logger) Manifest {
	value, ok := globals[manifestGlobal]
	if !ok {
		return DefaultManifest()
	}

	converted, err := FromStarlark(value)
	if err != nil {
		logger.Warn("ignoring unserializable manifest", slog.String("error", err.Error()))
		return DefaultManifest()
	}
	m, ok := converted.(map[string]any)
	if !ok {
		logger.Warn("ignoring manifest: not a dict", slog.String("type", value.Type()))
		return DefaultManifest()
	}
	return Manifest(m)
}
