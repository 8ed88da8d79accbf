// Package builder defines the canonical builder configuration and loads it
// from marker files, applying defaults, key validation and pointer expansion.
package builder

import (
	"encoding/json"
	"slices"
	"strings"

	"git.home.luguber.info/inful/buildwatch/internal/pointer"
)

// MarkerFileName is the per-project config file that defines builders.
const MarkerFileName = pointer.MarkerFileName

// BuilderConfig is the fully resolved description of one build pipeline.
// All pointer entries are expanded, duplicates removed, and watch-mode flags
// stripped from CompilerArgs. WorkDir is always absolute.
type BuilderConfig struct {
	Name         string   `json:"name"`
	WorkDir      string   `json:"workDir"`
	CompilerArgs []string `json:"compilerArgs"`
	PreBuild     []string `json:"preBuild"`
	PostBuild    []string `json:"postBuild"`
	SourcePaths  []string `json:"sourcePaths"`
}

// Equal reports whether two resolved configs are identical field by field.
// The orchestrator uses this to decide whether a config update requires a
// restart.
func (c BuilderConfig) Equal(other BuilderConfig) bool {
	return c.Name == other.Name &&
		c.WorkDir == other.WorkDir &&
		slices.Equal(c.CompilerArgs, other.CompilerArgs) &&
		slices.Equal(c.PreBuild, other.PreBuild) &&
		slices.Equal(c.PostBuild, other.PostBuild) &&
		slices.Equal(c.SourcePaths, other.SourcePaths)
}

// JSON renders the resolved config for inspection tooling.
func (c BuilderConfig) JSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// stripWatchFlags removes watch-mode flags from compiler arguments. Watching
// is owned by this tool; a compiler left in watch mode would never exit and
// the process pipeline would hang.
func stripWatchFlags(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "--watch" || arg == "-w" || strings.HasPrefix(arg, "--watch=") {
			continue
		}
		out = append(out, arg)
	}
	return out
}
