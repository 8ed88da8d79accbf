package diagnostics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"git.home.luguber.info/inful/buildwatch/internal/events"
)

// DefaultOutputDirName is the compiler's transpilation output directory.
// Files under it are generated and never attribution targets.
const DefaultOutputDirName = "compiled"

// Diagnostic is one positioned, severity-tagged issue attributed to a file,
// or to the workspace root for project-level issues.
type Diagnostic struct {
	File     string   `json:"file"`
	Start    Position `json:"start"`
	End      Position `json:"end"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// MarshalJSON renders the severity as its name, for status consumers.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// DiagnosticSet holds one builder's current diagnostics keyed by attributed
// file. It is cleared in full when a new build attempt starts, appended to
// while output arrives, and read concurrently by status consumers.
type DiagnosticSet struct {
	mu          sync.RWMutex
	root        string
	sourcePaths []string
	outputDir   string
	items       map[string][]Diagnostic
}

// NewDiagnosticSet creates a set for one builder. root is the builder's
// working directory; relative source paths are anchored to it. outputDir
// names the excluded output directory, empty means DefaultOutputDirName.
func NewDiagnosticSet(root string, sourcePaths []string, outputDir string) *DiagnosticSet {
	if outputDir == "" {
		outputDir = DefaultOutputDirName
	}
	abs := make([]string, 0, len(sourcePaths))
	for _, sp := range sourcePaths {
		if !filepath.IsAbs(sp) {
			sp = filepath.Join(root, sp)
		}
		abs = append(abs, filepath.Clean(sp))
	}
	return &DiagnosticSet{
		root:        root,
		sourcePaths: abs,
		outputDir:   outputDir,
		items:       make(map[string][]Diagnostic),
	}
}

// Clear drops every diagnostic. Called when a new build attempt begins so
// issues never span two attempts.
func (d *DiagnosticSet) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = make(map[string][]Diagnostic)
}

// Apply folds one parsed item into the set and returns the diagnostics it
// produced. A class issue matching several on-disk files is duplicated
// across all of them.
func (d *DiagnosticSet) Apply(item LogItem, stream events.Stream) []Diagnostic {
	severity := item.Severity(stream)

	var created []Diagnostic
	switch item.Kind {
	case KindProject:
		created = []Diagnostic{{
			File:     d.root,
			Severity: severity,
			Message:  item.Message,
		}}
	case KindClass:
		files, note := d.locateClass(item.ClassName)
		start := editorPosition(item.Start)
		end := editorPosition(item.End)
		for _, file := range files {
			created = append(created, Diagnostic{
				File:     file,
				Start:    start,
				End:      end,
				Severity: severity,
				Message:  item.Message + note,
			})
		}
	}

	d.mu.Lock()
	for _, diag := range created {
		d.items[diag.File] = append(d.items[diag.File], diag)
	}
	d.mu.Unlock()

	return created
}

// Snapshot returns a copy of the current diagnostics keyed by file.
func (d *DiagnosticSet) Snapshot() map[string][]Diagnostic {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string][]Diagnostic, len(d.items))
	for file, diags := range d.items {
		copied := make([]Diagnostic, len(diags))
		copy(copied, diags)
		out[file] = copied
	}
	return out
}

// Counts returns the number of files with diagnostics and the total number
// of diagnostics.
func (d *DiagnosticSet) Counts() (files, total int) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, diags := range d.items {
		total += len(diags)
	}
	return len(d.items), total
}

// locateClass maps a dotted class name to on-disk files under the source
// paths. Zero matches attribute to the workspace root with a trailing note;
// multiple matches return all of them with a note naming the candidates.
func (d *DiagnosticSet) locateClass(classname string) ([]string, string) {
	rel := filepath.FromSlash(strings.ReplaceAll(classname, ".", "/")) + ".js"

	var matches []string
	for _, sp := range d.sourcePaths {
		candidate := filepath.Join(sp, rel)
		if d.underOutputDir(candidate) {
			continue
		}
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		matches = append(matches, candidate)
	}

	switch len(matches) {
	case 0:
		return []string{d.root}, " (no source file found)"
	case 1:
		return matches, ""
	default:
		return matches, " (candidates: " + strings.Join(matches, ", ") + ")"
	}
}

// underOutputDir reports whether any path segment below the root names the
// transpilation output directory.
func (d *DiagnosticSet) underOutputDir(path string) bool {
	rel, err := filepath.Rel(d.root, path)
	if err != nil {
		rel = path
	}
	for _, segment := range strings.Split(rel, string(filepath.Separator)) {
		if segment == d.outputDir {
			return true
		}
	}
	return false
}

// editorPosition converts a compiler position (1-based line) to the
// zero-based coordinates diagnostics carry.
func editorPosition(p Position) Position {
	line := p.Line - 1
	if line < 0 {
		line = 0
	}
	col := p.Col
	if col < 0 {
		col = 0
	}
	return Position{Line: line, Col: col}
}
