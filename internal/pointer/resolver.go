// Package pointer expands pointer entries inside builder config string arrays.
//
// Two pointer forms exist. A JSON pointer ("libs.json#qooxdoo.paths") addresses
// a value inside another JSON file by dot path. A build pointer ("../lib@core")
// addresses the same logical field of another builder defined in a marker file
// in that directory. Expansion is iterative, so pointers may chain through
// files and builders to arbitrary finite depth.
package pointer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	ferrors "git.home.luguber.info/inful/buildwatch/internal/foundation/errors"
)

// MarkerFileName is the per-project config file that defines builders.
// A directory is a valid build-pointer target only if it contains this file.
const MarkerFileName = "buildwatch.json"

// documentCacheSize bounds the number of parsed JSON documents kept per
// resolver. Resolvers are short-lived (one per marker file load), so the
// cache exists to avoid re-parsing shared files within one resolution run.
const documentCacheSize = 128

type entryKind int

const (
	kindLiteral entryKind = iota
	kindJSON
	kindBuild
)

// pending is one unresolved array entry. base is the directory relative paths
// inside the entry resolve against; entries spliced in by a pointer inherit
// the directory of the file that defined them, which is what makes chained
// resolution land on the same files as resolving at the source directly.
type pending struct {
	value    string
	base     string
	ancestry []string
}

// Resolver expands pointer entries. It caches parsed JSON documents, so one
// resolver must not outlive a config reload cycle.
type Resolver struct {
	files *lru.Cache[string, any]
}

func NewResolver() (*Resolver, error) {
	files, err := lru.New[string, any](documentCacheSize)
	if err != nil {
		return nil, ferrors.InternalError("failed to create document cache").WithCause(err).Build()
	}
	return &Resolver{files: files}, nil
}

// Resolve expands every pointer entry in values until no pointer syntax
// remains, then removes duplicates preserving first occurrence. baseDir
// anchors relative paths in the input entries; field is the logical config
// key being resolved and selects which field a build pointer reads from the
// referenced builder.
//
// Each full pass scans the current array in order, keeps literals in place
// and appends pointer expansions at the tail. Newly introduced pointer
// strings are picked up by the next pass. A pointer that re-expands a key
// already on its own expansion chain fails with a cyclic pointer error;
// diamond references (the same key reached over independent chains) are
// legal and simply deduplicated.
func (r *Resolver) Resolve(values []string, baseDir, field string) ([]string, error) {
	queue := make([]pending, 0, len(values))
	for _, v := range values {
		queue = append(queue, pending{value: v, base: baseDir})
	}

	for {
		var kept []pending
		var expansions []pending
		changed := false

		for _, entry := range queue {
			switch r.classify(entry) {
			case kindJSON:
				exp, err := r.expandJSON(entry)
				if err != nil {
					return nil, err
				}
				expansions = append(expansions, exp...)
				changed = true
			case kindBuild:
				exp, err := r.expandBuild(entry, field)
				if err != nil {
					return nil, err
				}
				expansions = append(expansions, exp...)
				changed = true
			default:
				kept = append(kept, entry)
			}
		}

		queue = append(kept, expansions...)
		if !changed {
			break
		}
	}

	resolved := make([]string, 0, len(queue))
	for _, entry := range queue {
		resolved = append(resolved, entry.value)
	}
	return Dedupe(resolved), nil
}

// classify decides how an entry expands. A "#" anywhere makes it a JSON
// pointer unconditionally, so a broken file reference fails loudly instead
// of leaking pointer syntax into the resolved array. An "@" makes it a build
// pointer only when the directory part actually exists and carries a marker
// file; anything else (flags, URLs, user@host strings) stays literal.
func (r *Resolver) classify(entry pending) entryKind {
	if strings.Contains(entry.value, "#") {
		return kindJSON
	}
	dirPath, _, found := strings.Cut(entry.value, "@")
	if !found {
		return kindLiteral
	}
	dir := absolutize(dirPath, entry.base)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return kindLiteral
	}
	if _, err := os.Stat(filepath.Join(dir, MarkerFileName)); err != nil {
		return kindLiteral
	}
	return kindBuild
}

func (r *Resolver) expandJSON(entry pending) ([]pending, error) {
	relPath, dotPath, _ := strings.Cut(entry.value, "#")
	absPath := absolutize(relPath, entry.base)
	key := absPath + "#" + dotPath

	if err := checkCycle(entry.ancestry, key); err != nil {
		return nil, err
	}

	doc, err := r.loadDocument(absPath)
	if err != nil {
		return nil, err
	}

	value := doc
	if dotPath != "" {
		for _, segment := range strings.Split(dotPath, ".") {
			obj, ok := value.(map[string]any)
			if !ok {
				return nil, ferrors.ConfigError("cannot navigate into non-object value").
					WithContext("file", absPath).
					WithContext("path", dotPath).
					WithContext("segment", segment).
					Build()
			}
			value, ok = obj[segment]
			if !ok {
				return nil, ferrors.ConfigError("path not found in referenced file").
					WithContext("file", absPath).
					WithContext("path", dotPath).
					WithContext("segment", segment).
					Build()
			}
		}
	}

	strs, err := asStrings(value)
	if err != nil {
		return nil, ferrors.ConfigError("expected string or string array").
			WithCause(err).
			WithContext("file", absPath).
			WithContext("path", dotPath).
			Build()
	}

	return descend(entry, key, filepath.Dir(absPath), strs), nil
}

func (r *Resolver) expandBuild(entry pending, field string) ([]pending, error) {
	dirPath, builderName, _ := strings.Cut(entry.value, "@")
	dir := absolutize(dirPath, entry.base)
	key := dir + "@" + builderName

	if err := checkCycle(entry.ancestry, key); err != nil {
		return nil, err
	}

	markerPath := filepath.Join(dir, MarkerFileName)
	doc, err := r.loadDocument(markerPath)
	if err != nil {
		return nil, err
	}

	root, ok := doc.(map[string]any)
	if !ok {
		return nil, ferrors.ConfigError("marker file is not a JSON object").
			WithContext("file", markerPath).
			Build()
	}
	builders, ok := root["builders"].([]any)
	if !ok {
		return nil, ferrors.ConfigError("marker file has no builders array").
			WithContext("file", markerPath).
			Build()
	}

	var raw map[string]any
	for _, b := range builders {
		obj, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if name, _ := obj["name"].(string); name == builderName {
			raw = obj
			break
		}
	}
	if raw == nil {
		return nil, ferrors.ConfigError("builder not found").
			WithContext("file", markerPath).
			WithContext("builder", builderName).
			Build()
	}

	fieldValue, present := raw[field]
	if !present {
		return nil, nil
	}
	strs, err := asStrings(fieldValue)
	if err != nil {
		return nil, ferrors.ConfigError("expected string or string array").
			WithCause(err).
			WithContext("file", markerPath).
			WithContext("builder", builderName).
			WithContext("field", field).
			Build()
	}

	return descend(entry, key, dir, strs), nil
}

// loadDocument reads and parses a JSON file, serving repeats from the cache.
func (r *Resolver) loadDocument(path string) (any, error) {
	if doc, ok := r.files.Get(path); ok {
		return doc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.ConfigError("cannot read referenced file").
			WithCause(err).
			WithContext("file", path).
			Build()
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, ferrors.ConfigError("referenced file is not valid JSON").
			WithCause(err).
			WithContext("file", path).
			Build()
	}

	r.files.Add(path, doc)
	return doc, nil
}

// descend turns expansion strings into pending entries that remember both
// the directory they were defined in and the chain that produced them.
func descend(parent pending, key, base string, values []string) []pending {
	ancestry := append(slices.Clone(parent.ancestry), key)
	out := make([]pending, 0, len(values))
	for _, v := range values {
		out = append(out, pending{value: v, base: base, ancestry: ancestry})
	}
	return out
}

func checkCycle(ancestry []string, key string) error {
	if slices.Contains(ancestry, key) {
		return ferrors.CyclicPointerError(append(slices.Clone(ancestry), key))
	}
	return nil
}

// asStrings accepts the two value shapes a pointer may address: a single
// string, or a flat array of strings.
func asStrings(value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, ferrors.ValidationError("array contains a non-string element").Build()
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, ferrors.ValidationError("value is neither string nor array").Build()
	}
}

func absolutize(path, base string) string {
	if path == "" {
		return base
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(base, path))
}

// Dedupe removes duplicate strings preserving the first occurrence.
func Dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
