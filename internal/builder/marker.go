package builder

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	ferrors "git.home.luguber.info/inful/buildwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/buildwatch/internal/pointer"
)

// Marker is one parsed and fully validated marker file. Loading is fail-fast:
// any invalid builder definition aborts the whole file, so a Marker never
// represents a partially valid builder set.
type Marker struct {
	Path      string
	Dir       string
	Autostart string
	Builders  []BuilderConfig
}

var allowedBuilderKeys = map[string]struct{}{
	"name":         {},
	"workDir":      {},
	"compilerArgs": {},
	"preBuild":     {},
	"postBuild":    {},
	"sourcePaths":  {},
	"$schema":      {},
}

var allowedTopLevelKeys = map[string]struct{}{
	"builders":  {},
	"autostart": {},
	"$schema":   {},
}

// arrayFields lists the pointer-resolved fields in their processing order.
var arrayFields = [...]string{"compilerArgs", "preBuild", "postBuild", "sourcePaths"}

// LoadMarker reads, validates and pointer-resolves a marker file.
func LoadMarker(path string) (*Marker, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, ferrors.FileSystemError("cannot resolve config file path").
			WithCause(err).
			WithContext("file", path).
			Build()
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, ferrors.ConfigError("cannot read config file").
			WithCause(err).
			WithContext("file", abs).
			Build()
	}

	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, ferrors.ConfigError("config file is not valid JSON").
			WithCause(err).
			WithContext("file", abs).
			Build()
	}

	for key := range root {
		if _, ok := allowedTopLevelKeys[key]; !ok {
			return nil, ferrors.ConfigError("unknown key").
				WithContext("key", key).
				WithContext("file", abs).
				Build()
		}
	}

	rawBuilders, present := root["builders"]
	if !present {
		return nil, ferrors.ConfigError("missing builders array").
			WithContext("file", abs).
			Build()
	}
	items, ok := rawBuilders.([]any)
	if !ok {
		return nil, ferrors.ConfigError("builders must be an array").
			WithContext("file", abs).
			Build()
	}

	resolver, err := pointer.NewResolver()
	if err != nil {
		return nil, err
	}

	marker := &Marker{Path: abs, Dir: filepath.Dir(abs)}
	seen := make(map[string]struct{}, len(items))

	for i, item := range items {
		raw, ok := item.(map[string]any)
		if !ok {
			return nil, ferrors.ConfigError("builder definition must be an object").
				WithContext("file", abs).
				WithContext("index", i).
				Build()
		}

		cfg, err := buildFromRaw(raw, marker.Dir, resolver)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid builder definition").
				WithContext("file", abs).
				WithContext("index", i).
				Build()
		}

		if _, dup := seen[cfg.Name]; dup {
			return nil, ferrors.ConfigError("duplicate builder name").
				WithContext("file", abs).
				WithContext("name", cfg.Name).
				Build()
		}
		seen[cfg.Name] = struct{}{}

		marker.Builders = append(marker.Builders, cfg)
	}

	if rawAutostart, present := root["autostart"]; present {
		name, ok := rawAutostart.(string)
		if !ok {
			return nil, ferrors.ConfigError("autostart must be a string").
				WithContext("file", abs).
				Build()
		}
		if _, found := seen[name]; !found {
			return nil, ferrors.ConfigError("autostart references unknown builder").
				WithContext("file", abs).
				WithContext("builder", name).
				Build()
		}
		marker.Autostart = name
	}

	return marker, nil
}

// Builder returns the named builder config, if defined.
func (m *Marker) Builder(name string) (BuilderConfig, bool) {
	for _, cfg := range m.Builders {
		if cfg.Name == name {
			return cfg, true
		}
	}
	return BuilderConfig{}, false
}

// Names returns all builder names in definition order.
func (m *Marker) Names() []string {
	names := make([]string, 0, len(m.Builders))
	for _, cfg := range m.Builders {
		names = append(names, cfg.Name)
	}
	return names
}

// buildFromRaw validates one raw builder object and resolves its array
// fields. The fields are processed in a fixed order and any failure is
// wrapped with the key that was being processed.
func buildFromRaw(raw map[string]any, baseDir string, resolver *pointer.Resolver) (BuilderConfig, error) {
	for key := range raw {
		if _, ok := allowedBuilderKeys[key]; !ok {
			return BuilderConfig{}, ferrors.ConfigError("unknown key").
				WithContext("key", key).
				Build()
		}
	}

	name, err := stringValue(raw, "name")
	if err != nil {
		return BuilderConfig{}, err
	}
	if name == "" {
		name = "builder-" + uuid.NewString()[:8]
	}

	workDir, err := stringValue(raw, "workDir")
	if err != nil {
		return BuilderConfig{}, err
	}
	switch {
	case workDir == "":
		workDir = baseDir
	case !filepath.IsAbs(workDir):
		workDir = filepath.Join(baseDir, workDir)
	}
	workDir = filepath.Clean(workDir)

	cfg := BuilderConfig{Name: name, WorkDir: workDir}

	for _, key := range arrayFields {
		values, err := stringArray(raw, key)
		if err != nil {
			return BuilderConfig{}, err
		}

		resolved, err := resolver.Resolve(values, workDir, key)
		if err != nil {
			return BuilderConfig{}, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to resolve builder field").
				WithContext("key", key).
				WithContext("builder", name).
				Build()
		}

		switch key {
		case "compilerArgs":
			cfg.CompilerArgs = stripWatchFlags(resolved)
		case "preBuild":
			cfg.PreBuild = resolved
		case "postBuild":
			cfg.PostBuild = resolved
		case "sourcePaths":
			cfg.SourcePaths = resolved
		}
	}

	return cfg, nil
}

func stringValue(raw map[string]any, key string) (string, error) {
	v, present := raw[key]
	if !present {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", ferrors.ConfigError("expected string value").
			WithContext("key", key).
			Build()
	}
	return s, nil
}

func stringArray(raw map[string]any, key string) ([]string, error) {
	v, present := raw[key]
	if !present {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, ferrors.ConfigError("expected string array").
			WithContext("key", key).
			Build()
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, ferrors.ConfigError("expected string array").
				WithContext("key", key).
				Build()
		}
		out = append(out, s)
	}
	return out, nil
}
