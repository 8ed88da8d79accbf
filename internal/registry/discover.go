package registry

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/buildwatch/internal/builder"
	ferrors "git.home.luguber.info/inful/buildwatch/internal/foundation/errors"
)

// DiscoverMarkers locates marker files for one workspace root. A marker at
// the top level claims the whole workspace. Otherwise the tree below is
// scanned for nested project roots; a found project is not descended into,
// its nested references are the project's own concern.
func DiscoverMarkers(root, outputDirName string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, ferrors.FileSystemError("cannot read workspace root").
			WithCause(err).
			WithContext("dir", root).
			Build()
	}
	if !info.IsDir() {
		return nil, ferrors.ValidationError("workspace root is not a directory").
			WithContext("dir", root).
			Build()
	}

	top := filepath.Join(root, builder.MarkerFileName)
	if _, err := os.Stat(top); err == nil {
		return []string{top}, nil
	}

	var markers []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skippedDir(filepath.Base(path), outputDirName) {
			return fs.SkipDir
		}

		marker := filepath.Join(path, builder.MarkerFileName)
		if _, err := os.Stat(marker); err == nil {
			markers = append(markers, marker)
			if path != root {
				return fs.SkipDir
			}
		}
		return nil
	})
	if walkErr != nil {
		return nil, ferrors.FileSystemError("workspace scan failed").
			WithCause(walkErr).
			WithContext("dir", root).
			Build()
	}
	return markers, nil
}

func skippedDir(name, outputDirName string) bool {
	if name == "node_modules" || name == outputDirName {
		return true
	}
	return len(name) > 1 && strings.HasPrefix(name, ".")
}
