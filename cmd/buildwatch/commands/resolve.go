package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/buildwatch/internal/builder"
)

// ResolveCmd implements the 'resolve' command.
type ResolveCmd struct {
	Dir     string `short:"d" help:"Directory whose marker file to resolve" default:"."`
	Builder string `short:"b" help:"Print only the named builder"`
}

// Run loads and pointer-resolves the marker file and prints each selected
// builder config as indented JSON, one document per builder. This is the
// inspection surface for pointer chains: what prints is exactly what a build
// would run with.
func (r *ResolveCmd) Run(_ *Global, _ *CLI) error {
	markerPath := filepath.Join(r.Dir, builder.MarkerFileName)
	marker, err := builder.LoadMarker(markerPath)
	if err != nil {
		return err
	}

	selected := marker.Builders
	if r.Builder != "" {
		bc, ok := marker.Builder(r.Builder)
		if !ok {
			return fmt.Errorf("builder %q not defined in %s", r.Builder, markerPath)
		}
		selected = []builder.BuilderConfig{bc}
	}

	for _, bc := range selected {
		data, err := bc.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(data))
	}
	return nil
}
