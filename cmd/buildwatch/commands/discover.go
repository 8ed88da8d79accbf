package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"git.home.luguber.info/inful/buildwatch/internal/builder"
	"git.home.luguber.info/inful/buildwatch/internal/config"
	"git.home.luguber.info/inful/buildwatch/internal/logfields"
	"git.home.luguber.info/inful/buildwatch/internal/registry"
)

// DiscoverCmd implements the 'discover' command.
type DiscoverCmd struct {
	Dirs []string `arg:"" optional:"" name:"dir" help:"Workspace roots to scan for marker files (default: current directory)"`
}

// Run lists every marker file under the given roots with its builders and
// autostart target. Markers that fail to load are reported and skipped, so
// one broken project does not hide the rest.
func (d *DiscoverCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	roots := d.Dirs
	if len(roots) == 0 {
		roots = []string{"."}
	}

	found := 0
	for _, dir := range roots {
		markers, err := registry.DiscoverMarkers(dir, cfg.Watch.OutputDir)
		if err != nil {
			return err
		}
		for _, markerPath := range markers {
			marker, err := builder.LoadMarker(markerPath)
			if err != nil {
				slog.Warn("Skipping invalid marker file",
					logfields.Marker(markerPath),
					logfields.Error(err))
				continue
			}
			found++
			fmt.Printf("%s\n", marker.Path)
			fmt.Printf("  builders:  %s\n", strings.Join(marker.Names(), ", "))
			if marker.Autostart != "" {
				fmt.Printf("  autostart: %s\n", marker.Autostart)
			}
		}
	}

	if found == 0 {
		fmt.Println("No marker files found")
		return nil
	}
	fmt.Printf("%d marker files found\n", found)
	return nil
}
