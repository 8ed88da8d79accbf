package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/buildwatch/internal/builder"
	"git.home.luguber.info/inful/buildwatch/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool   `help:"Overwrite existing files"`
	Dir   string `arg:"" optional:"" default:"." help:"Directory to initialize"`
}

// starterMarker is the marker file written for a fresh project. A plain
// source build with no pointers; projects grow pointer entries as they
// split into libraries.
const starterMarker = `{
  "builders": [
    {
      "name": "source",
      "compilerArgs": ["--target=source"],
      "sourcePaths": ["source"]
    }
  ],
  "autostart": "source"
}
`

func (i *InitCmd) Run(_ *Global, root *CLI) error {
	fmt.Println("Initializing buildwatch project")

	markerPath := filepath.Join(i.Dir, builder.MarkerFileName)
	if err := writeMarker(markerPath, i.Force); err != nil {
		fmt.Println("Initialization failed")
		return err
	}
	fmt.Printf("Wrote %s\n", markerPath)

	if err := config.Init(root.Config, i.Force); err != nil {
		fmt.Println("Initialization failed")
		return err
	}
	fmt.Printf("Wrote %s\n", root.Config)

	fmt.Println("initialized successfully")
	return nil
}

func writeMarker(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("marker file already exists: %s (use --force to overwrite)", path)
	}
	return os.WriteFile(path, []byte(starterMarker), 0644)
}
