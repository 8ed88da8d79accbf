package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
)

// Global is the kong bind target handed to every Run method. It carries no
// state yet; commands read shared flags from the root CLI instead.
type Global struct{}

// CLI is the root command tree. kong fills it from argv, and every
// subcommand receives a pointer to it for the shared flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build    BuildCmd    `cmd:"" help:"Run one build per selected builder and exit"`
	Watch    WatchCmd    `cmd:"" help:"Watch builder source trees and rebuild on change"`
	Resolve  ResolveCmd  `cmd:"" help:"Print fully resolved builder configurations as JSON"`
	Discover DiscoverCmd `cmd:"" help:"List marker files and builders without building"`
	Init     InitCmd     `cmd:"" help:"Write starter marker and daemon configuration files"`
}

// AfterApply wires the default logger before any command runs.
//
//nolint:unparam // error return is required by the kong hook signature
func (c *CLI) AfterApply() error {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if c.Verbose {
		opts.Level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	return nil
}
