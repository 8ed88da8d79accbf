package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/buildwatch/internal/config"
	"git.home.luguber.info/inful/buildwatch/internal/daemon"
)

// stopGrace bounds how long shutdown may wait for running builds and the
// status server to wind down.
const stopGrace = 30 * time.Second

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	All  bool     `help:"Watch every builder, not only each marker's autostart target"`
	Dirs []string `arg:"" optional:"" name:"dir" help:"Workspace roots to scan for marker files (default: current directory)"`
}

func (w *WatchCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	roots := w.Dirs
	if len(roots) == 0 {
		roots = []string{"."}
	}
	return RunWatch(cfg, roots, w.All)
}

// RunWatch runs the daemon over the given workspace roots until an interrupt
// or termination signal arrives, then shuts it down within stopGrace.
func RunWatch(cfg *config.Config, roots []string, watchAll bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfg, daemon.Options{Roots: roots, WatchAll: watchAll})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	slog.Info("Watching for changes, press Ctrl-C to stop")
	<-ctx.Done()
	slog.Info("Stopping after signal")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopGrace)
	defer stopCancel()

	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}
	return nil
}
