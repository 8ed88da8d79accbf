package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"git.home.luguber.info/inful/buildwatch/internal/builder"
	"git.home.luguber.info/inful/buildwatch/internal/config"
	"git.home.luguber.info/inful/buildwatch/internal/diagnostics"
	"git.home.luguber.info/inful/buildwatch/internal/events"
	"git.home.luguber.info/inful/buildwatch/internal/orchestrator"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Dir     string `short:"d" help:"Directory whose marker file to build" default:"."`
	Builder string `short:"b" help:"Build only the named builder"`
}

func (b *BuildCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return RunBuild(ctx, cfg, b.Dir, b.Builder)
}

// RunBuild loads the marker file in dir and runs one build attempt per
// selected builder, sequentially. Diagnostics are printed after each attempt.
// The returned error is non-nil when any attempt failed to run, exited
// non-zero or produced Error diagnostics, so scripted callers get a non-zero
// exit status.
func RunBuild(ctx context.Context, cfg *config.Config, dir, only string) error {
	markerPath := filepath.Join(dir, builder.MarkerFileName)
	marker, err := builder.LoadMarker(markerPath)
	if err != nil {
		return err
	}

	selected := marker.Builders
	if only != "" {
		bc, ok := marker.Builder(only)
		if !ok {
			return fmt.Errorf("builder %q not defined in %s", only, markerPath)
		}
		selected = []builder.BuilderConfig{bc}
	}

	opts := orchestrator.Options{
		CompilerCommand:  cfg.Compiler.Command,
		BaseArgs:         cfg.Compiler.BaseArgs,
		MachineArgs:      cfg.Compiler.MachineArgs,
		SourceExtensions: cfg.Watch.SourceExtensions,
		OutputDirName:    cfg.Watch.OutputDir,
	}

	bus := events.NewBus()
	defer bus.Close()
	finished, unsubFinished := events.Subscribe[events.BuildFinished](bus, 4)
	defer unsubFinished()
	killed, unsubKilled := events.Subscribe[events.BuildKilled](bus, 4)
	defer unsubKilled()

	failed := 0
	for _, bc := range selected {
		o, err := orchestrator.New(bc, bus, opts)
		if err != nil {
			return err
		}

		if err := o.Build(ctx, "manual"); err != nil {
			fmt.Printf("%s: cannot start build: %v\n", bc.Name, err)
			failed++
			continue
		}

		var fin events.BuildFinished
		select {
		case fin = <-finished:
		case <-ctx.Done():
			o.Abort(context.Background())
			select {
			case <-killed:
			case <-finished:
			case <-time.After(2 * time.Second):
			}
			return fmt.Errorf("build interrupted")
		}

		errCount := printDiagnostics(bc.Name, o.Diagnostics().Snapshot())
		files, total := o.Diagnostics().Counts()
		fmt.Printf("%s: exit %d, %d diagnostics in %d files (%s)\n",
			bc.Name, fin.ExitCode, total, files, fin.Duration.Round(time.Millisecond))
		if fin.ExitCode != 0 || errCount > 0 {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d builds failed", failed, len(selected))
	}
	return nil
}

// printDiagnostics writes one line per diagnostic in file order and returns
// how many carried Error severity. Positions are stored zero-based; humans
// read them one-based.
func printDiagnostics(name string, snapshot map[string][]diagnostics.Diagnostic) int {
	files := make([]string, 0, len(snapshot))
	for file := range snapshot {
		files = append(files, file)
	}
	sort.Strings(files)

	errCount := 0
	for _, file := range files {
		for _, d := range snapshot[file] {
			if d.Severity == diagnostics.SeverityError {
				errCount++
			}
			fmt.Fprintf(os.Stdout, "%s:%d:%d: %s: %s [%s]\n",
				d.File, d.Start.Line+1, d.Start.Col+1, d.Severity, d.Message, name)
		}
	}
	return errCount
}
