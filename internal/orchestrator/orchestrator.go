// Package orchestrator owns the lifecycle of one builder: watching its
// source paths, debouncing change bursts into rebuilds, and running the
// compiler pipeline with kill-before-spawn semantics.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/buildwatch/internal/builder"
	"git.home.luguber.info/inful/buildwatch/internal/diagnostics"
	"git.home.luguber.info/inful/buildwatch/internal/events"
	ferrors "git.home.luguber.info/inful/buildwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/buildwatch/internal/logfields"
	"git.home.luguber.info/inful/buildwatch/internal/proc"
)

// State of one orchestrator.
type State int

const (
	StateStopped State = iota
	StateWatching
)

func (s State) String() string {
	if s == StateWatching {
		return "watching"
	}
	return "stopped"
}

// Options tune how builds are invoked and changes are detected. Zero values
// select the defaults; set a field to an empty non-nil slice to suppress the
// corresponding default args entirely.
type Options struct {
	// CompilerCommand is the wrapped compiler binary. Default "qx".
	CompilerCommand string
	// BaseArgs go right after the command, before the builder's own args.
	// Default {"compile"}.
	BaseArgs []string
	// MachineArgs force the machine-readable protocol. Default
	// {"--machine-readable", "--feedback=false"}.
	MachineArgs []string
	// Debounce is the quiet window after a source change. Default 500ms.
	Debounce time.Duration
	// SourceExtensions are the file endings that count as source changes.
	// Default {".js"}.
	SourceExtensions []string
	// OutputDirName is the compiler output directory excluded from watching
	// and attribution. Default "compiled".
	OutputDirName string
}

// WithDefaults fills unset options with the stock qooxdoo toolchain values.
func (o Options) WithDefaults() Options {
	if o.CompilerCommand == "" {
		o.CompilerCommand = "qx"
	}
	if o.BaseArgs == nil {
		o.BaseArgs = []string{"compile"}
	}
	if o.MachineArgs == nil {
		o.MachineArgs = []string{"--machine-readable", "--feedback=false"}
	}
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if len(o.SourceExtensions) == 0 {
		o.SourceExtensions = []string{".js"}
	}
	if o.OutputDirName == "" {
		o.OutputDirName = diagnostics.DefaultOutputDirName
	}
	return o
}

// Orchestrator is the per-builder state machine. All mutating entry points
// (Start, Stop, Build, DebounceBuild, UpdateConfig) are safe for concurrent
// use; outward signals go through the event bus only.
type Orchestrator struct {
	bus  *events.Bus
	opts Options

	mu        sync.Mutex
	cfg       builder.BuilderConfig
	set       *diagnostics.DiagnosticSet
	state     State
	cancel    context.CancelFunc
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
	debounce  *time.Timer
	live      map[string]*proc.Handle
}

func New(cfg builder.BuilderConfig, bus *events.Bus, opts Options) (*Orchestrator, error) {
	if bus == nil {
		return nil, ferrors.ValidationError("event bus is required").Build()
	}
	opts = opts.WithDefaults()
	return &Orchestrator{
		bus:  bus,
		opts: opts,
		cfg:  cfg,
		set:  diagnostics.NewDiagnosticSet(cfg.WorkDir, cfg.SourcePaths, opts.OutputDirName),
		live: make(map[string]*proc.Handle),
	}, nil
}

// Name returns the builder name this orchestrator serves.
func (o *Orchestrator) Name() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg.Name
}

// Config returns the current resolved builder config.
func (o *Orchestrator) Config() builder.BuilderConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// ToJSON renders the current resolved config for inspection tooling, in the
// same form the resolve command prints.
func (o *Orchestrator) ToJSON() ([]byte, error) {
	return o.Config().JSON()
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Diagnostics exposes the builder's current diagnostic set for status
// consumers.
func (o *Orchestrator) Diagnostics() *diagnostics.DiagnosticSet {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.set
}

// LiveAttempts counts processes that are running and were not killed yet.
func (o *Orchestrator) LiveAttempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, h := range o.live {
		if !h.Killed() {
			n++
		}
	}
	return n
}

// WatchedPaths lists the currently established watch roots. Empty when
// stopped.
func (o *Orchestrator) WatchedPaths() []string {
	o.mu.Lock()
	watcher := o.watcher
	o.mu.Unlock()

	if watcher == nil {
		return nil
	}
	return watcher.WatchList()
}

// Start transitions to watching: it triggers an immediate build, then
// establishes recursive watches over the resolved source paths. Calling
// Start on a watching orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateWatching {
		o.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.state = StateWatching
	o.cancel = cancel
	name := o.cfg.Name
	o.mu.Unlock()

	slog.Info("Starting builder", logfields.Builder(name))

	if err := o.Build(runCtx, "start"); err != nil {
		// A failed spawn leaves the builder idle until the next change; it
		// does not prevent watching.
		slog.Warn("Initial build failed", logfields.Builder(name), logfields.Error(err))
	}

	if err := o.startWatches(runCtx); err != nil {
		o.Stop(ctx)
		return err
	}
	return nil
}

// Stop closes all watches, kills every live process and transitions to
// stopped. It blocks until the watch loop has exited.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if o.state == StateStopped {
		o.mu.Unlock()
		return
	}
	o.state = StateStopped
	cancel := o.cancel
	o.cancel = nil
	watcher := o.watcher
	o.watcher = nil
	watchDone := o.watchDone
	o.watchDone = nil
	if o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
	name := o.cfg.Name
	killed := o.killLiveLocked()
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			slog.Warn("Error closing file watcher", logfields.Builder(name), logfields.Error(err))
		}
	}
	if watchDone != nil {
		<-watchDone
	}

	for _, evt := range killed {
		_ = o.bus.Publish(ctx, evt)
	}

	slog.Info("Stopped builder", logfields.Builder(name))
}

// Abort kills every live build attempt without touching watch state.
// One-shot callers use it when an interrupt arrives while a build is in
// flight; a stopped orchestrator has no watches for Stop to tear down.
func (o *Orchestrator) Abort(ctx context.Context) {
	o.mu.Lock()
	killed := o.killLiveLocked()
	o.mu.Unlock()

	for _, evt := range killed {
		_ = o.bus.Publish(ctx, evt)
	}
}

// UpdateConfig applies a newly resolved config. An identical config is a
// no-op even though the marker file was re-saved; any difference restarts
// the orchestrator so watches and compiler args reflect the new config.
func (o *Orchestrator) UpdateConfig(ctx context.Context, cfg builder.BuilderConfig) error {
	o.mu.Lock()
	if o.cfg.Equal(cfg) {
		name := o.cfg.Name
		o.mu.Unlock()
		slog.Debug("Config unchanged, keeping builder as-is", logfields.Builder(name))
		return nil
	}
	wasWatching := o.state == StateWatching
	o.mu.Unlock()

	if wasWatching {
		o.Stop(ctx)
	}

	o.mu.Lock()
	o.cfg = cfg
	o.set = diagnostics.NewDiagnosticSet(cfg.WorkDir, cfg.SourcePaths, o.opts.OutputDirName)
	o.mu.Unlock()

	if wasWatching {
		return o.Start(ctx)
	}
	return nil
}

// killLiveLocked kills every not yet killed process and returns the events
// to publish once the lock is released. Handles stay in the live map until
// their consumer observes process exit.
func (o *Orchestrator) killLiveLocked() []events.BuildKilled {
	var killed []events.BuildKilled
	for id, h := range o.live {
		if h.Killed() {
			continue
		}
		if err := h.Kill(); err != nil {
			slog.Warn("Failed to kill build process",
				logfields.Builder(o.cfg.Name),
				logfields.Attempt(id),
				logfields.Error(err))
			continue
		}
		killed = append(killed, events.BuildKilled{
			Builder:  o.cfg.Name,
			Attempt:  id,
			KilledAt: time.Now(),
		})
	}
	return killed
}
