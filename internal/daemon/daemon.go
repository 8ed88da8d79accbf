package daemon

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/buildwatch/internal/config"
	"git.home.luguber.info/inful/buildwatch/internal/events"
	ferrors "git.home.luguber.info/inful/buildwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/buildwatch/internal/history"
	"git.home.luguber.info/inful/buildwatch/internal/logfields"
	"git.home.luguber.info/inful/buildwatch/internal/metrics"
	"git.home.luguber.info/inful/buildwatch/internal/orchestrator"
	"git.home.luguber.info/inful/buildwatch/internal/registry"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// historyRetention is how long recorded build attempts are kept before the
// daily prune job removes them.
const historyRetention = 30 * 24 * time.Hour

// Options select what the daemon manages beyond the configuration file.
type Options struct {
	// Roots are the workspace roots scanned for marker files.
	Roots []string
	// WatchAll starts every discovered builder watching, not just each
	// marker's autostart target.
	WatchAll bool
}

// Daemon composes the builder registry, the status HTTP server and the
// optional event sinks (metrics, history, NATS) around one shared event bus.
type Daemon struct {
	cfg  *config.Config
	opts Options

	instanceID string
	status     atomic.Value // Status
	startTime  time.Time
	mu         sync.Mutex

	runCtx    context.Context
	runCancel context.CancelFunc

	bus      *events.Bus
	registry *registry.Registry
	recorder metrics.Recorder
	promReg  *prom.Registry

	store     *history.Store
	publisher *EventPublisher
	hub       *SocketHub
	http      *HTTPServer
	scheduler *Scheduler
	workers   WorkerGroup
}

// New wires up a daemon from the configuration. Optional components (metrics,
// history, NATS publishing) are only constructed when their config enables
// them; a failure to construct any enabled component fails construction.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, ferrors.ValidationError("configuration is required").Build()
	}
	if len(opts.Roots) == 0 {
		return nil, ferrors.ValidationError("at least one workspace root is required").Build()
	}

	d := &Daemon{
		cfg:        cfg,
		opts:       opts,
		instanceID: uuid.NewString(),
		bus:        events.NewBus(),
		recorder:   metrics.NoopRecorder{},
	}
	d.status.Store(StatusStopped)

	reg, err := registry.New(d.bus, orchestrator.Options{
		CompilerCommand:  cfg.Compiler.Command,
		BaseArgs:         cfg.Compiler.BaseArgs,
		MachineArgs:      cfg.Compiler.MachineArgs,
		Debounce:         cfg.Debounce(),
		SourceExtensions: cfg.Watch.SourceExtensions,
		OutputDirName:    cfg.Watch.OutputDir,
	})
	if err != nil {
		return nil, err
	}
	d.registry = reg

	if cfg.HTTP.Metrics.Enabled {
		d.promReg = prom.NewRegistry()
		d.recorder = metrics.NewPrometheusRecorder(d.promReg)
	}

	if cfg.History.Enabled {
		store, err := history.NewStore(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		d.store = store
	}

	if cfg.Events.NATS.Enabled {
		publisher, err := NewEventPublisher(cfg.Events.NATS)
		if err != nil {
			d.closeStores()
			return nil, err
		}
		d.publisher = publisher
	}

	scheduler, err := NewScheduler()
	if err != nil {
		d.closeStores()
		return nil, err
	}
	d.scheduler = scheduler

	d.hub = NewSocketHub(d.bus, d.instanceID)
	d.http = NewHTTPServer(cfg, d)

	return d, nil
}

// closeStores releases components that hold external resources. Used when a
// later construction step fails and on full shutdown.
func (d *Daemon) closeStores() {
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.publisher != nil {
		d.publisher.Close()
	}
}

// Status returns the daemon's current lifecycle state.
func (d *Daemon) Status() Status {
	status, ok := d.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return status
}

// StartTime returns when the daemon entered Start.
func (d *Daemon) StartTime() time.Time {
	return d.startTime
}

// InstanceID is a unique id per daemon process, handed to clients so they can
// detect a restart and drop stale state.
func (d *Daemon) InstanceID() string {
	return d.instanceID
}

// Registry exposes the workspace registry for status queries.
func (d *Daemon) Registry() *registry.Registry {
	return d.registry
}

// HTTPAddr returns the status server's bound address once started.
func (d *Daemon) HTTPAddr() string {
	return d.http.Addr()
}

// History returns the build-attempt store, or nil when history is disabled.
func (d *Daemon) History() *history.Store {
	return d.store
}

// Start brings up event consumers, workspaces, the HTTP server and scheduled
// jobs, in that order. Consumers run first so no build event is dropped.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if st := d.Status(); st != StatusStopped {
		return ferrors.DaemonError("daemon is not stopped").
			WithContext("status", string(st)).
			Build()
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	d.runCtx, d.runCancel = context.WithCancel(context.Background())

	slog.Info("Starting daemon", slog.Int("roots", len(d.opts.Roots)))

	d.workers.Go(func() { runMetricsConsumer(d.bus, d.recorder) })
	if d.store != nil {
		d.workers.Go(func() { runHistoryConsumer(d.runCtx, d.bus, d.store) })
	}
	if d.publisher != nil {
		d.workers.Go(func() { d.publisher.Run(d.bus) })
	}
	d.workers.Go(func() { d.hub.Run() })

	for _, root := range d.opts.Roots {
		workspaces, err := d.registry.AddWorkspace(d.runCtx, root)
		if err != nil {
			d.failStart(ctx, err)
			return err
		}
		if d.opts.WatchAll {
			for _, ws := range workspaces {
				if err := ws.StartAll(d.runCtx); err != nil {
					d.failStart(ctx, err)
					return err
				}
			}
		}
	}

	if err := d.http.Start(ctx); err != nil {
		d.failStart(ctx, err)
		return err
	}

	if every := d.cfg.ScheduleEvery(); every > 0 {
		if err := d.scheduler.PeriodicRebuild(every, d.scheduledRebuild); err != nil {
			d.failStart(ctx, err)
			return err
		}
	}
	if d.store != nil {
		if err := d.scheduler.DailyHistoryPrune(d.pruneHistory); err != nil {
			d.failStart(ctx, err)
			return err
		}
	}
	d.scheduler.Start()

	d.status.Store(StatusRunning)
	slog.Info("Daemon started",
		slog.String("addr", d.cfg.HTTP.Addr),
		slog.Int("builders", len(d.registry.Builders())))
	return nil
}

// failStart tears down whatever Start already brought up so a failed Start
// leaves no goroutines or sockets behind. Caller holds d.mu.
func (d *Daemon) failStart(ctx context.Context, cause error) {
	d.status.Store(StatusError)
	slog.Error("Daemon start failed", logfields.Error(cause))

	_ = d.http.Stop(ctx)
	d.registry.Close(ctx)
	d.bus.Close()
	d.runCancel()
	_ = d.workers.StopAndWait(ctx)
	d.hub.CloseConnections()
	_ = d.scheduler.Stop()
	d.closeStores()
}

// Stop shuts the daemon down in reverse of Start: stop triggers (scheduler,
// HTTP), then producers (registry), then the bus so consumers drain out.
// Bounded by ctx.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.Status() {
	case StatusStopped, StatusStopping:
		return nil
	case StatusError:
		// A failed Start already tore everything down.
		return nil
	case StatusStarting:
		return ferrors.DaemonError("daemon is still starting").Build()
	}
	d.status.Store(StatusStopping)
	slog.Info("Stopping daemon")

	var errs []error
	if err := d.scheduler.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := d.http.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	d.registry.Close(ctx)
	d.bus.Close()
	d.runCancel()
	if err := d.workers.StopAndWait(ctx); err != nil {
		errs = append(errs, err)
	}
	d.hub.CloseConnections()
	d.closeStores()

	d.status.Store(StatusStopped)
	uptime := time.Since(d.startTime)
	slog.Info("Daemon stopped", logfields.DurationMS(float64(uptime.Milliseconds())))

	if len(errs) > 0 {
		return ferrors.DaemonError("shutdown finished with errors").
			WithCause(errs[0]).
			WithContext("errors", len(errs)).
			Build()
	}
	return nil
}

// TriggerBuild runs one build attempt per selected builder. An empty name
// selects every registered builder. Returns the names actually triggered.
func (d *Daemon) TriggerBuild(name, reason string) ([]string, error) {
	if d.Status() != StatusRunning {
		return nil, ferrors.DaemonError("daemon is not running").
			WithContext("status", string(d.Status())).
			Build()
	}

	var selected []*orchestrator.Orchestrator
	for _, o := range d.registry.Builders() {
		if name == "" || o.Name() == name {
			selected = append(selected, o)
		}
	}
	if name != "" && len(selected) == 0 {
		return nil, ferrors.ConfigError("builder not found").
			WithContext("builder", name).
			Build()
	}

	triggered := make([]string, 0, len(selected))
	for _, o := range selected {
		if err := o.Build(d.runCtx, reason); err != nil {
			slog.Error("Triggered build failed to spawn",
				logfields.Builder(o.Name()),
				logfields.Error(err))
			continue
		}
		triggered = append(triggered, o.Name())
	}
	return triggered, nil
}

// scheduledRebuild is the gocron callback for periodic full rebuilds.
func (d *Daemon) scheduledRebuild() {
	names, err := d.TriggerBuild("", "scheduled")
	if err != nil {
		slog.Warn("Scheduled rebuild skipped", logfields.Error(err))
		return
	}
	slog.Info("Scheduled rebuild triggered", logfields.Count(len(names)))
}

// pruneHistory is the gocron callback dropping build attempts older than the
// retention window.
func (d *Daemon) pruneHistory() {
	removed, err := d.store.Prune(d.runCtx, historyRetention)
	if err != nil {
		slog.Warn("History prune failed", logfields.Error(err))
		return
	}
	if removed > 0 {
		slog.Info("Pruned build history", logfields.Count(int(removed)))
	}
}
