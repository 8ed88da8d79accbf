package registry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/buildwatch/internal/builder"
	"git.home.luguber.info/inful/buildwatch/internal/events"
	"git.home.luguber.info/inful/buildwatch/internal/logfields"
	"git.home.luguber.info/inful/buildwatch/internal/orchestrator"
)

// reloadDebounce absorbs editor save bursts and atomic-rename saves of the
// marker file before a reconcile runs.
const reloadDebounce = 500 * time.Millisecond

// Workspace is the builder set defined by one marker file. It keeps the
// name to orchestrator mapping reconciled against the file: reloads diff by
// builder name into create, update and stop actions.
type Workspace struct {
	bus  *events.Bus
	opts orchestrator.Options

	markerPath string
	dir        string

	mu            sync.Mutex
	orchestrators map[string]*orchestrator.Orchestrator
	order         []string
	autostart     string

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
	reloadMu  sync.Mutex
	reloadTmr *time.Timer

	// lifecycle serializes Reconcile against Close so a debounced reload
	// cannot rebuild the set after shutdown.
	lifecycle  sync.Mutex
	closed     bool
	closedOnce sync.Once
}

// OpenWorkspace loads the marker file, builds its orchestrators and begins
// watching the file for changes. The initial load is fail-fast: an invalid
// marker file produces no workspace at all.
func OpenWorkspace(ctx context.Context, markerPath string, bus *events.Bus, opts orchestrator.Options) (*Workspace, error) {
	marker, err := builder.LoadMarker(markerPath)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{
		bus:           bus,
		opts:          opts,
		markerPath:    marker.Path,
		dir:           marker.Dir,
		orchestrators: make(map[string]*orchestrator.Orchestrator),
	}

	if err := ws.apply(ctx, marker); err != nil {
		ws.stopAll(ctx)
		return nil, err
	}
	if err := ws.watchMarker(ctx); err != nil {
		ws.stopAll(ctx)
		return nil, err
	}

	slog.Info("Workspace opened",
		logfields.Marker(ws.markerPath),
		logfields.Count(len(marker.Builders)))
	return ws, nil
}

// MarkerPath returns the absolute path of the marker file.
func (ws *Workspace) MarkerPath() string {
	return ws.markerPath
}

// Dir returns the directory containing the marker file.
func (ws *Workspace) Dir() string {
	return ws.dir
}

// Builder returns the orchestrator for name, if present.
func (ws *Workspace) Builder(name string) (*orchestrator.Orchestrator, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	o, ok := ws.orchestrators[name]
	return o, ok
}

// Builders returns the orchestrators in marker definition order.
func (ws *Workspace) Builders() []*orchestrator.Orchestrator {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	out := make([]*orchestrator.Orchestrator, 0, len(ws.order))
	for _, name := range ws.order {
		if o, ok := ws.orchestrators[name]; ok {
			out = append(out, o)
		}
	}
	return out
}

// Autostart returns the configured default-start builder name, if any.
func (ws *Workspace) Autostart() string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.autostart
}

// StartAll starts every builder in the workspace.
func (ws *Workspace) StartAll(ctx context.Context) error {
	for _, o := range ws.Builders() {
		if err := o.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Reconcile re-reads the marker file and diffs the builder set by name.
// A load failure keeps the previous set running and surfaces one
// ReconcileError event. A missing file stops the whole set.
func (ws *Workspace) Reconcile(ctx context.Context) error {
	ws.lifecycle.Lock()
	defer ws.lifecycle.Unlock()
	if ws.closed {
		return nil
	}

	if _, err := os.Stat(ws.markerPath); err != nil {
		slog.Warn("Marker file removed, stopping builder set", logfields.Marker(ws.markerPath))
		removed := ws.stopAll(ctx)
		if len(removed) > 0 {
			_ = ws.bus.Publish(ctx, events.BuilderSetChanged{Workspace: ws.dir, Removed: removed})
		}
		return nil
	}

	marker, err := builder.LoadMarker(ws.markerPath)
	if err != nil {
		slog.Error("Marker reload failed, keeping previous builder set",
			logfields.Marker(ws.markerPath),
			logfields.Error(err))
		_ = ws.bus.Publish(ctx, events.ReconcileError{
			Workspace:  ws.dir,
			MarkerFile: ws.markerPath,
			Err:        err.Error(),
		})
		return err
	}

	return ws.apply(ctx, marker)
}

// apply installs a freshly loaded marker: existing names flow through the
// orchestrator's config-update path, unseen names are stopped and
// discarded, new names get fresh (not started) orchestrators. The autostart
// target, when named, is always brought up.
func (ws *Workspace) apply(ctx context.Context, marker *builder.Marker) error {
	ws.mu.Lock()
	previous := ws.orchestrators
	next := make(map[string]*orchestrator.Orchestrator, len(marker.Builders))

	var added, updated, removed []string

	for _, cfg := range marker.Builders {
		if existing, ok := previous[cfg.Name]; ok {
			delete(previous, cfg.Name)
			if !existing.Config().Equal(cfg) {
				updated = append(updated, cfg.Name)
			}
			next[cfg.Name] = existing
			continue
		}

		fresh, err := orchestrator.New(cfg, ws.bus, ws.opts)
		if err != nil {
			ws.mu.Unlock()
			return err
		}
		next[cfg.Name] = fresh
		added = append(added, cfg.Name)
	}

	stale := previous
	ws.orchestrators = next
	ws.order = marker.Names()
	ws.autostart = marker.Autostart
	ws.mu.Unlock()

	for name, o := range stale {
		o.Stop(ctx)
		removed = append(removed, name)
	}

	for _, cfg := range marker.Builders {
		if existing, ok := ws.Builder(cfg.Name); ok {
			if err := existing.UpdateConfig(ctx, cfg); err != nil {
				slog.Error("Builder restart failed",
					logfields.Builder(cfg.Name),
					logfields.Error(err))
			}
		}
	}

	if marker.Autostart != "" {
		if target, ok := ws.Builder(marker.Autostart); ok {
			if err := target.Start(ctx); err != nil {
				slog.Error("Autostart failed",
					logfields.Builder(marker.Autostart),
					logfields.Error(err))
			}
		}
	}

	if len(added)+len(updated)+len(removed) > 0 {
		_ = ws.bus.Publish(ctx, events.BuilderSetChanged{
			Workspace: ws.dir,
			Added:     added,
			Updated:   updated,
			Removed:   removed,
		})
	}
	return nil
}

// stopAll stops and discards every orchestrator, returning their names.
func (ws *Workspace) stopAll(ctx context.Context) []string {
	ws.mu.Lock()
	current := ws.orchestrators
	ws.orchestrators = make(map[string]*orchestrator.Orchestrator)
	ws.order = nil
	ws.autostart = ""
	ws.mu.Unlock()

	names := make([]string, 0, len(current))
	for name, o := range current {
		o.Stop(ctx)
		names = append(names, name)
	}
	return names
}

// watchMarker watches the marker file's directory; watching the directory
// instead of the file survives editors that replace the file on save.
func (ws *Workspace) watchMarker(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(ws.dir); err != nil {
		_ = watcher.Close()
		return err
	}

	ws.watcher = watcher
	ws.watchDone = make(chan struct{})
	go ws.watchLoop(ctx)
	return nil
}

func (ws *Workspace) watchLoop(ctx context.Context) {
	defer close(ws.watchDone)

	markerName := filepath.Base(ws.markerPath)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ws.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != markerName {
				continue
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			slog.Debug("Marker file changed",
				logfields.Marker(ws.markerPath),
				logfields.Reason(event.Op.String()))
			ws.scheduleReload(ctx)
		case err, ok := <-ws.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Marker watcher error", logfields.Marker(ws.markerPath), logfields.Error(err))
		}
	}
}

func (ws *Workspace) scheduleReload(ctx context.Context) {
	ws.reloadMu.Lock()
	defer ws.reloadMu.Unlock()

	if ws.reloadTmr != nil {
		ws.reloadTmr.Stop()
	}
	ws.reloadTmr = time.AfterFunc(reloadDebounce, func() {
		_ = ws.Reconcile(ctx)
	})
}

// Close stops watching the marker file and shuts down every builder. It
// waits out any in-flight reconcile before tearing down the set.
func (ws *Workspace) Close(ctx context.Context) {
	ws.closedOnce.Do(func() {
		ws.lifecycle.Lock()
		ws.closed = true
		ws.lifecycle.Unlock()

		ws.reloadMu.Lock()
		if ws.reloadTmr != nil {
			ws.reloadTmr.Stop()
			ws.reloadTmr = nil
		}
		ws.reloadMu.Unlock()

		if ws.watcher != nil {
			_ = ws.watcher.Close()
			<-ws.watchDone
		}
		ws.stopAll(ctx)
		slog.Info("Workspace closed", logfields.Marker(ws.markerPath))
	})
}
