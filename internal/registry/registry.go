package registry

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"git.home.luguber.info/inful/buildwatch/internal/events"
	ferrors "git.home.luguber.info/inful/buildwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/buildwatch/internal/logfields"
	"git.home.luguber.info/inful/buildwatch/internal/orchestrator"
)

// Registry tracks every open workspace, keyed by absolute marker path.
// Adding a workspace root discovers the marker files beneath it; each
// marker becomes one Workspace with its own reconcile loop.
type Registry struct {
	bus  *events.Bus
	opts orchestrator.Options

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// New creates an empty registry publishing on bus.
func New(bus *events.Bus, opts orchestrator.Options) (*Registry, error) {
	if bus == nil {
		return nil, ferrors.ValidationError("registry requires an event bus").Build()
	}
	return &Registry{
		bus:        bus,
		opts:       opts.WithDefaults(),
		workspaces: make(map[string]*Workspace),
	}, nil
}

// AddWorkspace discovers marker files under root and opens a workspace for
// each. Markers that are already open are left untouched. Returns the
// workspaces opened by this call.
func (r *Registry) AddWorkspace(ctx context.Context, root string) ([]*Workspace, error) {
	markers, err := DiscoverMarkers(root, r.opts.OutputDirName)
	if err != nil {
		return nil, err
	}
	if len(markers) == 0 {
		slog.Info("No marker files found", logfields.Workspace(root))
		return nil, nil
	}

	var opened []*Workspace
	for _, markerPath := range markers {
		ws, err := r.OpenMarker(ctx, markerPath)
		if err != nil {
			for _, w := range opened {
				r.closeMarker(ctx, w.MarkerPath())
			}
			return nil, err
		}
		if ws != nil {
			opened = append(opened, ws)
		}
	}
	return opened, nil
}

// OpenMarker opens the workspace for one marker file. Opening an already
// open marker returns nil without touching the existing workspace.
func (r *Registry) OpenMarker(ctx context.Context, markerPath string) (*Workspace, error) {
	abs, err := filepath.Abs(markerPath)
	if err != nil {
		return nil, ferrors.FileSystemError("cannot resolve marker path").
			WithCause(err).
			WithContext("path", markerPath).
			Build()
	}

	r.mu.Lock()
	if _, ok := r.workspaces[abs]; ok {
		r.mu.Unlock()
		slog.Debug("Marker already open", logfields.Marker(abs))
		return nil, nil
	}
	r.mu.Unlock()

	ws, err := OpenWorkspace(ctx, abs, r.bus, r.opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, ok := r.workspaces[abs]; ok {
		r.mu.Unlock()
		ws.Close(ctx)
		return nil, nil
	}
	r.workspaces[abs] = ws
	r.mu.Unlock()
	return ws, nil
}

// Workspace returns the open workspace for markerPath, if any.
func (r *Registry) Workspace(markerPath string) (*Workspace, bool) {
	abs, err := filepath.Abs(markerPath)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workspaces[abs]
	return ws, ok
}

// Workspaces returns every open workspace, ordered by marker path.
func (r *Registry) Workspaces() []*Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Workspace, 0, len(r.workspaces))
	for _, ws := range r.workspaces {
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MarkerPath() < out[j].MarkerPath()
	})
	return out
}

// Builders returns every orchestrator across all workspaces.
func (r *Registry) Builders() []*orchestrator.Orchestrator {
	var out []*orchestrator.Orchestrator
	for _, ws := range r.Workspaces() {
		out = append(out, ws.Builders()...)
	}
	return out
}

// CloseWorkspace shuts down the workspace for markerPath, if open.
func (r *Registry) CloseWorkspace(ctx context.Context, markerPath string) {
	abs, err := filepath.Abs(markerPath)
	if err != nil {
		return
	}
	r.closeMarker(ctx, abs)
}

func (r *Registry) closeMarker(ctx context.Context, abs string) {
	r.mu.Lock()
	ws, ok := r.workspaces[abs]
	if ok {
		delete(r.workspaces, abs)
	}
	r.mu.Unlock()

	if ok {
		ws.Close(ctx)
	}
}

// Close shuts down every workspace.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	all := r.workspaces
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()

	for _, ws := range all {
		ws.Close(ctx)
	}
}
