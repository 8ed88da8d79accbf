package orchestrator

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"

	ferrors "git.home.luguber.info/inful/buildwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/buildwatch/internal/logfields"
)

// startWatches establishes recursive watches over every resolved source
// path. fsnotify watches single directories, so each subtree is walked and
// directories created later are added by the event loop.
func (o *Orchestrator) startWatches(ctx context.Context) error {
	o.mu.Lock()
	cfg := o.cfg
	o.mu.Unlock()

	roots := make([]string, 0, len(cfg.SourcePaths))
	for _, sp := range cfg.SourcePaths {
		if !filepath.IsAbs(sp) {
			sp = filepath.Join(cfg.WorkDir, sp)
		}
		roots = append(roots, filepath.Clean(sp))
	}
	if len(roots) == 0 {
		slog.Debug("No source paths to watch", logfields.Builder(cfg.Name))
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return ferrors.WatchError("cannot create file watcher").
			WithCause(err).
			WithContext("builder", cfg.Name).
			Build()
	}

	added := 0
	for _, root := range roots {
		n, err := o.addTree(watcher, root)
		if err != nil {
			// Missing source paths are tolerated; they may appear later.
			slog.Warn("Cannot watch source path",
				logfields.Builder(cfg.Name),
				logfields.Path(root),
				logfields.Error(err))
			continue
		}
		added += n
	}

	done := make(chan struct{})
	o.mu.Lock()
	if o.state != StateWatching {
		o.mu.Unlock()
		_ = watcher.Close()
		return nil
	}
	o.watcher = watcher
	o.watchDone = done
	o.mu.Unlock()

	go o.watchLoop(ctx, watcher, done)

	slog.Info("Watching source paths",
		logfields.Builder(cfg.Name),
		logfields.Count(added))
	return nil
}

// addTree watches root and every non-excluded directory below it. A root
// naming a plain file is watched directly.
func (o *Orchestrator) addTree(watcher *fsnotify.Watcher, root string) (int, error) {
	info, err := os.Stat(root)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		if err := watcher.Add(root); err != nil {
			return 0, err
		}
		return 1, nil
	}

	added := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Debug("Skipping unreadable path", logfields.Path(path), logfields.Error(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && o.excludedSegments(root, path) {
			return fs.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			slog.Warn("Cannot add watch", logfields.Path(path), logfields.Error(err))
			return nil
		}
		added++
		return nil
	})
	return added, err
}

func (o *Orchestrator) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			o.handleEvent(ctx, watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("File watcher error", logfields.Builder(o.Name()), logfields.Error(err))
		}
	}
}

// handleEvent filters one filesystem notification. Surviving events trigger
// a debounced rebuild; directory creations extend the watch tree instead.
func (o *Orchestrator) handleEvent(ctx context.Context, watcher *fsnotify.Watcher, event fsnotify.Event) {
	if event.Name == "" {
		return
	}
	if event.Op == fsnotify.Chmod {
		return
	}

	workDir := o.Config().WorkDir
	if o.excludedSegments(workDir, event.Name) {
		return
	}

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if _, err := o.addTree(watcher, event.Name); err != nil {
				slog.Debug("Cannot extend watch tree", logfields.Path(event.Name), logfields.Error(err))
			}
			return
		}
	}

	if !slices.Contains(o.opts.SourceExtensions, filepath.Ext(event.Name)) {
		return
	}

	slog.Debug("Source change detected",
		logfields.Builder(o.Name()),
		logfields.File(event.Name))
	o.DebounceBuild(ctx, "file_change")
}

// excludedSegments reports whether path, relative to anchor, crosses the
// compiler output directory, a node_modules tree, or a hidden directory.
func (o *Orchestrator) excludedSegments(anchor, path string) bool {
	rel, err := filepath.Rel(anchor, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	for _, segment := range strings.Split(rel, string(filepath.Separator)) {
		switch {
		case segment == o.opts.OutputDirName:
			return true
		case segment == "node_modules":
			return true
		case len(segment) > 1 && strings.HasPrefix(segment, "."):
			return true
		}
	}
	return false
}
