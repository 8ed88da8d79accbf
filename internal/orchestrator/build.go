package orchestrator

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/buildwatch/internal/diagnostics"
	"git.home.luguber.info/inful/buildwatch/internal/events"
	"git.home.luguber.info/inful/buildwatch/internal/logfields"
	"git.home.luguber.info/inful/buildwatch/internal/proc"
)

// syntaxErrorPattern escalates compiler syntax failures reported on stderr
// to a user-visible problem. All other process output is informational.
var syntaxErrorPattern = regexp.MustCompile(`(?i)syntax\s?error`)

// Build runs one build attempt. Any process still live for this builder is
// killed first, so at most one compiler invocation per builder runs at any
// instant. The diagnostic set is cleared before the new process spawns.
func (o *Orchestrator) Build(ctx context.Context, reason string) error {
	return o.build(ctx, reason, false)
}

// build implements Build. Debounced triggers set requireWatching so a timer
// firing during Stop cannot spawn a process after the kill sweep; the state
// check and the spawn happen under the same lock Stop kills under.
func (o *Orchestrator) build(ctx context.Context, reason string, requireWatching bool) error {
	o.mu.Lock()

	if requireWatching && o.state != StateWatching {
		o.mu.Unlock()
		return nil
	}

	name := o.cfg.Name
	killed := o.killLiveLocked()

	attemptID := uuid.NewString()
	o.set.Clear()
	set := o.set
	script := buildScript(o.cfg, o.opts)
	workDir := o.cfg.WorkDir

	handle, err := proc.Spawn(script, workDir)
	if err != nil {
		o.mu.Unlock()
		for _, evt := range killed {
			_ = o.bus.Publish(ctx, evt)
		}
		slog.Error("Cannot spawn build process",
			logfields.Builder(name),
			logfields.Dir(workDir),
			logfields.Error(err))
		return err
	}
	o.live[attemptID] = handle
	o.mu.Unlock()

	startedAt := time.Now()
	for _, evt := range killed {
		_ = o.bus.Publish(ctx, evt)
	}
	_ = o.bus.Publish(ctx, events.BuildStarted{
		Builder:   name,
		Attempt:   attemptID,
		Reason:    reason,
		StartedAt: startedAt,
	})
	_ = o.bus.Publish(ctx, events.DiagnosticsUpdated{Builder: name, Attempt: attemptID})

	slog.Info("Build started",
		logfields.Builder(name),
		logfields.Attempt(attemptID),
		logfields.Reason(reason))

	go o.consume(ctx, name, attemptID, handle, set, startedAt)
	return nil
}

// DebounceBuild schedules a build after the quiet window. Every call within
// the window pushes the deadline out, coalescing editor save bursts into a
// single rebuild. Only meaningful while watching.
func (o *Orchestrator) DebounceBuild(ctx context.Context, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateWatching {
		return
	}
	if o.debounce != nil {
		o.debounce.Stop()
	}
	o.debounce = time.AfterFunc(o.opts.Debounce, func() {
		if err := o.build(ctx, reason, true); err != nil {
			slog.Error("Debounced build failed", logfields.Builder(o.Name()), logfields.Error(err))
		}
	})
}

// consume drains one attempt's output into the diagnostics pipeline and
// publishes its lifecycle end. Removing the handle from the live map here,
// after process exit, is the only place an attempt's lifetime ends.
func (o *Orchestrator) consume(ctx context.Context, name, attemptID string, handle *proc.Handle, set *diagnostics.DiagnosticSet, startedAt time.Time) {
	session := diagnostics.NewSession()

	for line := range handle.Lines() {
		_ = o.bus.Publish(ctx, events.BuildOutput{
			Builder: name,
			Attempt: attemptID,
			Stream:  line.Stream,
			Line:    line.Text,
		})

		if line.Stream == events.StreamStderr && syntaxErrorPattern.MatchString(line.Text) {
			_ = o.bus.Publish(ctx, events.BuilderProblem{
				Builder: name,
				Attempt: attemptID,
				Message: line.Text,
			})
		}

		obs := session.Observe(line.Text)
		switch obs.Class {
		case diagnostics.LineParsed:
			if created := set.Apply(obs.Item, line.Stream); len(created) > 0 {
				files, total := set.Counts()
				_ = o.bus.Publish(ctx, events.DiagnosticsUpdated{
					Builder: name,
					Attempt: attemptID,
					Files:   files,
					Total:   total,
				})
			}
		case diagnostics.LineMalformed:
			slog.Debug("Dropping unparseable compiler output",
				logfields.Builder(name),
				logfields.Attempt(attemptID),
				logfields.Error(obs.Err))
		}
	}

	<-handle.Done()

	o.mu.Lock()
	delete(o.live, attemptID)
	o.mu.Unlock()

	if handle.Killed() {
		slog.Debug("Build attempt killed",
			logfields.Builder(name),
			logfields.Attempt(attemptID))
		return
	}

	duration := time.Since(startedAt)
	_ = o.bus.Publish(ctx, events.BuildFinished{
		Builder:    name,
		Attempt:    attemptID,
		ExitCode:   handle.ExitCode(),
		Duration:   duration,
		FinishedAt: time.Now(),
	})

	slog.Info("Build finished",
		logfields.Builder(name),
		logfields.Attempt(attemptID),
		logfields.ExitCode(handle.ExitCode()),
		logfields.DurationMS(float64(duration.Milliseconds())))
}
