package daemon

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/buildwatch/internal/events"
	"git.home.luguber.info/inful/buildwatch/internal/history"
	"git.home.luguber.info/inful/buildwatch/internal/logfields"
	"git.home.luguber.info/inful/buildwatch/internal/metrics"
)

// runMetricsConsumer fans build lifecycle events into the metrics recorder.
// Returns when the bus is closed.
func runMetricsConsumer(bus *events.Bus, rec metrics.Recorder) {
	all, cancel := events.Subscribe[any](bus, 64)
	defer cancel()

	for raw := range all {
		switch evt := raw.(type) {
		case events.BuildStarted:
			rec.BuildStarted(evt.Builder, evt.Reason)
		case events.BuildFinished:
			outcome := metrics.OutcomeSuccess
			if evt.ExitCode != 0 {
				outcome = metrics.OutcomeFailed
			}
			rec.BuildFinished(evt.Builder, outcome, evt.Duration)
		case events.BuildKilled:
			rec.BuildKilled(evt.Builder)
		case events.DiagnosticsUpdated:
			rec.SetDiagnostics(evt.Builder, evt.Files, evt.Total)
		case events.BuildOutput:
			rec.OutputLine(evt.Builder, string(evt.Stream))
		}
	}
}

// runHistoryConsumer persists build lifecycle events into the attempt store.
// A single ordered subscription guarantees an attempt's start row exists
// before its finish, kill or diagnostics updates arrive. Store failures are
// logged and skipped; history is best-effort and must not stall the bus.
// Returns when the bus is closed.
func runHistoryConsumer(ctx context.Context, bus *events.Bus, store *history.Store) {
	all, cancel := events.Subscribe[any](bus, 64)
	defer cancel()

	for raw := range all {
		switch evt := raw.(type) {
		case events.BuildStarted:
			if err := store.RecordStart(ctx, evt.Builder, evt.Attempt, evt.Reason, evt.StartedAt); err != nil {
				slog.Warn("Cannot record build start",
					logfields.Builder(evt.Builder),
					logfields.Error(err))
			}
		case events.BuildFinished:
			if err := store.RecordFinish(ctx, evt.Attempt, evt.ExitCode, evt.Duration, evt.FinishedAt); err != nil {
				slog.Warn("Cannot record build finish",
					logfields.Builder(evt.Builder),
					logfields.Error(err))
			}
		case events.BuildKilled:
			if err := store.RecordKilled(ctx, evt.Attempt, evt.KilledAt); err != nil {
				slog.Warn("Cannot record build kill",
					logfields.Builder(evt.Builder),
					logfields.Error(err))
			}
		case events.DiagnosticsUpdated:
			if err := store.RecordDiagnostics(ctx, evt.Attempt, evt.Total); err != nil {
				slog.Warn("Cannot record diagnostics count",
					logfields.Builder(evt.Builder),
					logfields.Error(err))
			}
		}
	}
}
