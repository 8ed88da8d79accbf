package daemon

import (
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	ferrors "git.home.luguber.info/inful/buildwatch/internal/foundation/errors"
)

// historyPruneInterval is how often the retention prune job runs.
const historyPruneInterval = 24 * time.Hour

// Scheduler wraps gocron for the daemon's periodic jobs.
type Scheduler struct {
	scheduler gocron.Scheduler
}

// NewScheduler creates a scheduler with no jobs registered.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, ferrors.DaemonError("cannot create scheduler").WithCause(err).Build()
	}
	return &Scheduler{scheduler: s}, nil
}

// PeriodicRebuild registers a full-rebuild job firing at the given interval.
func (s *Scheduler) PeriodicRebuild(interval time.Duration, fn func()) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName("periodic-rebuild"),
	)
	if err != nil {
		return ferrors.DaemonError("cannot schedule periodic rebuild").
			WithCause(err).
			WithContext("interval", interval.String()).
			Build()
	}
	slog.Info("Scheduled periodic rebuild", slog.Duration("interval", interval))
	return nil
}

// DailyHistoryPrune registers the build-history retention job.
func (s *Scheduler) DailyHistoryPrune(fn func()) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(historyPruneInterval),
		gocron.NewTask(fn),
		gocron.WithName("history-prune"),
	)
	if err != nil {
		return ferrors.DaemonError("cannot schedule history prune").WithCause(err).Build()
	}
	return nil
}

// Start begins firing registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for running jobs to return.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
