package metrics

import "time"

// Outcome labels a finished build attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Recorder defines observability hooks for build lifecycle metrics.
// Implementations must tolerate nil receivers so injection stays optional.
type Recorder interface {
	BuildStarted(builder, reason string)
	BuildFinished(builder string, outcome Outcome, d time.Duration)
	BuildKilled(builder string)
	SetDiagnostics(builder string, files, total int)
	OutputLine(builder, stream string)
}

// NoopRecorder is the default Recorder when metrics are not configured.
type NoopRecorder struct{}

func (NoopRecorder) BuildStarted(string, string)                  {}
func (NoopRecorder) BuildFinished(string, Outcome, time.Duration) {}
func (NoopRecorder) BuildKilled(string)                           {}
func (NoopRecorder) SetDiagnostics(string, int, int)              {}
func (NoopRecorder) OutputLine(string, string)                    {}
