package events

import "time"

// Stream identifies which pipe of the compiler process a line arrived on.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// BuildStarted is published when a builder spawns a new compiler process.
// Attempt is a fresh unique id; all later events for the same run carry it.
type BuildStarted struct {
	Builder   string    `json:"builder"`
	Attempt   string    `json:"attempt"`
	Reason    string    `json:"reason"`
	StartedAt time.Time `json:"started_at"`
}

// BuildKilled is published when a still-running compiler process is
// terminated to make room for a newer build.
type BuildKilled struct {
	Builder  string    `json:"builder"`
	Attempt  string    `json:"attempt"`
	KilledAt time.Time `json:"killed_at"`
}

// BuildFinished is published when a compiler process exits on its own.
// ExitCode is -1 when the process could not be started or was signaled.
type BuildFinished struct {
	Builder    string        `json:"builder"`
	Attempt    string        `json:"attempt"`
	ExitCode   int           `json:"exit_code"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

// BuildOutput carries one line of compiler output, tagged with the stream it
// arrived on. Lines are raw: sentinel and machine-readable lines included.
type BuildOutput struct {
	Builder string `json:"builder"`
	Attempt string `json:"attempt"`
	Stream  Stream `json:"stream"`
	Line    string `json:"line"`
}

// DiagnosticsUpdated is published whenever a builder's diagnostic set changes,
// including the reset to empty at the start of a build.
type DiagnosticsUpdated struct {
	Builder string `json:"builder"`
	Attempt string `json:"attempt"`
	Files   int    `json:"files"`
	Total   int    `json:"total"`
}

// BuilderProblem is a user-visible condition detected during a build that is
// not a positioned diagnostic, such as a syntax error reported on stderr.
type BuilderProblem struct {
	Builder string `json:"builder"`
	Attempt string `json:"attempt"`
	Message string `json:"message"`
}

// ReconcileError is published when a marker file reload fails validation.
// The previously running builder set is kept as-is.
type ReconcileError struct {
	Workspace  string `json:"workspace"`
	MarkerFile string `json:"marker_file"`
	Err        string `json:"error"`
}

// BuilderSetChanged summarizes a successful reconcile of a workspace's
// builder set against its marker file.
type BuilderSetChanged struct {
	Workspace string   `json:"workspace"`
	Added     []string `json:"added"`
	Updated   []string `json:"updated"`
	Removed   []string `json:"removed"`
}
