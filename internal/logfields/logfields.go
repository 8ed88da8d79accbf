package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuilder    = "builder"
	KeyAttempt    = "attempt_id"
	KeyWorkspace  = "workspace"
	KeyMarker     = "marker_file"
	KeyField      = "field"
	KeyStream     = "stream"
	KeyPath       = "path"
	KeyFile       = "file"
	KeyDir        = "dir"
	KeyExitCode   = "exit_code"
	KeyDurationMS = "duration_ms"
	KeyReason     = "reason"
	KeyCount      = "count"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Builder(name string) slog.Attr   { return slog.String(KeyBuilder, name) }
func Attempt(id string) slog.Attr     { return slog.String(KeyAttempt, id) }
func Workspace(dir string) slog.Attr  { return slog.String(KeyWorkspace, dir) }
func Marker(path string) slog.Attr    { return slog.String(KeyMarker, path) }
func Field(name string) slog.Attr     { return slog.String(KeyField, name) }
func Stream(name string) slog.Attr    { return slog.String(KeyStream, name) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func File(f string) slog.Attr         { return slog.String(KeyFile, f) }
func Dir(d string) slog.Attr          { return slog.String(KeyDir, d) }
func ExitCode(code int) slog.Attr     { return slog.Int(KeyExitCode, code) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Reason(r string) slog.Attr       { return slog.String(KeyReason, r) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
