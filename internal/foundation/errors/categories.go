package errors

import "maps"

// ErrorCategory names the failure domain an error belongs to. The values are
// stable strings so they survive logging and wire payloads unchanged.
type ErrorCategory string

const (
	// CategoryConfig covers builder-config problems: bad shape, unknown keys,
	// unresolved pointers, missing builder references. Always fatal to the
	// marker file being parsed.
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// CategoryParse covers malformed compiler-output lines. Always recovered
	// locally, never fatal to a build attempt.
	CategoryParse ErrorCategory = "parse"

	// CategoryProcess covers spawn/kill plumbing failures. A compiler's
	// nonzero exit is NOT a process error.
	CategoryProcess ErrorCategory = "process"

	// CategoryWatch covers filesystem watch lifecycle errors.
	CategoryWatch      ErrorCategory = "watch"
	CategoryFileSystem ErrorCategory = "filesystem"

	// CategoryHistory covers build-history store errors.
	CategoryHistory ErrorCategory = "history"

	// CategoryDaemon and friends cover runtime/infrastructure errors.
	CategoryDaemon   ErrorCategory = "daemon"
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity grades how much of the surrounding operation an error takes
// down with it.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // abandon the enclosing operation
	SeverityError   ErrorSeverity = "error"   // the current unit of work failed
	SeverityWarning ErrorSeverity = "warning" // recovered, result may be degraded
	SeverityInfo    ErrorSeverity = "info"    // advisory only
)

// ErrorContext is the bag of structured detail attached to a classified
// error. Keys mirror the field names the logging layer emits ("file",
// "builder", "dir") so an error and its log record read the same.
type ErrorContext map[string]any

// Set stores a value, allocating the map when the receiver is nil.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		return ErrorContext{key: value}
	}
	c[key] = value
	return c
}

// Get looks up a value. A nil context is fine to read.
func (c ErrorContext) Get(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

// GetString looks up a value and narrows it to string.
func (c ErrorContext) GetString(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok
}

// Merge overlays other on top of c, mutating neither side. When either side
// is empty the other is returned as is.
func (c ErrorContext) Merge(other ErrorContext) ErrorContext {
	if len(other) == 0 {
		return c
	}
	if len(c) == 0 {
		return other
	}
	merged := make(ErrorContext, len(c)+len(other))
	maps.Copy(merged, c)
	maps.Copy(merged, other)
	return merged
}
