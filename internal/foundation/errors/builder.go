package errors

import stderrors "errors"

// ErrorBuilder assembles a ClassifiedError step by step. The zero value is
// not usable; start from NewError, WrapError or one of the category helpers
// below.
type ErrorBuilder struct {
	err ClassifiedError
}

// NewError starts a builder for a fresh error in the given category.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	b := &ErrorBuilder{}
	b.err.category = category
	b.err.severity = SeverityError
	b.err.message = message
	b.err.context = ErrorContext{}
	return b
}

// WrapError starts a builder around an underlying cause.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	b := NewError(category, message)
	b.err.cause = err
	return b
}

// WithSeverity overrides the default severity.
func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.err.severity = severity
	return b
}

// WithContext records one key/value pair of structured detail.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.err.context = b.err.context.Set(key, value)
	return b
}

// WithCause attaches an underlying error.
func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.err.cause = err
	return b
}

// Fatal marks the error as fatal.
func (b *ErrorBuilder) Fatal() *ErrorBuilder { return b.WithSeverity(SeverityFatal) }

// Warning downgrades the error to a warning.
func (b *ErrorBuilder) Warning() *ErrorBuilder { return b.WithSeverity(SeverityWarning) }

// Info downgrades the error to informational.
func (b *ErrorBuilder) Info() *ErrorBuilder { return b.WithSeverity(SeverityInfo) }

// Build returns the assembled error.
func (b *ErrorBuilder) Build() *ClassifiedError {
	e := b.err
	return &e
}

// Category helpers. Each picks the severity that callers of that category
// want in the common case; chain WithSeverity to override.

// ConfigError creates a builder-config error. Config errors are fatal to the
// marker file whose parsing produced them: no partial builder set survives.
func ConfigError(message string) *ErrorBuilder {
	return NewError(CategoryConfig, message).Fatal()
}

// ValidationError creates a validation error.
func ValidationError(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message).Fatal()
}

// ParseError creates a compiler-output parse error. Parse errors are always
// contained to the single line that produced them.
func ParseError(message string) *ErrorBuilder {
	return NewError(CategoryParse, message).Warning()
}

// ProcessError creates a process plumbing error (spawn/kill failed).
func ProcessError(message string) *ErrorBuilder {
	return NewError(CategoryProcess, message)
}

// WatchError creates a filesystem watch error.
func WatchError(message string) *ErrorBuilder {
	return NewError(CategoryWatch, message)
}

// FileSystemError creates a filesystem error.
func FileSystemError(message string) *ErrorBuilder {
	return NewError(CategoryFileSystem, message)
}

// HistoryError creates a build-history store error.
func HistoryError(message string) *ErrorBuilder {
	return NewError(CategoryHistory, message)
}

// DaemonError creates a daemon error.
func DaemonError(message string) *ErrorBuilder {
	return NewError(CategoryDaemon, message).Fatal()
}

// RuntimeError creates a runtime error.
func RuntimeError(message string) *ErrorBuilder {
	return NewError(CategoryRuntime, message).Fatal()
}

// InternalError creates an internal error.
func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).Fatal()
}

// cyclicPointerMessage is the fixed message carried by every cyclic-pointer
// error so errors.Is comparisons work across package boundaries.
const cyclicPointerMessage = "circular pointer reference"

// CyclicPointerError creates the error raised when pointer expansion revisits
// a key already present in its own ancestry chain.
func CyclicPointerError(chain []string) *ClassifiedError {
	return ConfigError(cyclicPointerMessage).WithContext("chain", chain).Build()
}

// IsCyclicPointer reports whether err (or anything it wraps) is a
// cyclic-pointer error.
func IsCyclicPointer(err error) bool {
	return stderrors.Is(err, ConfigError(cyclicPointerMessage).Build())
}
