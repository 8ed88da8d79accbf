package errors

import (
	stderrors "errors"
	"fmt"
)

// ClassifiedError is the one error type buildwatch passes across package
// boundaries. It pairs the message with a failure domain (category) and a
// blast radius (severity), plus structured context the logging layer can
// flatten into fields.
type ClassifiedError struct {
	category ErrorCategory
	severity ErrorSeverity
	message  string
	cause    error
	context  ErrorContext
}

// Error renders "[category:severity] message", chaining the cause when one
// is present.
func (e *ClassifiedError) Error() string {
	head := fmt.Sprintf("[%s:%s] %s", e.category, e.severity, e.message)
	if e.cause == nil {
		return head
	}
	return head + ": " + e.cause.Error()
}

// Unwrap exposes the cause to the errors.Is / errors.As machinery.
func (e *ClassifiedError) Unwrap() error { return e.cause }

// The fields stay unexported so an error can never be reclassified after
// construction; these accessors are the only read path.

func (e *ClassifiedError) Category() ErrorCategory { return e.category }
func (e *ClassifiedError) Severity() ErrorSeverity { return e.severity }
func (e *ClassifiedError) Message() string         { return e.message }
func (e *ClassifiedError) Cause() error            { return e.cause }
func (e *ClassifiedError) Context() ErrorContext   { return e.context }

// IsFatal reports whether the error should abort processing of whatever
// produced it rather than just the current step.
func (e *ClassifiedError) IsFatal() bool { return e.severity == SeverityFatal }

// WithContext derives a copy with one extra context entry. The receiver is
// left untouched so a shared error value can be annotated per call site.
func (e *ClassifiedError) WithContext(key string, value any) *ClassifiedError {
	clone := *e
	clone.context = e.context.Merge(ErrorContext{key: value})
	return &clone
}

// Is matches two classified errors on category plus message, ignoring cause
// and context. This is what lets IsCyclicPointer recognize a cycle error
// through any number of %w wrappings.
func (e *ClassifiedError) Is(target error) bool {
	t, ok := target.(*ClassifiedError)
	return ok && t.category == e.category && t.message == e.message
}

// AsClassified unwraps err down to the first ClassifiedError in its chain.
func AsClassified(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	ok := stderrors.As(err, &ce)
	return ce, ok
}

// HasCategory reports whether err carries the given category.
func HasCategory(err error, category ErrorCategory) bool {
	ce, ok := AsClassified(err)
	return ok && ce.category == category
}

// GetCategory reports the category of err, or CategoryInternal for plain
// errors that never went through this package.
func GetCategory(err error) ErrorCategory {
	if ce, ok := AsClassified(err); ok {
		return ce.category
	}
	return CategoryInternal
}
