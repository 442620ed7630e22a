// Package errors provides standardized error types for the pathway runtime.
//
// ContextualError is the base error type that captures component, operation, and
// an error kind from the runtime's failure taxonomy. It implements the error and
// Unwrap interfaces for seamless integration with Go's errors package.
//
// Usage:
//
//	err := errors.New("engine", "Resolve", someErr).WithKind(errors.KindUpstream)
package errors

import "fmt"

// Kind classifies a runtime failure.
type Kind string

const (
	// KindInput marks caller errors: unknown pathway, bad arguments, a prompt that
	// cannot fit the model context window, an HTML element too large to chunk.
	KindInput Kind = "input"

	// KindUpstream marks model plugin failures or strict-parse failures of model output.
	KindUpstream Kind = "upstream"

	// KindCanceled marks user-initiated cancellation. Not a failure.
	KindCanceled Kind = "canceled"

	// KindTimeout marks supervisor-initiated timeout of a resolution.
	KindTimeout Kind = "timeout"

	// KindStorage marks dynamic-pathway load/save failures.
	KindStorage Kind = "storage"

	// KindBus marks publish/subscribe failures. These never fail a request.
	KindBus Kind = "bus"
)

// ContextualError is a structured error type that provides consistent context
// about where and why an error occurred across runtime packages.
type ContextualError struct {
	// Component identifies the package that produced the error (e.g. "engine", "store").
	Component string

	// Operation describes what was being done when the error occurred.
	Operation string

	// Kind classifies the failure per the runtime taxonomy.
	Kind Kind

	// Details holds optional structured metadata about the error.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a ContextualError with the given component, operation, and cause.
func New(component, operation string, cause error) *ContextualError {
	return &ContextualError{
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// Error returns a human-readable representation of the error.
func (e *ContextualError) Error() string {
	base := fmt.Sprintf("[%s] %s", e.Component, e.Operation)

	if e.Kind != "" {
		base += fmt.Sprintf(" (%s)", e.Kind)
	}

	if e.Cause != nil {
		base += ": " + e.Cause.Error()
	}

	return base
}

// Unwrap returns the underlying cause, enabling use with errors.Is and errors.As.
func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// WithKind returns the error with the given kind set.
func (e *ContextualError) WithKind(kind Kind) *ContextualError {
	e.Kind = kind
	return e
}

// WithDetails returns the error with the given details map set.
func (e *ContextualError) WithDetails(details map[string]any) *ContextualError {
	e.Details = details
	return e
}

// KindOf returns the kind of err if it is a ContextualError anywhere in its chain,
// or the empty Kind otherwise.
func KindOf(err error) Kind {
	for err != nil {
		if ce, ok := err.(*ContextualError); ok {
			return ce.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// IsInput reports whether err is classified as a caller input error.
func IsInput(err error) bool { return KindOf(err) == KindInput }

// IsCanceled reports whether err is classified as a user cancellation.
func IsCanceled(err error) bool { return KindOf(err) == KindCanceled }

// IsTimeout reports whether err is classified as a resolution timeout.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }
