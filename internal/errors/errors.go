package errors

import (
	"fmt"
)

// ErrorType represents the category of error
type ErrorType int

const (
	// MalformedInput - bad changeset shape; fatal, aborts before batch work
	ErrorTypeMalformedInput ErrorType = iota
	// InvalidConfiguration - bad budget/retry/stage settings; fatal at startup
	ErrorTypeInvalidConfiguration
	// Collaborator - evaluator or source-hosting call failed or timed out;
	// recovered as a stage ERROR verdict, never crashes the run
	ErrorTypeCollaborator
	// RetryExhausted - batch forced to FAILED after hitting the attempt cap
	ErrorTypeRetryExhausted
	// Storage - artifact store I/O failure
	ErrorTypeStorage
	// Internal - unexpected internal state
	ErrorTypeInternal
)

// Severity represents how an error propagates through the run
type Severity int

const (
	// SeverityRecorded - localized to a batch/stage, captured as data
	SeverityRecorded Severity = iota
	// SeverityFatal - aborts the entire run before any batch starts
	SeverityFatal
)

// Error represents a structured error with context
type Error struct {
	Type     ErrorType
	Severity Severity
	Message  string
	Cause    error
	Context  map[string]any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return e.Cause.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Is checks if this error matches the target error type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// IsFatal returns true if this error should abort the run
func (e *Error) IsFatal() bool {
	return e.Severity == SeverityFatal
}

// New creates a new error with the given type, severity, and message
func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{
		Type:     errType,
		Severity: severity,
		Message:  message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Type:     errType,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// Convenience constructors for the pipeline error taxonomy

// MalformedInput creates a fatal malformed-changeset error
func MalformedInput(message string) *Error {
	return New(ErrorTypeMalformedInput, SeverityFatal, message)
}

// MalformedInputf creates a fatal malformed-changeset error with formatting
func MalformedInputf(format string, args ...any) *Error {
	return New(ErrorTypeMalformedInput, SeverityFatal, fmt.Sprintf(format, args...))
}

// InvalidConfiguration creates a fatal configuration error
func InvalidConfiguration(message string) *Error {
	return New(ErrorTypeInvalidConfiguration, SeverityFatal, message)
}

// InvalidConfigurationf creates a fatal configuration error with formatting
func InvalidConfigurationf(format string, args ...any) *Error {
	return New(ErrorTypeInvalidConfiguration, SeverityFatal, fmt.Sprintf(format, args...))
}

// Collaborator wraps an external call failure; recorded, not fatal
func Collaborator(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Type: ErrorTypeCollaborator, Severity: SeverityRecorded, Cause: err}
}

// Collaboratorf wraps an external call failure with formatting
func Collaboratorf(err error, format string, args ...any) *Error {
	return Wrap(err, ErrorTypeCollaborator, SeverityRecorded, fmt.Sprintf(format, args...))
}

// RetryExhausted records a batch hitting its fix-attempt cap
func RetryExhausted(batchIndex, attempts int) *Error {
	return New(ErrorTypeRetryExhausted, SeverityRecorded,
		fmt.Sprintf("batch %d failed after %d fix attempts", batchIndex, attempts)).
		WithContext("batch_index", batchIndex).
		WithContext("attempts", attempts)
}

// Storage wraps an artifact store failure; fatal, a run without a
// trustworthy artifact record cannot continue
func Storage(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Type: ErrorTypeStorage, Severity: SeverityFatal, Cause: err}
}

// Internal wraps an unexpected internal failure
func Internal(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Type: ErrorTypeInternal, Severity: SeverityFatal, Cause: err}
}

// IsFatal checks if an error should abort the run
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.IsFatal()
	}
	return false
}

// GetType returns the type of an error
func GetType(err error) ErrorType {
	if err == nil {
		return ErrorTypeInternal
	}
	if e, ok := err.(*Error); ok {
		return e.Type
	}
	return ErrorTypeInternal
}
