package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed request at the gateway boundary.
type ErrorKind string

const (
	// WorkerUnavailable: a supervised worker the request depends on is not running.
	WorkerUnavailable ErrorKind = "worker_unavailable"
	// ProcessError: the transient worker exited non-zero or could not be run.
	ProcessError ErrorKind = "process_error"
	// ParseError: the worker exited 0 but its output did not match the expected shape.
	ParseError ErrorKind = "parse_error"
	// Timeout: the invocation exceeded its bound and was terminated.
	Timeout ErrorKind = "timeout"
	// ValidationError: the caller sent malformed or missing fields.
	ValidationError ErrorKind = "validation_error"
	// DuplicateName: the registry already holds the requested name.
	DuplicateName ErrorKind = "duplicate_name"
)

// Failure is the typed error produced for every unsuccessful request.
type Failure struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail builds a Failure without an underlying cause.
func Fail(kind ErrorKind, message string) *Failure {
	return &Failure{Kind: kind, Message: message}
}

// Wrap builds a Failure around err.
func Wrap(kind ErrorKind, err error, message string) *Failure {
	return &Failure{Kind: kind, Message: message, Err: err}
}

// KindOf returns the ErrorKind carried by err, or "" when err is not a Failure.
func KindOf(err error) ErrorKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsKind reports whether err is a Failure of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
