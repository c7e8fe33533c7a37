// Package executor defines the capability a scheduled task runs through and
// its built-in variants: HTTP request, shell command, in-process function and
// custom domain logic.
//
// Every executor validates its config at construction and honors the context
// passed to Execute: a deadline is reported as StatusTimedOut and an external
// cancellation as StatusSkipped.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskscheduler/internal/shared"
)

// Kind identifies an executor variant.
type Kind string

const (
	KindHTTP     Kind = "http"
	KindShell    Kind = "shell"
	KindFunction Kind = "function"
	KindCustom   Kind = "custom"
)

// Status is the terminal status of one execution.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
	StatusTimedOut Status = "timed_out"
	StatusSkipped  Status = "skipped"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusTimedOut, StatusSkipped:
		return true
	}
	return false
}

// DefaultMaxOutput caps captured output and response bodies.
const DefaultMaxOutput = 64 << 10

// Outcome is what an executor reports back to the scheduler.
type Outcome struct {
	Status Status
	Output []byte
	// Err is set for every status except StatusSuccess.
	Err error
}

// Executor runs one unit of work with config bound at construction.
type Executor interface {
	Kind() Kind
	Execute(ctx context.Context) Outcome
}

// Timeouter is implemented by executors whose config carries its own timeout.
type Timeouter interface {
	Timeout() time.Duration
}

// Success builds a successful outcome.
func Success(output []byte) Outcome {
	return Outcome{Status: StatusSuccess, Output: output}
}

// Failure builds a failed outcome marked as an executor error.
func Failure(err error, output []byte) Outcome {
	if err == nil {
		err = errors.New("unknown failure")
	}
	return Outcome{Status: StatusFailure, Output: output, Err: shared.MarkKind(err, shared.KindExecutor)}
}

// Failuref builds a failed outcome from a formatted message.
func Failuref(format string, args ...any) Outcome {
	return Failure(fmt.Errorf(format, args...), nil)
}

// Interrupted maps a finished ctx to TimedOut or Skipped. ok is false while
// ctx is still live, in which case the caller keeps its own outcome.
func Interrupted(ctx context.Context, cause error) (Outcome, bool) {
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return Outcome{Status: StatusTimedOut, Err: withCause(shared.ErrTimeout, cause)}, true
	case errors.Is(err, context.Canceled):
		return Outcome{Status: StatusSkipped, Err: withCause(context.Canceled, cause)}, true
	}
	return Outcome{}, false
}

// FromError classifies an error returned by function or custom executors.
func FromError(ctx context.Context, err error, output []byte) Outcome {
	if err == nil {
		return Success(output)
	}
	if o, ok := Interrupted(ctx, err); ok {
		o.Output = output
		return o
	}
	switch {
	case shared.IsTimeout(err):
		return Outcome{Status: StatusTimedOut, Output: output, Err: shared.MarkKind(err, shared.KindTimeout)}
	case shared.IsCanceled(err):
		return Outcome{Status: StatusSkipped, Output: output, Err: err}
	}
	return Failure(err, output)
}

func withCause(kind, cause error) error {
	if cause == nil || errors.Is(cause, kind) {
		return kind
	}
	return fmt.Errorf("%w: %v", kind, cause)
}

// truncate cuts b to at most limit bytes without splitting a rune.
func truncate(b []byte, limit int) []byte {
	if limit <= 0 || len(b) <= limit {
		return b
	}
	return trimPartialRune(b[:limit])
}
