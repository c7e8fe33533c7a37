// Package shared contains the error taxonomy used across the scheduler.
package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors shared by the scheduler, executors and adapters.
var (
	// ErrNotFound indicates that a task or execution does not exist
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates that a definition or executor config is invalid
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates that the request conflicts with current state
	ErrConflict = errors.New("conflict")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates that an execution exceeded its deadline
	ErrTimeout = errors.New("operation timed out")

	// ErrDependencyFailure indicates that an external dependency failed
	ErrDependencyFailure = errors.New("dependency failure")

	// ErrInvalidSchedule indicates an unparsable or impossible cron expression
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrDuplicateTaskID indicates that a task with the same id is already registered
	ErrDuplicateTaskID = errors.New("duplicate task id")

	// ErrExecutor wraps HTTP, process and function failures
	ErrExecutor = errors.New("executor error")

	// ErrFunctionNotRegistered indicates an in-process function lookup miss
	ErrFunctionNotRegistered = errors.New("function not registered")

	// ErrPoolSaturated indicates that no worker slot was free
	ErrPoolSaturated = errors.New("worker pool saturated")
)

// Kind represents a category of error for easier classification and handling.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindInternal
	KindTimeout
	KindDependencyFailure
	KindCanceled
	KindInvalidSchedule
	KindDuplicateTaskID
	KindExecutor
	KindFunctionNotRegistered
	KindPoolSaturated
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindConflict:
		return "Conflict"
	case KindInternal:
		return "Internal"
	case KindTimeout:
		return "Timeout"
	case KindDependencyFailure:
		return "DependencyFailure"
	case KindCanceled:
		return "Canceled"
	case KindInvalidSchedule:
		return "InvalidSchedule"
	case KindDuplicateTaskID:
		return "DuplicateTaskID"
	case KindExecutor:
		return "ExecutorError"
	case KindFunctionNotRegistered:
		return "FunctionNotRegistered"
	case KindPoolSaturated:
		return "PoolSaturated"
	default:
		return "Unknown"
	}
}

var kindToSentinel = map[Kind]error{
	KindNotFound:              ErrNotFound,
	KindValidation:            ErrValidation,
	KindConflict:              ErrConflict,
	KindInternal:              ErrInternal,
	KindTimeout:               ErrTimeout,
	KindDependencyFailure:     ErrDependencyFailure,
	KindInvalidSchedule:       ErrInvalidSchedule,
	KindDuplicateTaskID:       ErrDuplicateTaskID,
	KindExecutor:              ErrExecutor,
	KindFunctionNotRegistered: ErrFunctionNotRegistered,
	KindPoolSaturated:         ErrPoolSaturated,
}

// kindPriorities defines the deterministic order used by KindOf.
// Specific scheduler kinds come before the generic ones they may be joined with.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindTimeout, ErrTimeout},
	{KindInvalidSchedule, ErrInvalidSchedule},
	{KindDuplicateTaskID, ErrDuplicateTaskID},
	{KindFunctionNotRegistered, ErrFunctionNotRegistered},
	{KindPoolSaturated, ErrPoolSaturated},
	{KindNotFound, ErrNotFound},
	{KindValidation, ErrValidation},
	{KindConflict, ErrConflict},
	{KindExecutor, ErrExecutor},
	{KindDependencyFailure, ErrDependencyFailure},
	{KindInternal, ErrInternal},
}

// KindOf returns the Kind of err by walking its chain in priority order.
//
// The classification priority (highest to lowest):
//  1. KindCanceled (context.Canceled)
//  2. KindTimeout (context.DeadlineExceeded, ErrTimeout, net timeout errors)
//  3. scheduler kinds: InvalidSchedule, DuplicateTaskID, FunctionNotRegistered, PoolSaturated
//  4. NotFound, Validation, Conflict
//  5. ExecutorError, DependencyFailure, Internal
//
// Returns KindUnknown for nil or unrecognized errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	for _, priority := range kindPriorities {
		switch priority.kind {
		case KindCanceled:
			if IsCanceled(err) {
				return KindCanceled
			}
		case KindTimeout:
			if IsTimeout(err) {
				return KindTimeout
			}
		default:
			if errors.Is(err, priority.err) {
				return priority.kind
			}
		}
	}

	return KindUnknown
}

// HasKind reports whether KindOf(err) == kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// SentinelOf returns the sentinel error for the given Kind.
// For KindUnknown and KindCanceled, it returns nil.
func SentinelOf(kind Kind) error {
	if sentinel, ok := kindToSentinel[kind]; ok {
		return sentinel
	}
	return nil
}

// MarkKind wraps err with the sentinel for kind, preserving the original error.
// Marking an error with a kind it already has returns it unchanged.
//
//	resp, err := client.Do(ctx, req)
//	if err != nil {
//	    return shared.MarkKind(err, shared.KindExecutor)
//	}
func MarkKind(err error, kind Kind) error {
	if err == nil {
		return SentinelOf(kind)
	}
	if kind == KindUnknown || kind == KindCanceled {
		return err
	}

	sentinel := SentinelOf(kind)
	if sentinel == nil {
		return err
	}
	if KindOf(err) == kind {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Errorf creates an error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	sentinel := SentinelOf(kind)
	if sentinel == nil {
		return errors.New(msg)
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

// Wrap wraps an error with additional context.
// If err is nil, Wrap returns nil.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsCanceled reports whether the error indicates a canceled context.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled)
}

// IsTimeout reports whether the error indicates a timeout.
// It checks for context.DeadlineExceeded, net.Error timeouts, and ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsNotFound reports whether the error indicates a missing task or execution.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether the error indicates invalid input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict reports whether the error indicates a state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInvalidSchedule reports whether the error indicates a bad cron expression.
func IsInvalidSchedule(err error) bool {
	return errors.Is(err, ErrInvalidSchedule)
}

// IsDuplicateTaskID reports whether the error indicates a registration conflict.
func IsDuplicateTaskID(err error) bool {
	return errors.Is(err, ErrDuplicateTaskID)
}

// IsFunctionNotRegistered reports whether the error indicates an unknown function id.
func IsFunctionNotRegistered(err error) bool {
	return errors.Is(err, ErrFunctionNotRegistered)
}
