package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return true }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"canceled", context.Canceled, KindCanceled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"net timeout", timeoutNetErr{}, KindTimeout},
		{"wrapped not found", fmt.Errorf("task x: %w", ErrNotFound), KindNotFound},
		{"invalid schedule", Errorf(KindInvalidSchedule, "bad expr"), KindInvalidSchedule},
		{"duplicate", Errorf(KindDuplicateTaskID, "a"), KindDuplicateTaskID},
		{"function", MarkKind(errors.New("x"), KindFunctionNotRegistered), KindFunctionNotRegistered},
		{"saturated", ErrPoolSaturated, KindPoolSaturated},
		{"executor", MarkKind(errors.New("exit 1"), KindExecutor), KindExecutor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindOf_PriorityWithJoin(t *testing.T) {
	err := errors.Join(ErrInternal, ErrNotFound, context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, KindOf(err))

	err = errors.Join(ErrValidation, ErrInvalidSchedule)
	assert.Equal(t, KindInvalidSchedule, KindOf(err))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "InvalidSchedule", KindInvalidSchedule.String())
	assert.Equal(t, "DuplicateTaskID", KindDuplicateTaskID.String())
	assert.Equal(t, "ExecutorError", KindExecutor.String())
	assert.Equal(t, "Unknown", Kind(999).String())
}

func TestMarkKind(t *testing.T) {
	base := errors.New("connection reset")

	marked := MarkKind(base, KindDependencyFailure)
	require.Error(t, marked)
	assert.ErrorIs(t, marked, base)
	assert.ErrorIs(t, marked, ErrDependencyFailure)

	assert.Equal(t, marked, MarkKind(marked, KindDependencyFailure), "повторная маркировка не должна оборачивать ошибку")
	assert.Equal(t, base, MarkKind(base, KindUnknown))
	assert.Equal(t, base, MarkKind(base, KindCanceled))
	assert.Equal(t, ErrNotFound, MarkKind(nil, KindNotFound))
	assert.Nil(t, MarkKind(nil, KindCanceled))
}

func TestErrorf(t *testing.T) {
	err := Errorf(KindNotFound, "task %q", "a")
	assert.EqualError(t, err, `not found: task "a"`)
	assert.True(t, IsNotFound(err))

	plain := Errorf(KindUnknown, "oops")
	assert.EqualError(t, plain, "oops")
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ctx"))
	assert.Nil(t, Wrapf(nil, "ctx %d", 1))

	base := errors.New("base")
	assert.Equal(t, base, Wrap(base, ""))
	assert.EqualError(t, Wrapf(base, "task %s", "a"), "task a: base")
	assert.ErrorIs(t, Wrap(base, "ctx"), base)
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsTimeout(fmt.Errorf("run: %w", context.DeadlineExceeded)))
	assert.False(t, IsTimeout(nil))
	assert.True(t, IsCanceled(fmt.Errorf("run: %w", context.Canceled)))
	assert.False(t, IsCanceled(nil))
	assert.True(t, IsConflict(ErrConflict))
	assert.True(t, IsValidation(ErrValidation))
	assert.True(t, IsInvalidSchedule(ErrInvalidSchedule))
	assert.True(t, IsDuplicateTaskID(ErrDuplicateTaskID))
	assert.True(t, IsFunctionNotRegistered(ErrFunctionNotRegistered))
}
