package executor

import (
	"context"

	"taskscheduler/internal/shared"
)

// Task is the contract domain code implements to plug bespoke logic into
// the scheduler without going through a built-in executor.
type Task interface {
	// Schedule returns the cron expression the task runs on.
	Schedule() string
	// Run performs one execution. It must return when ctx is done.
	Run(ctx context.Context) error
}

// OutputTask is optionally implemented by a Task that reports output.
type OutputTask interface {
	Task
	RunWithOutput(ctx context.Context) ([]byte, error)
}

// TaskFunc adapts a schedule and a function to Task.
type TaskFunc struct {
	Cron string
	Fn   func(ctx context.Context) error
}

// Schedule implements Task.
func (t TaskFunc) Schedule() string { return t.Cron }

// Run implements Task.
func (t TaskFunc) Run(ctx context.Context) error { return t.Fn(ctx) }

// Custom runs a Task.
type Custom struct {
	task Task
}

// NewCustom wraps task.
func NewCustom(task Task) (*Custom, error) {
	if task == nil {
		return nil, shared.Errorf(shared.KindValidation, "task is required")
	}
	if tf, ok := task.(TaskFunc); ok && tf.Fn == nil {
		return nil, shared.Errorf(shared.KindValidation, "task function is required")
	}
	return &Custom{task: task}, nil
}

// Kind implements Executor.
func (c *Custom) Kind() Kind { return KindCustom }

// Task returns the wrapped task.
func (c *Custom) Task() Task { return c.task }

// Execute implements Executor.
func (c *Custom) Execute(ctx context.Context) Outcome {
	if o, ok := Interrupted(ctx, nil); ok {
		return o
	}
	if ot, ok := c.task.(OutputTask); ok {
		out, err := ot.RunWithOutput(ctx)
		return FromError(ctx, err, truncate(out, DefaultMaxOutput))
	}
	return FromError(ctx, c.task.Run(ctx), nil)
}
