package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"taskscheduler/internal/executor"
	"taskscheduler/internal/scheduler"
)

const retentionTaskID = "history-retention"

// retentionTask prunes history records older than keep on every run.
type retentionTask struct {
	cron   string
	keep   time.Duration
	pruner scheduler.Pruner
	now    func() time.Time
	log    *slog.Logger
}

var _ executor.OutputTask = (*retentionTask)(nil)

func newRetentionTask(cron string, keep time.Duration, p scheduler.Pruner, log *slog.Logger) *retentionTask {
	return &retentionTask{cron: cron, keep: keep, pruner: p, now: time.Now, log: log}
}

func (t *retentionTask) Schedule() string { return t.cron }

func (t *retentionTask) Run(ctx context.Context) error {
	_, err := t.RunWithOutput(ctx)
	return err
}

func (t *retentionTask) RunWithOutput(ctx context.Context) ([]byte, error) {
	before := t.now().Add(-t.keep)
	n, err := t.pruner.Prune(ctx, before)
	if err != nil {
		return nil, fmt.Errorf("prune history: %w", err)
	}
	t.log.Info("history pruned", slog.Int64("deleted", n), slog.Time("before", before))
	return fmt.Appendf(nil, "deleted %d records finished before %s", n, before.UTC().Format(time.RFC3339)), nil
}
