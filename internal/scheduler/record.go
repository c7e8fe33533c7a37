package scheduler

import (
	"context"
	"slices"
	"sort"
	"time"

	"taskscheduler/internal/executor"
)

// Trigger - причина запуска.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// ExecutionRecord - неизменяемая запись о выполнении задачи.
type ExecutionRecord struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	Trigger     Trigger         `json:"trigger"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Status      executor.Status `json:"status"`
	// ErrorMessage заполнено тогда и только тогда, когда Status != success.
	ErrorMessage string `json:"error_message,omitempty"`
	Output       string `json:"output,omitempty"`
	Attempts     int    `json:"attempts"`
}

// Duration возвращает длительность выполнения.
func (r ExecutionRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// HistoryQuery фильтрует историю. Since включительно, Until исключительно,
// обе границы по ScheduledAt. Нулевые значения не ограничивают выборку.
type HistoryQuery struct {
	TaskID string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Match сообщает, подходит ли запись под фильтр (без учёта Limit).
func (q HistoryQuery) Match(r ExecutionRecord) bool {
	if q.TaskID != "" && r.TaskID != q.TaskID {
		return false
	}
	if !q.Since.IsZero() && r.ScheduledAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !r.ScheduledAt.Before(q.Until) {
		return false
	}
	return true
}

// HistoryStore хранит записи о выполнениях.
type HistoryStore interface {
	Append(ctx context.Context, rec ExecutionRecord) error
	// Query возвращает записи от новых к старым.
	Query(ctx context.Context, q HistoryQuery) ([]ExecutionRecord, error)
}

// Pruner реализуется хранилищами, умеющими удалять старые записи.
type Pruner interface {
	// Prune удаляет записи, завершившиеся раньше before, и возвращает их число.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SortNewestFirst упорядочивает записи от новых к старым: по ScheduledAt,
// затем по FinishedAt. При полном совпадении раньше идёт запись, стоявшая
// в recs позже, то есть добавленная последней.
func SortNewestFirst(recs []ExecutionRecord) {
	slices.Reverse(recs)
	sort.SliceStable(recs, func(i, j int) bool {
		return newer(recs[i], recs[j])
	})
}

func newer(a, b ExecutionRecord) bool {
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.After(b.ScheduledAt)
	}
	return a.FinishedAt.After(b.FinishedAt)
}
