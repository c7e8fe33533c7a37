package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskscheduler/internal/executor"
)

func sampleRecord(id, task string, at time.Time) ExecutionRecord {
	return ExecutionRecord{
		ID:          id,
		TaskID:      task,
		Trigger:     TriggerSchedule,
		ScheduledAt: at,
		StartedAt:   at,
		FinishedAt:  at.Add(time.Second),
		Status:      executor.StatusSuccess,
	}
}

func TestMemoryHistory_EvictsOldestPerTask(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory(3)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Append(ctx, sampleRecord(fmt.Sprintf("a%d", i), "a", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, h.Append(ctx, sampleRecord("b0", "b", base)))

	assert.Equal(t, 4, h.Len())

	recs, err := h.Query(ctx, HistoryQuery{TaskID: "a"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"a4", "a3", "a2"}, []string{recs[0].ID, recs[1].ID, recs[2].ID})
}

func TestMemoryHistory_QueryFilters(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory(0)
	require.NoError(t, h.Append(ctx, sampleRecord("a1", "a", base)))
	require.NoError(t, h.Append(ctx, sampleRecord("b1", "b", base.Add(time.Minute))))
	require.NoError(t, h.Append(ctx, sampleRecord("a2", "a", base.Add(2*time.Minute))))

	all, err := h.Query(ctx, HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a2", all[0].ID)
	assert.Equal(t, "a1", all[2].ID)

	ranged, err := h.Query(ctx, HistoryQuery{Since: base.Add(time.Minute), Until: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, ranged, 1, "since включительно, until исключительно")
	assert.Equal(t, "b1", ranged[0].ID)

	limited, err := h.Query(ctx, HistoryQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "a2", limited[0].ID)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = h.Query(cancelled, HistoryQuery{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryHistory_Prune(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory(0)
	require.NoError(t, h.Append(ctx, sampleRecord("old", "a", base.Add(-48*time.Hour))))
	require.NoError(t, h.Append(ctx, sampleRecord("older", "b", base.Add(-72*time.Hour))))
	require.NoError(t, h.Append(ctx, sampleRecord("new", "a", base)))

	var _ Pruner = h

	n, err := h.Prune(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 1, h.Len())

	recs, err := h.Query(ctx, HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].ID)
}

func TestSortNewestFirst_TieBreak(t *testing.T) {
	a := sampleRecord("a", "t", base)
	b := sampleRecord("b", "t", base)
	b.FinishedAt = a.FinishedAt.Add(time.Second)

	recs := []ExecutionRecord{a, b}
	SortNewestFirst(recs)
	assert.Equal(t, "b", recs[0].ID)

	// полное совпадение времени: последняя добавленная идёт первой
	c := sampleRecord("c", "t", base)
	d := sampleRecord("d", "t", base)
	recs = []ExecutionRecord{c, d}
	SortNewestFirst(recs)
	assert.Equal(t, []string{"d", "c"}, []string{recs[0].ID, recs[1].ID})
}

func TestMemoryHistory_EqualTimestampsNewestAppendFirst(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory(10)

	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, h.Append(ctx, sampleRecord(id, "a", base)))
	}
	require.NoError(t, h.Append(ctx, sampleRecord("other", "b", base)))

	recs, err := h.Query(ctx, HistoryQuery{TaskID: "a"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "third", recs[0].ID, "при равном времени первой идёт последняя запись")
	assert.Equal(t, "first", recs[2].ID)

	all, err := h.Query(ctx, HistoryQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "other", all[0].ID, "порядок между задачами тоже определяется вставкой")
}

func TestExecutionRecord_Duration(t *testing.T) {
	assert.Equal(t, time.Second, sampleRecord("a", "t", base).Duration())
}
