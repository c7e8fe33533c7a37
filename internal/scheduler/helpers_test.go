package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskscheduler/internal/executor"
	"taskscheduler/internal/platform/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// stubExecutor выполняет fn и считает вызовы.
type stubExecutor struct {
	fn    func(ctx context.Context) executor.Outcome
	calls atomic.Int64
}

func (s *stubExecutor) Kind() executor.Kind { return executor.KindCustom }

func (s *stubExecutor) Execute(ctx context.Context) executor.Outcome {
	s.calls.Add(1)
	return s.fn(ctx)
}

func succeed(output string) *stubExecutor {
	return &stubExecutor{fn: func(context.Context) executor.Outcome {
		return executor.Success([]byte(output))
	}}
}

// blockingExecutor держит выполнение до release или отмены ctx.
type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int64
	active  atomic.Int64
	maxSeen atomic.Int64
}

func newBlocking() *blockingExecutor {
	return &blockingExecutor{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingExecutor) Kind() executor.Kind { return executor.KindCustom }

func (b *blockingExecutor) Execute(ctx context.Context) executor.Outcome {
	b.calls.Add(1)
	n := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		m := b.maxSeen.Load()
		if n <= m || b.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	b.started <- struct{}{}
	select {
	case <-b.release:
		return executor.Success([]byte("released"))
	case <-ctx.Done():
		o, _ := executor.Interrupted(ctx, nil)
		return o
	}
}

func (b *blockingExecutor) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-b.started:
	case <-time.After(2 * time.Second):
		t.Fatal("выполнение не началось")
	}
}

// stubbornExecutor игнорирует отмену ctx.
type stubbornExecutor struct {
	started chan struct{}
	release chan struct{}
}

func (s *stubbornExecutor) Kind() executor.Kind { return executor.KindCustom }

func (s *stubbornExecutor) Execute(context.Context) executor.Outcome {
	s.started <- struct{}{}
	<-s.release
	return executor.Success(nil)
}

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, clock Clock, opts ...func(*Options)) (*Service, *MemoryHistory) {
	t.Helper()
	history := NewMemoryHistory(0)
	o := Options{
		Logger:        logger.Discard(),
		Clock:         clock,
		TickInterval:  time.Hour,
		PoolSize:      4,
		ShutdownGrace: time.Second,
		Location:      time.UTC,
		History:       history,
	}
	for _, fn := range opts {
		fn(&o)
	}
	s := New(o)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s, history
}

func waitForRecords(t *testing.T, h *MemoryHistory, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.Len() >= n
	}, 2*time.Second, 5*time.Millisecond, "записи истории не появились")
}

func waitIdle(t *testing.T, s *Service) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Stats().Running == 0 && s.pool.inUse.Load() == 0
	}, 2*time.Second, 5*time.Millisecond, "выполнения не завершились")
}

func historyOf(t *testing.T, s *Service, taskID string) []ExecutionRecord {
	t.Helper()
	recs, err := s.History(context.Background(), HistoryQuery{TaskID: taskID})
	require.NoError(t, err)
	return recs
}
