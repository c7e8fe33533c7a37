package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskscheduler/internal/executor"
	"taskscheduler/internal/shared"
	"taskscheduler/pkg/retry"
)

func TestDispatch_ThreeMinuteBoundaries(t *testing.T) {
	clock := newFakeClock(base)
	s, h := newTestService(t, clock)
	exec := succeed("ok")
	require.NoError(t, s.Register(Definition{ID: "minutely", Schedule: "0 * * * * *", Executor: exec, Enabled: true}))

	// между границами ничего не происходит
	s.tick(base.Add(30 * time.Second))
	assert.Equal(t, int64(0), exec.calls.Load())

	for i := 1; i <= 3; i++ {
		now := base.Add(time.Duration(i) * time.Minute)
		clock.Set(now)
		s.tick(now)
		waitForRecords(t, h, i)
		waitIdle(t, s)
	}

	recs := historyOf(t, s, "minutely")
	require.Len(t, recs, 3)
	for i, rec := range recs {
		want := base.Add(time.Duration(3-i) * time.Minute)
		assert.True(t, want.Equal(rec.ScheduledAt), "запись %d: ожидалось %s, получено %s", i, want, rec.ScheduledAt)
		assert.Equal(t, 0, rec.ScheduledAt.Second())
		assert.Equal(t, executor.StatusSuccess, rec.Status)
		assert.Equal(t, TriggerSchedule, rec.Trigger)
		assert.Empty(t, rec.ErrorMessage)
	}
	assert.Equal(t, int64(3), exec.calls.Load())
}

func TestDispatch_OverlapWritesSkipped(t *testing.T) {
	clock := newFakeClock(base)
	s, h := newTestService(t, clock)
	blocking := newBlocking()
	require.NoError(t, s.Register(Definition{ID: "every-second", Schedule: "* * * * * *", Executor: blocking, Enabled: true}))

	s.tick(base.Add(time.Second))
	blocking.waitStarted(t)

	s.tick(base.Add(2 * time.Second))
	s.tick(base.Add(3 * time.Second))

	recs := historyOf(t, s, "every-second")
	require.Len(t, recs, 2, "два пропуска, основное выполнение ещё идёт")
	for _, rec := range recs {
		assert.Equal(t, executor.StatusSkipped, rec.Status)
		assert.Equal(t, "previous execution still running", rec.ErrorMessage)
		assert.Equal(t, 0, rec.Attempts)
	}
	assert.True(t, base.Add(3*time.Second).Equal(recs[0].ScheduledAt))

	info, _ := s.Task("every-second")
	require.NotNil(t, info.NextRunAt)
	assert.True(t, base.Add(4*time.Second).Equal(*info.NextRunAt), "расписание сдвигается и при пропуске")

	close(blocking.release)
	waitForRecords(t, h, 3)
	waitIdle(t, s)

	assert.Equal(t, int64(1), blocking.calls.Load())
	assert.Equal(t, int64(1), blocking.maxSeen.Load(), "не больше одного выполнения одновременно")
	assert.Equal(t, int64(2), s.Stats().Skipped)
}

func TestDispatch_DisableWhileRunning(t *testing.T) {
	clock := newFakeClock(base)
	s, h := newTestService(t, clock)
	blocking := newBlocking()
	require.NoError(t, s.Register(Definition{ID: "a", Schedule: "* * * * * *", Executor: blocking, Enabled: true}))

	s.tick(base.Add(time.Second))
	blocking.waitStarted(t)

	require.NoError(t, s.Disable("a"))
	info, _ := s.Task("a")
	assert.Equal(t, StateRunning, info.State)
	assert.False(t, info.Enabled)

	close(blocking.release)
	waitForRecords(t, h, 1)
	waitIdle(t, s)

	for i := 2; i < 10; i++ {
		s.tick(base.Add(time.Duration(i) * time.Second))
	}

	recs := historyOf(t, s, "a")
	require.Len(t, recs, 1)
	assert.Equal(t, executor.StatusSuccess, recs[0].Status)
	assert.Equal(t, int64(1), blocking.calls.Load())

	info, _ = s.Task("a")
	assert.Equal(t, StateDisabled, info.State)
}

func TestDispatch_PoolSaturationKeepsNext(t *testing.T) {
	clock := newFakeClock(base)
	s, h := newTestService(t, clock, func(o *Options) { o.PoolSize = 1 })
	blocking := newBlocking()
	second := succeed("")
	require.NoError(t, s.Register(Definition{ID: "first", Schedule: "* * * * * *", Executor: blocking, Enabled: true}))
	require.NoError(t, s.Register(Definition{ID: "second", Schedule: "* * * * * *", Executor: second, Enabled: true}))

	s.tick(base.Add(time.Second))
	blocking.waitStarted(t)

	info, _ := s.Task("second")
	require.NotNil(t, info.NextRunAt)
	assert.True(t, base.Add(time.Second).Equal(*info.NextRunAt), "next_run_at не сдвигается при переполнении пула")
	assert.Equal(t, int64(1), s.Stats().Backlog)
	assert.Equal(t, int64(0), second.calls.Load())

	require.NoError(t, s.Disable("first"))
	close(blocking.release)
	waitIdle(t, s)

	s.tick(base.Add(2 * time.Second))
	waitForRecords(t, h, 2)
	waitIdle(t, s)

	recs := historyOf(t, s, "second")
	require.Len(t, recs, 1)
	assert.True(t, base.Add(time.Second).Equal(recs[0].ScheduledAt), "срабатывание сохраняет исходный слот")

	info, _ = s.Task("second")
	assert.True(t, base.Add(3*time.Second).Equal(*info.NextRunAt))
}

func TestDispatch_LateTickDoesNotCascade(t *testing.T) {
	clock := newFakeClock(base)
	s, h := newTestService(t, clock)
	exec := succeed("")
	require.NoError(t, s.Register(Definition{ID: "a", Schedule: "0 * * * * *", Executor: exec, Enabled: true}))

	late := base.Add(5*time.Minute + 30*time.Second)
	clock.Set(late)
	s.tick(late)
	waitForRecords(t, h, 1)
	waitIdle(t, s)

	// следующий тик в той же минуте ничего не запускает
	s.tick(late.Add(time.Second))
	assert.Equal(t, int64(1), exec.calls.Load())

	info, _ := s.Task("a")
	assert.True(t, base.Add(6*time.Minute).Equal(*info.NextRunAt))
	assert.True(t, base.Add(time.Minute).Equal(historyOf(t, s, "a")[0].ScheduledAt))
}

func TestDispatch_Timeout(t *testing.T) {
	s, h := newTestService(t, newFakeClock(base))
	waiter := &stubExecutor{fn: func(ctx context.Context) executor.Outcome {
		<-ctx.Done()
		o, _ := executor.Interrupted(ctx, nil)
		return o
	}}
	require.NoError(t, s.Register(Definition{ID: "a", Schedule: "@daily", Executor: waiter, Enabled: true, Timeout: 50 * time.Millisecond}))

	_, err := s.RunNow("a")
	require.NoError(t, err)
	waitForRecords(t, h, 1)

	rec := historyOf(t, s, "a")[0]
	assert.Equal(t, executor.StatusTimedOut, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "timed out")
}

type timeoutStub struct {
	stubExecutor
	timeout time.Duration
}

func (t *timeoutStub) Timeout() time.Duration { return t.timeout }

func TestDispatch_TimeoutPrecedence(t *testing.T) {
	s, _ := newTestService(t, newFakeClock(base), func(o *Options) { o.DefaultTimeout = time.Minute })

	plain := succeed("")
	own := &timeoutStub{timeout: 10 * time.Second}

	assert.Equal(t, time.Minute, s.timeoutFor(Definition{Executor: plain}))
	assert.Equal(t, 10*time.Second, s.timeoutFor(Definition{Executor: own}))
	assert.Equal(t, 2*time.Second, s.timeoutFor(Definition{Executor: own, Timeout: 2 * time.Second}))

	own.timeout = 0
	assert.Equal(t, time.Minute, s.timeoutFor(Definition{Executor: own}))
}

func TestDispatch_PanicBecomesFailure(t *testing.T) {
	s, h := newTestService(t, newFakeClock(base))
	var calls atomic.Int64
	panicky := &stubExecutor{fn: func(context.Context) executor.Outcome {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return executor.Success(nil)
	}}
	require.NoError(t, s.Register(Definition{ID: "a", Schedule: "@daily", Executor: panicky, Enabled: true}))

	_, err := s.RunNow("a")
	require.NoError(t, err)
	waitForRecords(t, h, 1)
	waitIdle(t, s)

	rec := historyOf(t, s, "a")[0]
	assert.Equal(t, executor.StatusFailure, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "panic: boom")

	_, err = s.RunNow("a")
	require.NoError(t, err, "после паники задача продолжает работать")
	waitForRecords(t, h, 2)
	assert.Equal(t, executor.StatusSuccess, historyOf(t, s, "a")[0].Status)
}

func TestDispatch_UnknownStatusBecomesFailure(t *testing.T) {
	s, h := newTestService(t, newFakeClock(base))
	weird := &stubExecutor{fn: func(context.Context) executor.Outcome {
		return executor.Outcome{Status: "pending"}
	}}
	require.NoError(t, s.Register(Definition{ID: "a", Schedule: "@daily", Executor: weird, Enabled: true}))

	_, err := s.RunNow("a")
	require.NoError(t, err)
	waitForRecords(t, h, 1)

	rec := historyOf(t, s, "a")[0]
	assert.Equal(t, executor.StatusFailure, rec.Status)
	assert.NotEmpty(t, rec.ErrorMessage)
}

func fastRetry(attempts int) *retry.Policy {
	return &retry.Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDispatch_RetrySucceedsEventually(t *testing.T) {
	s, h := newTestService(t, newFakeClock(base))
	var calls atomic.Int64
	flaky := &stubExecutor{fn: func(context.Context) executor.Outcome {
		if calls.Add(1) < 3 {
			return executor.Failuref("upstream 502")
		}
		return executor.Success([]byte("ok"))
	}}
	require.NoError(t, s.Register(Definition{ID: "a", Schedule: "@daily", Executor: flaky, Enabled: true, Retry: fastRetry(5)}))

	_, err := s.RunNow("a")
	require.NoError(t, err)
	waitForRecords(t, h, 1)

	rec := historyOf(t, s, "a")[0]
	assert.Equal(t, executor.StatusSuccess, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.Empty(t, rec.ErrorMessage)
}

func TestDispatch_RetryExhausted(t *testing.T) {
	s, h := newTestService(t, newFakeClock(base))
	failing := &stubExecutor{fn: func(context.Context) executor.Outcome {
		return executor.Failuref("upstream 502")
	}}
	require.NoError(t, s.Register(Definition{ID: "a", Schedule: "@daily", Executor: failing, Enabled: true, Retry: fastRetry(2)}))

	_, err := s.RunNow("a")
	require.NoError(t, err)
	waitForRecords(t, h, 1)

	rec := historyOf(t, s, "a")[0]
	assert.Equal(t, executor.StatusFailure, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
	assert.Contains(t, rec.ErrorMessage, "upstream 502")
	assert.Equal(t, int64(2), failing.calls.Load())
}

func TestDispatch_RetryOnlyOnFailure(t *testing.T) {
	s, h := newTestService(t, newFakeClock(base))
	timedOut := &stubExecutor{fn: func(context.Context) executor.Outcome {
		return executor.Outcome{Status: executor.StatusTimedOut, Err: shared.ErrTimeout}
	}}
	require.NoError(t, s.Register(Definition{ID: "a", Schedule: "@daily", Executor: timedOut, Enabled: true, Retry: fastRetry(3)}))

	_, err := s.RunNow("a")
	require.NoError(t, err)
	waitForRecords(t, h, 1)

	rec := historyOf(t, s, "a")[0]
	assert.Equal(t, executor.StatusTimedOut, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, int64(1), timedOut.calls.Load())
}

func TestDispatch_ShutdownCancelsAndAbandons(t *testing.T) {
	s, h := newTestService(t, newFakeClock(base), func(o *Options) { o.ShutdownGrace = 100 * time.Millisecond })
	cooperative := newBlocking()
	stubborn := &stubbornExecutor{started: make(chan struct{}, 1), release: make(chan struct{})}
	defer close(stubborn.release)

	require.NoError(t, s.Register(Definition{ID: "cooperative", Schedule: "@daily", Executor: cooperative, Enabled: true}))
	require.NoError(t, s.Register(Definition{ID: "stubborn", Schedule: "@daily", Executor: stubborn, Enabled: true}))

	_, err := s.RunNow("cooperative")
	require.NoError(t, err)
	_, err = s.RunNow("stubborn")
	require.NoError(t, err)
	cooperative.waitStarted(t)
	<-stubborn.started

	start := time.Now()
	require.NoError(t, s.Stop(context.Background()))
	assert.Less(t, time.Since(start), time.Second)

	waitForRecords(t, h, 2)

	coop := historyOf(t, s, "cooperative")
	require.Len(t, coop, 1)
	assert.Equal(t, executor.StatusSkipped, coop[0].Status)
	assert.Equal(t, "cancelled at shutdown", coop[0].ErrorMessage)

	stuck := historyOf(t, s, "stubborn")
	require.Len(t, stuck, 1)
	assert.Equal(t, executor.StatusTimedOut, stuck[0].Status)
	assert.Equal(t, "abandoned at shutdown", stuck[0].ErrorMessage)

	info, _ := s.Task("stubborn")
	assert.False(t, info.Running)
}

func TestDispatch_AbandonedRunFinalizesOnce(t *testing.T) {
	s, h := newTestService(t, newFakeClock(base), func(o *Options) { o.ShutdownGrace = 50 * time.Millisecond })
	stubborn := &stubbornExecutor{started: make(chan struct{}, 1), release: make(chan struct{})}
	require.NoError(t, s.Register(Definition{ID: "a", Schedule: "@daily", Executor: stubborn, Enabled: true}))

	_, err := s.RunNow("a")
	require.NoError(t, err)
	<-stubborn.started

	require.NoError(t, s.Stop(context.Background()))
	waitForRecords(t, h, 1)

	close(stubborn.release)
	waitIdle(t, s)
	assert.Never(t, func() bool { return h.Len() > 1 }, 100*time.Millisecond, 10*time.Millisecond,
		"выполнение финализируется ровно один раз")
}

func TestDispatch_TimeoutIgnoredByExecutorStillRecorded(t *testing.T) {
	s, h := newTestService(t, newFakeClock(base))
	stubborn := &stubbornExecutor{started: make(chan struct{}, 1), release: make(chan struct{})}
	require.NoError(t, s.Register(Definition{
		ID: "a", Schedule: "@daily", Executor: stubborn, Enabled: true, Timeout: 50 * time.Millisecond,
	}))

	_, err := s.RunNow("a")
	require.NoError(t, err)
	<-stubborn.started

	// исполнитель не реагирует на ctx, но запись timed_out появляется вовремя
	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 5*time.Millisecond)
	rec := historyOf(t, s, "a")[0]
	assert.Equal(t, executor.StatusTimedOut, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "did not return within 50ms")

	info, err := s.Task("a")
	require.NoError(t, err)
	assert.False(t, info.Running, "задача не считается выполняющейся после таймаута")
	assert.Equal(t, executor.StatusTimedOut, info.LastOutcome)
	assert.Equal(t, int64(1), s.Stats().InUse, "слот пула занят, пока исполнитель не вернётся")

	close(stubborn.release)
	waitIdle(t, s)
	assert.Never(t, func() bool { return h.Len() > 1 }, 100*time.Millisecond, 10*time.Millisecond,
		"поздний результат исполнителя отбрасывается")
}

func TestDispatch_UnregisterWhileRunning(t *testing.T) {
	s, h := newTestService(t, newFakeClock(base))
	blocking := newBlocking()
	require.NoError(t, s.Register(Definition{ID: "a", Schedule: "* * * * * *", Executor: blocking, Enabled: true}))

	s.tick(base.Add(time.Second))
	blocking.waitStarted(t)

	require.NoError(t, s.Unregister("a"))
	_, err := s.Task("a")
	assert.True(t, shared.IsNotFound(err))

	close(blocking.release)
	waitForRecords(t, h, 1)
	waitIdle(t, s)

	s.tick(base.Add(2 * time.Second))
	assert.Equal(t, int64(1), blocking.calls.Load())
	assert.Equal(t, executor.StatusSuccess, historyOf(t, s, "a")[0].Status)
}

func TestDispatch_ExhaustedScheduleBecomesIdle(t *testing.T) {
	clock := newFakeClock(base)
	s, _ := newTestService(t, clock)
	require.NoError(t, s.Register(Definition{ID: "a", Schedule: "0 0 1 1 *", Executor: succeed(""), Enabled: true}))

	e, err := s.reg.get("a")
	require.NoError(t, err)
	e.mu.Lock()
	e.hasNext = false
	e.mu.Unlock()

	s.tick(base.Add(365 * 24 * time.Hour))
	info, _ := s.Task("a")
	assert.Equal(t, StateIdle, info.State)
	assert.Nil(t, info.NextRunAt)
}

func TestDispatch_RecordTextIsValidUTF8(t *testing.T) {
	s, h := newTestService(t, newFakeClock(base))
	dirty := &stubExecutor{fn: func(context.Context) executor.Outcome {
		return executor.Failure(errors.New("bad\x00input"), []byte{'o', 0, 'k', 0xd0})
	}}
	require.NoError(t, s.Register(Definition{ID: "a", Schedule: "@daily", Executor: dirty, Enabled: true}))

	_, err := s.RunNow("a")
	require.NoError(t, err)
	waitForRecords(t, h, 1)

	rec := historyOf(t, s, "a")[0]
	assert.Equal(t, "ok", rec.Output, "NUL и обрезанный символ удаляются")
	assert.Equal(t, "badinput", rec.ErrorMessage)
	assert.True(t, utf8.ValidString(rec.Output))
}
