package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskscheduler/internal/executor"
	"taskscheduler/pkg/retry"
)

// loop - единственная горутина диспетчеризации. Тики выполняются строго последовательно.
func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(s.clock.Now())
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.log.Info("stopping dispatch due to context cancellation")
			s.runCancel(errShuttingDown)
			return
		}
	}
}

// tick проверяет все задачи в порядке регистрации.
func (s *Service) tick(now time.Time) {
	for _, e := range s.reg.snapshot() {
		s.evaluate(e, now)
	}
}

// evaluate принимает решение по одной задаче на момент now.
func (s *Service) evaluate(e *entry, now time.Time) {
	e.mu.Lock()
	if e.removed || !e.enabled || !e.hasNext || e.next.After(now) {
		e.mu.Unlock()
		return
	}
	trigger := e.next

	// Предыдущее выполнение ещё идёт: пишем skipped и сдвигаем расписание
	if e.current != nil {
		e.advance(trigger, now)
		rec := ExecutionRecord{
			ID:           uuid.NewString(),
			TaskID:       e.def.ID,
			Trigger:      TriggerSchedule,
			ScheduledAt:  trigger,
			StartedAt:    now,
			FinishedAt:   now,
			Status:       executor.StatusSkipped,
			ErrorMessage: "previous execution still running",
		}
		e.mu.Unlock()

		s.skipped.Add(1)
		s.log.Debug("skipping execution, previous still running", "task", rec.TaskID, "scheduled_at", trigger)
		s.record(rec)
		return
	}

	ex := s.newExecution(e, TriggerSchedule, trigger, now)
	if !s.dispatch(e, ex) {
		// next не сдвигаем: задача уйдёт на одном из следующих тиков
		e.mu.Unlock()
		s.backlog.Add(1)
		s.log.Debug("worker pool saturated, task deferred", "task", e.def.ID, "scheduled_at", trigger)
		return
	}
	e.advance(trigger, now)
	e.mu.Unlock()
}

func (s *Service) newExecution(e *entry, trigger Trigger, scheduledAt, now time.Time) *execution {
	ctx, cancel := context.WithCancelCause(s.runCtx)
	return &execution{
		rec: ExecutionRecord{
			ID:          uuid.NewString(),
			TaskID:      e.def.ID,
			Trigger:     trigger,
			ScheduledAt: scheduledAt,
			StartedAt:   now,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// dispatch отправляет выполнение в пул. Вызывается под e.mu.
func (s *Service) dispatch(e *entry, ex *execution) bool {
	// регистрируем до запуска: быстрый воркер может завершиться раньше, чем вернётся tryGo
	e.current = ex
	s.inflight.Store(ex.rec.ID, inflightRun{e: e, ex: ex})
	if !s.pool.tryGo(func() { s.run(e, ex) }) {
		s.inflight.Delete(ex.rec.ID)
		e.current = nil
		ex.cancel(nil)
		return false
	}
	s.dispatched.Add(1)
	return true
}

// timeoutGrace - сколько ждать исполнитель после истечения таймаута,
// прежде чем записать timed_out без его результата.
const timeoutGrace = 100 * time.Millisecond

// run выполняется в воркере пула. Слот пула занят, пока исполнитель не вернётся,
// даже если запись уже финализирована по таймауту.
func (s *Service) run(e *entry, ex *execution) {
	defer ex.cancel(nil)

	def := e.def
	callHook(s.log, "on_start", s.hooks.OnStart, ex.rec)

	timeout := s.timeoutFor(def)
	ctx, cancel := context.WithTimeout(ex.ctx, timeout)
	defer cancel()

	res := make(chan executor.Outcome, 1)
	go func() { res <- s.attempt(ctx, def, ex) }()

	var out executor.Outcome
	select {
	case out = <-res:
	case <-ctx.Done():
		// остановку и снятие задачи доводит до конца Stop
		if ex.ctx.Err() != nil {
			out = <-res
			break
		}
		grace := time.NewTimer(timeoutGrace)
		select {
		case out = <-res:
			grace.Stop()
		case <-grace.C:
			s.log.Warn("executor ignored timeout", "task", def.ID, "execution", ex.rec.ID, "timeout", timeout)
			o, _ := executor.Interrupted(ctx, fmt.Errorf("executor did not return within %s", timeout))
			s.finalize(e, ex, o)
			<-res
			return
		}
	}

	s.finalize(e, ex, out)
}

// attempt выполняет задачу с учётом политики повторов и приводит исход к статусу контекста.
func (s *Service) attempt(ctx context.Context, def Definition, ex *execution) executor.Outcome {
	var out executor.Outcome
	if def.Retry == nil {
		ex.attempts.Store(1)
		out = invoke(ctx, def.Executor)
	} else {
		policy := *def.Retry
		policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			s.log.Warn("execution failed, retrying", "task", def.ID, "attempt", attempt, "delay", delay, "error", err)
		}
		_, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
			ex.attempts.Store(int32(attempt))
			out = invoke(ctx, def.Executor)
			if out.Status == executor.StatusFailure {
				return out.Err
			}
			return nil
		})
		if out.Status == "" {
			// ни одной попытки: контекст закончился до первого вызова
			out = executor.Failure(err, nil)
		}
	}

	if out.Status == executor.StatusFailure {
		if o, ok := executor.Interrupted(ctx, out.Err); ok {
			o.Output = out.Output
			out = o
		}
	}
	if out.Status == executor.StatusSkipped {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
			out.Err = cause
		}
	}
	return out
}

// invoke вызывает исполнитель и превращает панику в failure.
func invoke(ctx context.Context, ex executor.Executor) (out executor.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = executor.Failure(fmt.Errorf("panic: %v", r), nil)
		}
	}()
	out = ex.Execute(ctx)
	if !out.Status.Valid() {
		return executor.Failure(fmt.Errorf("executor returned unknown status %q", out.Status), out.Output)
	}
	return out
}

func (s *Service) timeoutFor(def Definition) time.Duration {
	if def.Timeout > 0 {
		return def.Timeout
	}
	if t, ok := def.Executor.(executor.Timeouter); ok && t.Timeout() > 0 {
		return t.Timeout()
	}
	return s.defaultTimeout
}

// finalize завершает выполнение ровно один раз: из воркера или при остановке.
func (s *Service) finalize(e *entry, ex *execution, out executor.Outcome) {
	if !ex.finalized.CompareAndSwap(false, true) {
		return
	}
	s.inflight.Delete(ex.rec.ID)

	rec := ex.rec
	rec.FinishedAt = s.clock.Now()
	rec.Status = out.Status
	rec.Output = executor.Text(out.Output)
	rec.Attempts = int(ex.attempts.Load())
	if out.Status != executor.StatusSuccess {
		rec.ErrorMessage = executor.Sanitize(errorMessage(out))
	}

	e.mu.Lock()
	if e.current == ex {
		e.current = nil
	}
	last := rec
	e.last = &last
	e.mu.Unlock()

	if rec.Status == executor.StatusSuccess {
		s.log.Info("execution finished",
			"task", rec.TaskID,
			"execution", rec.ID,
			"trigger", rec.Trigger,
			"duration", rec.Duration(),
			"attempts", rec.Attempts,
		)
	} else {
		s.log.Warn("execution finished",
			"task", rec.TaskID,
			"execution", rec.ID,
			"trigger", rec.Trigger,
			"status", rec.Status,
			"duration", rec.Duration(),
			"attempts", rec.Attempts,
			"error", rec.ErrorMessage,
		)
	}
	s.record(rec)
}

// record сохраняет запись и вызывает OnFinish. Ошибка хранилища только логируется.
func (s *Service) record(rec ExecutionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), historyAppendDeadline)
	defer cancel()
	if err := s.history.Append(ctx, rec); err != nil {
		s.log.Error("failed to append execution record", "task", rec.TaskID, "execution", rec.ID, "error", err)
	}
	callHook(s.log, "on_finish", s.hooks.OnFinish, rec)
}

// abandonInflight записывает незавершённые выполнения как timed_out.
func (s *Service) abandonInflight() int {
	n := 0
	s.inflight.Range(func(_, v any) bool {
		run := v.(inflightRun)
		s.finalize(run.e, run.ex, executor.Outcome{Status: executor.StatusTimedOut, Err: errAbandoned})
		n++
		return true
	})
	return n
}

func errorMessage(out executor.Outcome) string {
	if out.Err != nil {
		return out.Err.Error()
	}
	return string(out.Status)
}
