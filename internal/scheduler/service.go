package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"taskscheduler/internal/executor"
	"taskscheduler/internal/shared"
)

const (
	DefaultTickInterval   = time.Second
	DefaultPoolSize       = 4
	DefaultTimeout        = 300 * time.Second
	DefaultShutdownGrace  = 30 * time.Second
	historyAppendDeadline = 5 * time.Second
)

var (
	errCancelled    = errors.New("cancelled")
	errShuttingDown = errors.New("cancelled at shutdown")
	errAbandoned    = errors.New("abandoned at shutdown")
)

// Options содержит конфигурацию сервиса.
type Options struct {
	Logger *slog.Logger
	Clock  Clock
	// TickInterval - период цикла диспетчеризации.
	TickInterval time.Duration
	// PoolSize - максимум одновременных выполнений.
	PoolSize int
	// DefaultTimeout применяется, если ни задача, ни исполнитель не задают таймаут.
	DefaultTimeout time.Duration
	// ShutdownGrace - сколько Stop ждёт выполнения после их отмены.
	ShutdownGrace time.Duration
	// Location - зона для выражений без префикса CRON_TZ=.
	Location *time.Location
	History  HistoryStore
	Hooks    Hooks
}

// Stats - счётчики сервиса.
type Stats struct {
	Tasks      int   `json:"tasks"`
	Running    int   `json:"running"`
	PoolSize   int   `json:"pool_size"`
	InUse      int64 `json:"in_use"`
	Dispatched int64 `json:"dispatched"`
	Skipped    int64 `json:"skipped"`
	Backlog    int64 `json:"backlog"`
}

// Service управляет реестром задач, циклом тиков и пулом воркеров.
type Service struct {
	log            *slog.Logger
	clock          Clock
	tickInterval   time.Duration
	defaultTimeout time.Duration
	grace          time.Duration
	loc            *time.Location
	history        HistoryStore
	hooks          Hooks

	reg      *registry
	pool     *pool
	inflight sync.Map // execution id -> *inflightRun

	runCtx    context.Context
	runCancel context.CancelCauseFunc

	mu       sync.Mutex
	started  bool
	stopped  bool
	stopCh   chan struct{}
	loopDone chan struct{}

	dispatched atomic.Int64
	skipped    atomic.Int64
	backlog    atomic.Int64
}

type inflightRun struct {
	e  *entry
	ex *execution
}

// New создаёт сервис. Нулевые поля Options заменяются значениями по умолчанию.
func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	history := opts.History
	if history == nil {
		history = NewMemoryHistory(0)
	}

	runCtx, runCancel := context.WithCancelCause(context.Background())

	return &Service{
		log:            log.With("component", "scheduler"),
		clock:          clock,
		tickInterval:   opts.TickInterval,
		defaultTimeout: opts.DefaultTimeout,
		grace:          opts.ShutdownGrace,
		loc:            opts.Location,
		history:        history,
		hooks:          opts.Hooks,
		reg:            newRegistry(),
		pool:           newPool(opts.PoolSize),
		runCtx:         runCtx,
		runCancel:      runCancel,
		stopCh:         make(chan struct{}),
	}
}

// Register добавляет задачу. Ошибки: Validation, InvalidSchedule, DuplicateTaskID.
func (s *Service) Register(def Definition) error {
	if err := def.normalize(); err != nil {
		return err
	}
	sched, err := ParseScheduleIn(def.Schedule, s.loc)
	if err != nil {
		return shared.Wrapf(err, "task %q", def.ID)
	}

	e := &entry{def: def, sched: sched, enabled: def.Enabled}
	if e.enabled {
		e.next, e.hasNext = sched.Next(s.clock.Now())
	}
	if err := s.reg.add(e); err != nil {
		return err
	}

	s.log.Info("task registered",
		"task", def.ID,
		"name", def.Name,
		"schedule", sched.String(),
		"kind", def.Executor.Kind(),
		"enabled", def.Enabled,
		"next_run_at", e.next,
	)
	return nil
}

// RegisterTask регистрирует доменную задачу через исполнитель Custom.
// Задача включена, если не передан WithDisabled.
func (s *Service) RegisterTask(id, name string, task executor.Task, opts ...TaskOption) error {
	custom, err := executor.NewCustom(task)
	if err != nil {
		return err
	}
	def := Definition{
		ID:       id,
		Name:     name,
		Schedule: task.Schedule(),
		Executor: custom,
		Enabled:  true,
	}
	for _, opt := range opts {
		opt(&def)
	}
	return s.Register(def)
}

// Unregister удаляет задачу. Текущее выполнение доводится до конца и записывается.
func (s *Service) Unregister(id string) error {
	e, ok := s.reg.remove(id)
	if !ok {
		return shared.Errorf(shared.KindNotFound, "task %q", id)
	}
	e.mu.Lock()
	e.removed = true
	e.hasNext = false
	e.mu.Unlock()

	s.log.Info("task unregistered", "task", id)
	return nil
}

// Enable включает задачу и пересчитывает время следующего запуска.
func (s *Service) Enable(id string) error {
	e, err := s.reg.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enabled {
		return nil
	}
	e.enabled = true
	e.next, e.hasNext = e.sched.Next(s.clock.Now())
	s.log.Info("task enabled", "task", id, "next_run_at", e.next)
	return nil
}

// Disable выключает задачу. Текущее выполнение не прерывается.
func (s *Service) Disable(id string) error {
	e, err := s.reg.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.enabled {
		return nil
	}
	e.enabled = false
	e.hasNext = false
	s.log.Info("task disabled", "task", id, "running", e.current != nil)
	return nil
}

// Start запускает цикл тиков. Отмена ctx останавливает диспетчеризацию
// и отменяет текущие выполнения; дождаться их можно через Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return shared.Errorf(shared.KindConflict, "scheduler is stopped")
	}
	if s.started {
		return shared.Errorf(shared.KindConflict, "scheduler is already running")
	}
	s.started = true
	s.loopDone = make(chan struct{})

	s.log.Info("starting scheduler",
		"tasks", s.reg.len(),
		"tick", s.tickInterval,
		"pool_size", s.pool.size,
	)
	go s.loop(ctx, s.loopDone)
	return nil
}

// Stop останавливает цикл, отменяет текущие выполнения и ждёт их не дольше
// ShutdownGrace (или дедлайна ctx). Выполнения, не успевшие завершиться,
// записываются как timed_out.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	loopDone := s.loopDone
	s.mu.Unlock()

	s.log.Info("stopping scheduler")
	if loopDone != nil {
		<-loopDone
	}

	s.runCancel(errShuttingDown)

	waitCtx, cancel := context.WithTimeout(ctx, s.grace)
	defer cancel()
	if s.pool.wait(waitCtx) {
		s.log.Info("scheduler stopped")
		return nil
	}

	n := s.abandonInflight()
	s.log.Warn("scheduler stop grace exceeded", "abandoned", n, "grace", s.grace)
	return ctx.Err()
}

// RunNow запускает задачу вне расписания и возвращает id выполнения.
// next_run_at не меняется.
func (s *Service) RunNow(id string) (string, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return "", shared.Errorf(shared.KindConflict, "scheduler is stopped")
	}

	e, err := s.reg.get(id)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.removed:
		return "", shared.Errorf(shared.KindNotFound, "task %q", id)
	case !e.enabled:
		return "", shared.Errorf(shared.KindConflict, "task %q is disabled", id)
	case e.current != nil:
		return "", shared.Errorf(shared.KindConflict, "task %q is already running", id)
	}

	now := s.clock.Now()
	ex := s.newExecution(e, TriggerManual, now, now)
	if !s.dispatch(e, ex) {
		return "", shared.Errorf(shared.KindPoolSaturated, "task %q", id)
	}
	s.log.Info("manual run dispatched", "task", id, "execution", ex.rec.ID)
	return ex.rec.ID, nil
}

// CancelExecution отменяет текущее выполнение задачи. Оно будет записано как skipped.
func (s *Service) CancelExecution(id string) error {
	e, err := s.reg.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	ex := e.current
	e.mu.Unlock()
	if ex == nil {
		return shared.Errorf(shared.KindNotFound, "task %q has no execution in flight", id)
	}
	ex.cancel(errCancelled)
	s.log.Info("execution cancel requested", "task", id, "execution", ex.rec.ID)
	return nil
}

// History возвращает записи от новых к старым.
func (s *Service) History(ctx context.Context, q HistoryQuery) ([]ExecutionRecord, error) {
	if q.Limit < 0 {
		return nil, shared.Errorf(shared.KindValidation, "limit cannot be negative")
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return nil, shared.Errorf(shared.KindValidation, "until is before since")
	}
	recs, err := s.history.Query(ctx, q)
	if err != nil {
		if shared.IsCanceled(err) || shared.IsTimeout(err) {
			return nil, err
		}
		return nil, shared.MarkKind(shared.Wrap(err, "query history"), shared.KindDependencyFailure)
	}
	return recs, nil
}

// Tasks возвращает снимки задач в порядке регистрации.
func (s *Service) Tasks() []TaskInfo {
	entries := s.reg.snapshot()
	out := make([]TaskInfo, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.info())
		e.mu.Unlock()
	}
	return out
}

// Task возвращает снимок одной задачи.
func (s *Service) Task(id string) (TaskInfo, error) {
	e, err := s.reg.get(id)
	if err != nil {
		return TaskInfo{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info(), nil
}

// Stats возвращает счётчики сервиса.
func (s *Service) Stats() Stats {
	st := Stats{
		PoolSize:   s.pool.size,
		InUse:      s.pool.inUse.Load(),
		Dispatched: s.dispatched.Load(),
		Skipped:    s.skipped.Load(),
		Backlog:    s.backlog.Load(),
	}
	for _, e := range s.reg.snapshot() {
		st.Tasks++
		e.mu.Lock()
		if e.current != nil {
			st.Running++
		}
		e.mu.Unlock()
	}
	return st
}

// HistoryStore возвращает хранилище истории сервиса.
func (s *Service) HistoryStore() HistoryStore { return s.history }
