package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"taskscheduler/internal/executor"
	"taskscheduler/internal/shared"
)

// State - состояние задачи в снимке TaskInfo.
type State string

const (
	StateDisabled  State = "disabled"
	StateIdle      State = "idle"
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
)

// entry - задача в реестре. Все поля, кроме def и sched, меняются только под mu.
type entry struct {
	mu    sync.Mutex
	def   Definition
	sched Schedule

	enabled bool
	next    time.Time
	hasNext bool
	current *execution
	last    *ExecutionRecord
	removed bool
}

// execution - выполнение, отправленное в пул.
type execution struct {
	rec       ExecutionRecord
	ctx       context.Context
	cancel    context.CancelCauseFunc
	attempts  atomic.Int32
	finalized atomic.Bool
}

// advance пересчитывает next от момента срабатывания. Если процесс отстал
// и следующий слот уже в прошлом, отсчёт идёт от now.
func (e *entry) advance(trigger, now time.Time) {
	next, ok := e.sched.Next(trigger)
	if ok && !next.After(now) {
		next, ok = e.sched.Next(now)
	}
	e.next, e.hasNext = next, ok
}

// info собирает снимок. Вызывается под e.mu.
func (e *entry) info() TaskInfo {
	ti := TaskInfo{
		ID:       e.def.ID,
		Name:     e.def.Name,
		Schedule: e.sched.String(),
		Kind:     e.def.Executor.Kind(),
		Enabled:  e.enabled,
		Running:  e.current != nil,
	}
	switch {
	case e.current != nil:
		ti.State = StateRunning
	case !e.enabled:
		ti.State = StateDisabled
	case e.hasNext:
		ti.State = StateScheduled
	default:
		ti.State = StateIdle
	}
	if e.enabled && e.hasNext {
		next := e.next
		ti.NextRunAt = &next
	}
	if e.last != nil {
		ti.LastOutcome = e.last.Status
		finished := e.last.FinishedAt
		ti.LastRunAt = &finished
	}
	return ti
}

// TaskInfo - снимок состояния задачи.
type TaskInfo struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Schedule    string          `json:"schedule"`
	Kind        executor.Kind   `json:"kind"`
	Enabled     bool            `json:"enabled"`
	State       State           `json:"state"`
	NextRunAt   *time.Time      `json:"next_run_at,omitempty"`
	Running     bool            `json:"running"`
	LastOutcome executor.Status `json:"last_outcome,omitempty"`
	LastRunAt   *time.Time      `json:"last_run_at,omitempty"`
}

// registry хранит задачи в порядке регистрации.
type registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*entry)}
}

func (r *registry) add(e *entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.def.ID]; exists {
		return shared.Errorf(shared.KindDuplicateTaskID, "%s", e.def.ID)
	}
	r.entries[e.def.ID] = e
	r.order = append(r.order, e.def.ID)
	return nil
}

func (r *registry) remove(id string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return e, true
}

func (r *registry) get(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, shared.Errorf(shared.KindNotFound, "task %q", id)
	}
	return e, nil
}

// snapshot возвращает задачи в порядке регистрации.
func (r *registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
