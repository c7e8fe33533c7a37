package scheduler

import (
	"strings"
	"time"

	"taskscheduler/internal/executor"
	"taskscheduler/internal/shared"
	"taskscheduler/pkg/retry"
)

// Definition описывает задачу. Задаётся один раз при регистрации;
// после регистрации меняется только признак Enabled через Enable и Disable.
type Definition struct {
	// ID - уникальный идентификатор задачи.
	ID string
	// Name - имя для логов и API (по умолчанию совпадает с ID).
	Name string
	// Schedule - cron-выражение.
	Schedule string
	// Executor - уже провалидированный исполнитель.
	Executor executor.Executor
	Enabled  bool
	// Timeout - максимальное время одного выполнения (необязательно).
	Timeout time.Duration
	// Retry - политика повторов для исходов failure (необязательно).
	Retry *retry.Policy
}

func (d *Definition) normalize() error {
	d.ID = strings.TrimSpace(d.ID)
	if d.ID == "" {
		return shared.Errorf(shared.KindValidation, "task id cannot be empty")
	}
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.Executor == nil {
		return shared.Errorf(shared.KindValidation, "task %q: executor is required", d.ID)
	}
	if d.Timeout < 0 {
		return shared.Errorf(shared.KindValidation, "task %q: timeout cannot be negative", d.ID)
	}
	if d.Retry != nil {
		p := *d.Retry
		if err := p.Normalize(); err != nil {
			return shared.Errorf(shared.KindValidation, "task %q: %v", d.ID, err)
		}
		d.Retry = &p
	}
	return nil
}

// TaskOption настраивает задачу, зарегистрированную через RegisterTask.
type TaskOption func(*Definition)

// WithTimeout задаёт таймаут выполнения.
func WithTimeout(d time.Duration) TaskOption {
	return func(def *Definition) { def.Timeout = d }
}

// WithRetry задаёт политику повторов.
func WithRetry(p retry.Policy) TaskOption {
	return func(def *Definition) { def.Retry = &p }
}

// WithDisabled регистрирует задачу выключенной.
func WithDisabled() TaskOption {
	return func(def *Definition) { def.Enabled = false }
}
