package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"taskscheduler/internal/executor"
	"taskscheduler/internal/scheduler"
)

const (
	defaultQueueSize   = 64
	defaultSendTimeout = 10 * time.Second
	maxOutputInAlert   = 500
)

// Alerter превращает финализированные записи со статусом failure или
// timed_out в оповещения. Отправка идёт из отдельной горутины, поэтому
// OnFinish не задерживает воркер планировщика.
type Alerter struct {
	notifier    Notifier
	log         *slog.Logger
	sendTimeout time.Duration

	queue     chan scheduler.ExecutionRecord
	done      chan struct{}
	mu        sync.Mutex
	closed    bool
	startOnce sync.Once
}

// NewAlerter создаёт оповещатель с очередью queueSize (0 - по умолчанию).
func NewAlerter(n Notifier, log *slog.Logger, queueSize int) *Alerter {
	if log == nil {
		log = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Alerter{
		notifier:    n,
		log:         log.With("component", "alerter"),
		sendTimeout: defaultSendTimeout,
		queue:       make(chan scheduler.ExecutionRecord, queueSize),
		done:        make(chan struct{}),
	}
}

// Start запускает горутину отправки.
func (a *Alerter) Start() {
	a.startOnce.Do(func() {
		go a.loop()
	})
}

// OnFinish подходит для scheduler.Hooks.OnFinish. Если очередь переполнена,
// оповещение отбрасывается.
func (a *Alerter) OnFinish(rec scheduler.ExecutionRecord) {
	if rec.Status != executor.StatusFailure && rec.Status != executor.StatusTimedOut {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- rec:
	default:
		a.log.Warn("alert queue full, dropping alert", "task", rec.TaskID, "execution", rec.ID)
	}
}

// Stop закрывает очередь и ждёт отправки оставшихся оповещений, пока жив ctx.
func (a *Alerter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	a.Start()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Alerter) loop() {
	defer close(a.done)
	for rec := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.sendTimeout)
		title, body := FormatAlert(rec)
		if err := a.notifier.Send(ctx, title, body); err != nil {
			a.log.Error("failed to send alert", "task", rec.TaskID, "execution", rec.ID, "error", err)
		}
		cancel()
	}
}

// FormatAlert строит заголовок и текст оповещения.
func FormatAlert(rec scheduler.ExecutionRecord) (string, string) {
	title := fmt.Sprintf("Task %s: %s", rec.TaskID, rec.Status)

	var b strings.Builder
	fmt.Fprintf(&b, "Execution: %s\n", rec.ID)
	fmt.Fprintf(&b, "Trigger: %s\n", rec.Trigger)
	fmt.Fprintf(&b, "Scheduled: %s\n", rec.ScheduledAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %s\n", rec.Duration().Round(time.Millisecond))
	if rec.Attempts > 1 {
		fmt.Fprintf(&b, "Attempts: %d\n", rec.Attempts)
	}
	if rec.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", rec.ErrorMessage)
	}
	if out := strings.TrimSpace(rec.Output); out != "" {
		if r := []rune(out); len(r) > maxOutputInAlert {
			out = string(r[:maxOutputInAlert]) + "…"
		}
		fmt.Fprintf(&b, "Output:\n%s\n", out)
	}
	return title, strings.TrimRight(b.String(), "\n")
}
