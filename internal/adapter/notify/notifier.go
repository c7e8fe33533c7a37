// Package notify доставляет оповещения о неудачных выполнениях задач.
package notify

import (
	"context"
	"errors"
)

// Notifier отправляет одно оповещение.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Multi рассылает оповещение всем получателям. Ошибка одного получателя
// не мешает остальным.
type Multi struct {
	notifiers []Notifier
}

// NewMulti объединяет получателей.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Send реализует Notifier.
func (m *Multi) Send(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoOp ничего не отправляет.
type NoOp struct{}

// Send реализует Notifier.
func (NoOp) Send(context.Context, string, string) error { return nil }
