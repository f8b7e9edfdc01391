package sender

import (
	"context"

	"github.com/shaiso/mailqueue/internal/domain"
)

// Sender — способ доставки письма одного или нескольких типов.
//
// destination — адрес получателя, msg — типизированное сообщение задачи.
// Ошибка означает, что письмо не отправлено: воркер пометит задачу
// failed и, если попытки не исчерпаны, поставит её повторно.
type Sender interface {
	Send(ctx context.Context, destination string, msg domain.JobMessage) error
}

// Func — адаптер обычной функции к интерфейсу Sender.
type Func func(ctx context.Context, destination string, msg domain.JobMessage) error

// Send вызывает f.
func (f Func) Send(ctx context.Context, destination string, msg domain.JobMessage) error {
	return f(ctx, destination, msg)
}
