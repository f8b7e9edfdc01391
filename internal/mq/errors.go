package mq

import "errors"

// Ошибки очереди.
var (
	// ErrNotConnected — нет активного соединения с брокером.
	// Сообщение не отправлено и не буферизовано.
	ErrNotConnected = errors.New("not connected to broker")

	// ErrPublishFailed — брокер (или клиентский буфер) не принял сообщение.
	ErrPublishFailed = errors.New("publish failed")

	// ErrDeclareFailed — не удалось объявить очередь.
	ErrDeclareFailed = errors.New("declare queue failed")

	// ErrSupervisorClosed — Supervisor уже закрыт.
	ErrSupervisorClosed = errors.New("supervisor closed")
)
