package worker

import "errors"

// Ошибки воркера.
var (
	// ErrJobNotFound — задачи из сообщения нет в БД.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadySent — письмо уже отправлено, повторная доставка.
	ErrJobAlreadySent = errors.New("job already sent")

	// ErrJobExhausted — попытки отправки исчерпаны.
	ErrJobExhausted = errors.New("job retry attempts exhausted")

	// ErrNoSender — для типа письма не зарегистрирован отправитель.
	ErrNoSender = errors.New("no sender for job kind")

	// ErrNotEnqueued — задача сохранена, но не поставлена в очередь.
	ErrNotEnqueued = errors.New("job not enqueued")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
