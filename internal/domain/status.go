package domain

// JobStatus — статус задачи отправки письма.
//
// Жизненный цикл:
//
//	queued → sent
//	       ↘ failed → (requeue) → sent
//	                ↘ failed (retry_count >= max, терминально)
type JobStatus string

const (
	// JobStatusQueued — задача создана и ожидает обработки.
	JobStatusQueued JobStatus = "queued"

	// JobStatusSent — письмо успешно отправлено. Повторно не обрабатывается.
	JobStatusSent JobStatus = "sent"

	// JobStatusFailed — последняя попытка завершилась ошибкой.
	JobStatusFailed JobStatus = "failed"
)

// Valid возвращает true для известных статусов.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusSent, JobStatusFailed:
		return true
	default:
		return false
	}
}

// JobKind — тип письма. Каждому типу соответствует ровно одна
// операция отправки.
type JobKind string

const (
	JobKindTransactional JobKind = "transactional"
	JobKindWelcome       JobKind = "welcome"
	JobKindPasswordReset JobKind = "password_reset"
	JobKindNotification  JobKind = "notification"
	JobKindGeneric       JobKind = "generic"
)

// KnownKinds — все типы, для которых есть отдельный payload.
var KnownKinds = []JobKind{
	JobKindTransactional,
	JobKindWelcome,
	JobKindPasswordReset,
	JobKindNotification,
	JobKindGeneric,
}
