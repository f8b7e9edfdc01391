package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EmailJob — запись о задаче отправки письма.
//
// EmailJob создаётся сервисом, который ставит письмо в очередь (до publish),
// и является источником истины для retry: счётчик попыток и статус живут
// здесь, а не в сообщении брокера. Поэтому retry переживают рестарт процесса,
// а повторная доставка определяется по статусу, а не по message id.
type EmailJob struct {
	// ID — идентификатор задачи (непрозрачная строка, по умолчанию UUID).
	ID string `json:"id"`

	// Kind — тип письма.
	Kind JobKind `json:"kind"`

	// Destination — адрес получателя.
	Destination string `json:"destination"`

	// Data — данные, специфичные для типа письма.
	Data map[string]any `json:"data,omitempty"`

	// Status — текущий статус задачи.
	Status JobStatus `json:"status"`

	// RetryCount — количество попыток отправки.
	// Только растёт; единственный вход для решения requeue или отказ.
	RetryCount int `json:"retry_count"`

	// SentAt — время успешной отправки.
	SentAt *time.Time `json:"sent_at,omitempty"`

	// ErrorMessage — текст последней ошибки.
	ErrorMessage string `json:"error_message,omitempty"`

	// PublishedAt — когда брокер принял сообщение для текущей попытки.
	// nil: сообщения в очереди нет, задачу должен подхватить Sweeper.
	PublishedAt *time.Time `json:"published_at,omitempty"`

	// NextAttemptAt — когда должна начаться следующая попытка после неудачи.
	// nil, если повтор не запланирован.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	// Version — версия записи для optimistic locking.
	// Увеличивается репозиторием при каждом успешном Update.
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEmailJob создаёт задачу в статусе queued.
func NewEmailJob(kind JobKind, destination string, data map[string]any) *EmailJob {
	now := time.Now().UTC()
	return &EmailJob{
		ID:          uuid.NewString(),
		Kind:        kind,
		Destination: destination,
		Data:        data,
		Status:      JobStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsSent возвращает true, если письмо уже отправлено.
func (j *EmailJob) IsSent() bool {
	return j.Status == JobStatusSent
}

// IsExhausted возвращает true, если задача окончательно провалена
// и больше не должна обрабатываться.
func (j *EmailJob) IsExhausted(maxAttempts int) bool {
	return j.Status == JobStatusFailed && j.RetryCount >= maxAttempts
}

// BeginAttempt отмечает начало очередной попытки отправки.
func (j *EmailJob) BeginAttempt() {
	j.RetryCount++
}

// MarkSent переводит задачу в статус sent.
func (j *EmailJob) MarkSent(at time.Time) {
	at = at.UTC()
	j.Status = JobStatusSent
	j.SentAt = &at
	j.ErrorMessage = ""
	j.NextAttemptAt = nil
}

// MarkFailed переводит задачу в статус failed с ошибкой.
// Сообщение попытки считается израсходованным, повтор не запланирован.
func (j *EmailJob) MarkFailed(errMsg string) {
	j.Status = JobStatusFailed
	j.ErrorMessage = errMsg
	j.PublishedAt = nil
	j.NextAttemptAt = nil
}

// ScheduleRetry запоминает время следующей попытки.
func (j *EmailJob) ScheduleRetry(at time.Time) {
	at = at.UTC()
	j.NextAttemptAt = &at
}

// CanRetry проверяет, можно ли запланировать ещё одну попытку.
func (j *EmailJob) CanRetry(maxAttempts int) bool {
	return j.RetryCount < maxAttempts
}

// Message собирает сообщение очереди из записи.
// Используется при первичной постановке в очередь и при повторной публикации
// зависших задач.
func (j *EmailJob) Message() (JobMessage, error) {
	flat := make(map[string]any, len(j.Data)+3)
	for k, v := range j.Data {
		flat[k] = v
	}
	flat[fieldJobID] = j.ID
	flat[fieldKind] = string(j.Kind)
	flat[fieldDestination] = j.Destination

	body, err := json.Marshal(flat)
	if err != nil {
		return JobMessage{}, fmt.Errorf("marshal job %s: %w", j.ID, err)
	}
	return DecodeJobMessage(body)
}
