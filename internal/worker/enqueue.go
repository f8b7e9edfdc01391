package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/mailqueue/internal/domain"
	"github.com/shaiso/mailqueue/internal/mq"
)

// JobCreator сохраняет новую задачу.
type JobCreator interface {
	Create(ctx context.Context, job *domain.EmailJob) error
	PublishMarker
}

// Enqueuer ставит письма в очередь: сначала сохраняет задачу,
// затем публикует сообщение.
type Enqueuer struct {
	store     JobCreator
	publisher Publisher
	queue     string
	logger    *slog.Logger
}

// NewEnqueuer создаёт Enqueuer. Пустой queue означает mq.QueueEmailJobs.
func NewEnqueuer(store JobCreator, publisher Publisher, queue string, logger *slog.Logger) *Enqueuer {
	if queue == "" {
		queue = mq.QueueEmailJobs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enqueuer{store: store, publisher: publisher, queue: queue, logger: logger}
}

// Enqueue создаёт задачу в статусе queued и публикует её.
//
// После успешной публикации задача получает published_at, и Sweeper её
// больше не трогает, сколько бы сообщение ни ждало в очереди.
// Если публикация не удалась, задача уже сохранена: возвращается она же
// вместе с ошибкой ErrNotEnqueued. Такую задачу позже подхватит Sweeper.
func (e *Enqueuer) Enqueue(ctx context.Context, kind domain.JobKind, destination string, data map[string]any) (*domain.EmailJob, error) {
	job := domain.NewEmailJob(kind, destination, data)

	msg, err := job.Message()
	if err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}

	if err := e.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := e.publisher.Publish(ctx, e.queue, msg); err != nil {
		e.logger.Warn("job saved but not enqueued",
			"job_id", job.ID,
			"queue", e.queue,
			"error", err,
		)
		return job, fmt.Errorf("%w: %w", ErrNotEnqueued, err)
	}

	if err := e.store.MarkPublished(ctx, job.ID, job.Version); err != nil {
		// Сообщение уже в очереди; без отметки Sweeper опубликует его ещё раз.
		e.logger.Warn("failed to mark job published", "job_id", job.ID, "error", err)
	} else {
		now := time.Now().UTC()
		job.PublishedAt = &now
	}

	e.logger.Info("job enqueued", "job_id", job.ID, "kind", kind, "queue", e.queue)
	return job, nil
}
