package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/mailqueue/internal/domain"
	"github.com/shaiso/mailqueue/internal/repo"
	"github.com/shaiso/mailqueue/internal/telemetry"
)

// handleJob обрабатывает одно сообщение очереди задач.
//
// Всегда возвращает nil: любая ошибка (и паника) обрабатывается здесь,
// поэтому шлюз подтверждает сообщение, а повтор идёт только через
// отложенную публикацию.
func (w *Worker) handleJob(ctx context.Context, msg domain.JobMessage) (err error) {
	logger := telemetry.WithJobID(w.logger, msg.JobID).With("kind", msg.Kind)
	ctx = telemetry.WithLogger(ctx, logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing job", "panic", r)
			telemetry.JobsTotal.WithLabelValues(string(msg.Kind), telemetry.ResultError).Inc()
			w.markFailedBestEffort(ctx, msg, fmt.Sprintf("panic: %v", r), logger)
		}
		err = nil
	}()

	if err := w.processJob(ctx, msg, logger); err != nil {
		switch {
		case errors.Is(err, ErrJobNotFound):
			logger.Warn("job not found, message dropped")
		case errors.Is(err, ErrJobAlreadySent):
			logger.Debug("job already sent, duplicate dropped")
		case errors.Is(err, ErrJobExhausted):
			logger.Debug("job attempts exhausted, message dropped")
		case errors.Is(err, repo.ErrConflict):
			logger.Info("job updated concurrently, message dropped", "error", err)
		default:
			logger.Error("failed to process job", "error", err)
			telemetry.JobsTotal.WithLabelValues(string(msg.Kind), telemetry.ResultError).Inc()
			w.markFailedBestEffort(ctx, msg, err.Error(), logger)
			return nil
		}
		telemetry.JobsTotal.WithLabelValues(string(msg.Kind), telemetry.ResultDropped).Inc()
	}

	return nil
}

// processJob загружает задачу, отправляет письмо и фиксирует результат.
func (w *Worker) processJob(ctx context.Context, msg domain.JobMessage, logger *slog.Logger) error {
	// 1. Загружаем задачу
	job, err := w.store.GetByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, msg.JobID)
		}
		return fmt.Errorf("get job: %w", err)
	}

	// 2. Уже отправленное письмо не отправляется повторно
	if job.IsSent() {
		return ErrJobAlreadySent
	}
	if job.IsExhausted(w.maxAttempts) {
		return ErrJobExhausted
	}

	// 3. Новая попытка
	job.BeginAttempt()

	// 4. Отправка
	sendErr := w.send(ctx, msg)

	// 5. Успех
	if sendErr == nil {
		job.MarkSent(w.now())
		if err := w.store.Update(ctx, job); err != nil {
			return fmt.Errorf("update job to sent: %w", err)
		}

		telemetry.JobsTotal.WithLabelValues(string(msg.Kind), telemetry.ResultOK).Inc()
		logger.Info("email sent", "attempt", job.RetryCount)
		return nil
	}

	// 6. Ошибка: время повтора сохраняется в записи, чтобы Sweeper
	// мог восстановить повтор, потерянный вместе с таймером
	job.MarkFailed(sendErr.Error())
	retry := job.CanRetry(w.maxAttempts)
	if retry {
		job.ScheduleRetry(w.now().Add(w.requeue.delay))
	}
	if err := w.store.Update(ctx, job); err != nil {
		return fmt.Errorf("update job to failed: %w", err)
	}

	if !retry {
		telemetry.JobsTotal.WithLabelValues(string(msg.Kind), telemetry.ResultTerminal).Inc()
		logger.Error("email send failed, attempts exhausted",
			"attempt", job.RetryCount,
			"error", sendErr,
		)
		return nil
	}

	w.requeue.Schedule(w.queue, msg, job.Version)
	telemetry.JobsTotal.WithLabelValues(string(msg.Kind), telemetry.ResultRequeued).Inc()
	logger.Warn("email send failed, requeue scheduled",
		"attempt", job.RetryCount,
		"error", sendErr,
	)
	return nil
}

// send выбирает отправителя по типу письма и отправляет его.
func (w *Worker) send(ctx context.Context, msg domain.JobMessage) error {
	s, err := w.registry.Get(msg.Kind)
	if err != nil {
		return err
	}
	return s.Send(ctx, msg.Destination, msg)
}

// markFailedBestEffort перечитывает задачу и помечает её failed.
// Ошибки только логируются.
func (w *Worker) markFailedBestEffort(ctx context.Context, msg domain.JobMessage, errMsg string, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while marking job failed", "panic", r)
		}
	}()

	job, err := w.store.GetByID(ctx, msg.JobID)
	if err != nil {
		logger.Error("failed to reload job for mark-failed", "error", err)
		return
	}
	if job.IsSent() {
		return
	}

	job.BeginAttempt()
	job.MarkFailed(errMsg)
	if err := w.store.Update(ctx, job); err != nil {
		logger.Error("failed to mark job failed", "error", err)
		return
	}

	logger.Warn("job marked failed", "attempt", job.RetryCount, "error", errMsg)
}
