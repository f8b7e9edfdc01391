// Package worker отправляет письма из очереди задач.
//
// # Обзор
//
// Worker — долгоживущий consumer очереди email.jobs. На каждое сообщение:
//
//  1. Загружает задачу из БД; нет записи — сообщение отбрасывается
//  2. Уже отправленная задача отбрасывается (повторная доставка)
//  3. Увеличивает retryCount
//  4. Выбирает отправителя по типу письма через Registry
//  5. Успех — status=sent, sentAt=now
//  6. Ошибка — status=failed; если retryCount < MaxAttempts, сообщение
//     публикуется повторно через RequeueDelay
//
// Любая ошибка обработки, включая панику, перехватывается внутри воркера:
// задача помечается failed, а сообщение подтверждается брокеру.
//
// # Повторы
//
// Повтор — это новая публикация того же сообщения в ту же очередь, а не
// nack с requeue. Отложенные публикации принадлежат RequeueScheduler и
// отменяются при Stop.
//
// # Несколько consumer'ов
//
// Запись задачи обновляется compare-and-swap по версии. Проигравший
// consumer получает repo.ErrConflict и отбрасывает сообщение.
//
// # Sweeper
//
// Задачи, публикация которых не удалась (Enqueuer вернул ErrNotEnqueued),
// остаются в queued. Sweeper по cron-расписанию публикует их повторно,
// пока брокер подключён.
//
//	w := worker.New(worker.Config{
//	    Store:    jobRepo,
//	    Gateway:  gateway,
//	    Registry: worker.NewRegistry(httpSender),
//	    Logger:   logger,
//	})
//	if err := w.Start(ctx); err != nil {
//	    logger.Warn("worker not consuming", "error", err)
//	}
//	defer w.Stop()
package worker
