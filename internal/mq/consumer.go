package mq

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/mailqueue/internal/telemetry"
)

// Decoder разбирает тело доставки в типизированное сообщение.
// Ошибка — постоянный сбой этого сообщения: оно отклоняется без retry.
type Decoder[T any] func(body []byte) (T, error)

// Handler обрабатывает одно сообщение.
// nil — ack; ошибка — nack без возврата в очередь.
type Handler[T any] func(ctx context.Context, msg T) error

// Subscription — активная подписка на очередь.
type Subscription struct {
	queue  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Queue возвращает имя очереди подписки.
func (s *Subscription) Queue() string {
	return s.queue
}

// Stop отменяет подписку и ждёт завершения обработки текущего сообщения.
func (s *Subscription) Stop() {
	s.cancel()
	<-s.done
}

// Done закрывается, когда цикл подписки завершён.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Consume подписывает handle на очередь queue.
//
// Без соединения сразу возвращает ErrNotConnected. Иначе объявляет очередь
// durable, регистрирует consumer с ручным ack и запускает цикл получения
// в отдельной горутине. Сообщения обрабатываются строго по одному в порядке
// доставки брокером.
//
// Для каждой доставки:
//  1. decode; ошибка → nack(requeue=false), handle не вызывается
//  2. handle; nil → ack
//  3. ошибка или panic в handle → nack(requeue=false)
//
// Retry — забота вызывающего, транспорт сообщения не возвращает.
// При разрыве соединения цикл ждёт переподключения Supervisor и
// регистрируется заново. Отмена ctx или Stop() завершают цикл.
func Consume[T any](ctx context.Context, g *Gateway, queue string, decode Decoder[T], handle Handler[T]) (*Subscription, error) {
	if g.sup.State() != StateConnected {
		g.logger.Warn("cannot consume, broker not connected", "queue", queue)
		return nil, ErrNotConnected
	}

	c := &consumer[T]{
		gw:     g,
		queue:  queue,
		tag:    "mailqueue-" + uuid.NewString(),
		decode: decode,
		handle: handle,
		logger: telemetry.WithQueue(g.logger, queue),
	}

	ch, deliveries, err := c.setup()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		queue:  queue,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		c.run(ctx, ch, deliveries)
	}()

	c.logger.Info("consumer started")
	return sub, nil
}

type consumer[T any] struct {
	gw     *Gateway
	queue  string
	tag    string
	decode Decoder[T]
	handle Handler[T]
	logger *slog.Logger
}

// setup объявляет очередь и начинает потребление на текущем канале.
func (c *consumer[T]) setup() (Channel, <-chan amqp.Delivery, error) {
	ch, err := c.gw.sup.Channel()
	if err != nil {
		return nil, nil, err
	}

	if err := c.gw.declare(ch, c.queue); err != nil {
		return nil, nil, err
	}

	if err := ch.Qos(c.gw.prefetch, 0, false); err != nil {
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queue, // queue
		c.tag,   // consumer tag
		false,   // auto-ack (ack вручную)
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return nil, nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}

	return ch, deliveries, nil
}

// run — основной цикл получения.
func (c *consumer[T]) run(ctx context.Context, ch Channel, deliveries <-chan amqp.Delivery) {
	for {
		if deliveries == nil {
			ch, deliveries = c.resubscribe(ctx)
			if deliveries == nil {
				return
			}
			c.logger.Info("consumer re-registered after reconnect")
		}

		select {
		case <-ctx.Done():
			// Канал мог уже закрыться вместе с соединением, ошибку игнорируем
			ch.Cancel(c.tag, false)
			c.logger.Info("consumer stopped")
			return

		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed, waiting for reconnect")
				deliveries = nil
				continue
			}
			c.dispatch(ctx, d)
		}
	}
}

// resubscribe ждёт переподключения и регистрирует consumer заново.
// Возвращает nil, если ctx отменён.
func (c *consumer[T]) resubscribe(ctx context.Context) (Channel, <-chan amqp.Delivery) {
	for {
		// Берём канал уведомления до попытки, чтобы не пропустить reconnect
		notify := c.gw.sup.ReconnectNotify()

		ch, deliveries, err := c.setup()
		if err == nil {
			return ch, deliveries
		}
		c.logger.Debug("consumer setup failed", "error", err)

		select {
		case <-ctx.Done():
			return nil, nil
		case <-notify:
		}
	}
}

// dispatch обрабатывает одну доставку.
func (c *consumer[T]) dispatch(ctx context.Context, d amqp.Delivery) {
	msg, err := c.decode(d.Body)
	if err != nil {
		telemetry.ConsumeTotal.WithLabelValues(c.queue, telemetry.ResultRejected).Inc()
		c.logger.Error("failed to decode message, rejecting",
			"message_id", d.MessageId,
			"error", err,
			"body", telemetry.Truncate(string(d.Body), 512),
		)
		c.reject(d)
		return
	}

	// Обработка в полёте доводится до конца даже при остановке подписки
	hctx := context.WithoutCancel(extractTrace(ctx, c.gw.propagator, d.Headers))

	if err := c.invoke(hctx, msg); err != nil {
		telemetry.ConsumeTotal.WithLabelValues(c.queue, telemetry.ResultError).Inc()
		c.logger.Error("handler failed, rejecting",
			"message_id", d.MessageId,
			"error", err,
		)
		c.reject(d)
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Warn("failed to ack message", "message_id", d.MessageId, "error", err)
		return
	}
	telemetry.ConsumeTotal.WithLabelValues(c.queue, telemetry.ResultOK).Inc()
}

// invoke вызывает handler, превращая panic в ошибку.
func (c *consumer[T]) invoke(ctx context.Context, msg T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handle(ctx, msg)
}

func (c *consumer[T]) reject(d amqp.Delivery) {
	if err := d.Nack(false, false); err != nil {
		c.logger.Warn("failed to nack message", "message_id", d.MessageId, "error", err)
	}
}
