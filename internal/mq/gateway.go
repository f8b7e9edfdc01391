package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/shaiso/mailqueue/internal/telemetry"
)

const defaultPrefetch = 1

// Envelope — сообщение, переданное в Gateway для отправки.
// После передачи не изменяется.
type Envelope struct {
	// Queue — имя очереди (routing key в default exchange).
	Queue string

	// Body — сериализованный JSON payload.
	Body []byte

	// Persistent — сообщение переживёт рестарт брокера.
	Persistent bool

	// MessageID — уникальный идентификатор сообщения.
	MessageID string

	// Timestamp — время создания.
	Timestamp time.Time

	// Headers — заголовки (контекст трассировки).
	Headers amqp.Table
}

func (e Envelope) publishing() amqp.Publishing {
	mode := amqp.Transient
	if e.Persistent {
		mode = amqp.Persistent
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		MessageId:    e.MessageID,
		Timestamp:    e.Timestamp,
		Headers:      e.Headers,
		Body:         e.Body,
	}
}

// GatewayConfig — конфигурация Gateway.
type GatewayConfig struct {
	// Supervisor — владелец соединения. Обязателен.
	Supervisor *Supervisor

	// Prefetch — сколько неподтверждённых сообщений брокер отдаёт
	// одному consumer'у (default: 1, строго по одному).
	Prefetch int

	// Propagator — propagator контекста трассировки
	// (default: otel.GetTextMapPropagator()).
	Propagator propagation.TextMapPropagator

	// Logger
	Logger *slog.Logger
}

// Gateway публикует и потребляет сообщения поверх Supervisor.
//
// Без соединения все операции сразу возвращают ErrNotConnected:
// сообщения не буферизуются, ничего не ждёт переподключения.
// Ни одна операция не паникует наружу.
type Gateway struct {
	sup        *Supervisor
	prefetch   int
	propagator propagation.TextMapPropagator
	logger     *slog.Logger
}

// NewGateway создаёт Gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	propagator := cfg.Propagator
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		sup:        cfg.Supervisor,
		prefetch:   prefetch,
		propagator: propagator,
		logger:     logger,
	}
}

// State возвращает состояние соединения Supervisor.
func (g *Gateway) State() ConnectionState {
	return g.sup.State()
}

// DeclareQueue объявляет durable очередь. Идемпотентна.
// Ошибка логируется и возвращается, автоматического retry нет.
func (g *Gateway) DeclareQueue(ctx context.Context, name string) error {
	ch, err := g.sup.Channel()
	if err != nil {
		g.logger.Warn("cannot declare queue, broker not connected", "queue", name)
		return err
	}
	return g.declare(ch, name)
}

func (g *Gateway) declare(ch Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		g.logger.Error("failed to declare queue", "queue", name, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrDeclareFailed, name, err)
	}

	g.logger.Debug("queue declared", "queue", name)
	return nil
}

// Publish сериализует payload в JSON и публикует persistent сообщение
// в очередь queue.
//
// Без соединения возвращает ErrNotConnected без сетевых вызовов,
// сообщение отброшено. Если транспорт не принял сообщение, ErrPublishFailed.
// Для вызывающего обе ошибки значат одно: «не поставлено в очередь».
func (g *Gateway) Publish(ctx context.Context, queue string, payload any) error {
	if g.sup.State() != StateConnected {
		telemetry.PublishTotal.WithLabelValues(queue, telemetry.ResultDropped).Inc()
		g.logger.Warn("broker not connected, message dropped", "queue", queue)
		return ErrNotConnected
	}

	body, err := json.Marshal(payload)
	if err != nil {
		telemetry.PublishTotal.WithLabelValues(queue, telemetry.ResultError).Inc()
		g.logger.Error("failed to marshal message", "queue", queue, "error", err)
		return fmt.Errorf("%w: marshal: %v", ErrPublishFailed, err)
	}

	env := Envelope{
		Queue:      queue,
		Body:       body,
		Persistent: true,
		MessageID:  uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Headers:    amqp.Table{},
	}
	injectTrace(ctx, g.propagator, env.Headers)

	return g.send(ctx, env)
}

func (g *Gateway) send(ctx context.Context, env Envelope) error {
	ch, err := g.sup.Channel()
	if err != nil {
		telemetry.PublishTotal.WithLabelValues(env.Queue, telemetry.ResultDropped).Inc()
		g.logger.Warn("broker not connected, message dropped", "queue", env.Queue)
		return err
	}

	err = ch.PublishWithContext(
		ctx,
		"",        // default exchange
		env.Queue, // routing key = имя очереди
		false,     // mandatory
		false,     // immediate
		env.publishing(),
	)
	if err != nil {
		telemetry.PublishTotal.WithLabelValues(env.Queue, telemetry.ResultError).Inc()
		g.logger.Error("failed to publish message",
			"queue", env.Queue,
			"message_id", env.MessageID,
			"error", err,
		)
		return fmt.Errorf("%w: %s: %v", ErrPublishFailed, env.Queue, err)
	}

	telemetry.PublishTotal.WithLabelValues(env.Queue, telemetry.ResultOK).Inc()
	g.logger.Debug("published message",
		"queue", env.Queue,
		"message_id", env.MessageID,
	)

	return nil
}
