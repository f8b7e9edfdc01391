// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - transport.go  — интерфейсы Connection/Channel и адаптер amqp091-go
//   - supervisor.go — соединение с брокером (retry, reconnect, health check)
//   - gateway.go    — публикация сообщений (fail closed без соединения)
//   - consumer.go   — потребление сообщений из очередей
//   - topology.go   — имена и объявление очередей
//   - tracing.go    — контекст трассировки в заголовках AMQP
//
// Состояния соединения:
//   - DISCONNECTED — соединения нет
//   - CONNECTING   — идёт последовательность попыток
//   - CONNECTED    — соединение и канал открыты
//   - DEGRADED     — попытки исчерпаны, работаем без очереди
//
// Supervisor создаётся в main и передаётся в Gateway явно,
// глобального клиента нет.
package mq
