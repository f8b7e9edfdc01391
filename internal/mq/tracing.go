package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/propagation"
)

// headerCarrier — propagation.TextMapCarrier поверх заголовков AMQP.
type headerCarrier amqp.Table

var _ propagation.TextMapCarrier = headerCarrier(nil)

func (c headerCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// injectTrace записывает контекст трассировки из ctx в заголовки.
func injectTrace(ctx context.Context, p propagation.TextMapPropagator, headers amqp.Table) {
	p.Inject(ctx, headerCarrier(headers))
}

// extractTrace восстанавливает контекст трассировки из заголовков доставки.
func extractTrace(ctx context.Context, p propagation.TextMapPropagator, headers amqp.Table) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return p.Extract(ctx, headerCarrier(headers))
}
