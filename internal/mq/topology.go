package mq

import (
	"context"
	"fmt"
)

// Имена очередей.
const (
	// QueueEmailJobs — единственная известная очередь задач отправки писем.
	QueueEmailJobs = "email.jobs"
)

// SetupTopology объявляет все durable очереди сервиса.
func SetupTopology(ctx context.Context, g *Gateway, queues ...string) error {
	if len(queues) == 0 {
		queues = []string{QueueEmailJobs}
	}

	for _, q := range queues {
		if err := g.DeclareQueue(ctx, q); err != nil {
			return fmt.Errorf("setup topology: %w", err)
		}
	}

	return nil
}
