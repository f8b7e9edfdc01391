package sender

import (
	"context"

	"github.com/shaiso/mailqueue/internal/domain"
	"github.com/shaiso/mailqueue/internal/telemetry"
)

// LogSender пишет письмо в лог вместо отправки. Всегда успешен.
// Логгер берётся из контекста.
type LogSender struct{}

// NewLogSender создаёт LogSender.
func NewLogSender() *LogSender {
	return &LogSender{}
}

// Send логирует письмо.
func (s *LogSender) Send(ctx context.Context, destination string, msg domain.JobMessage) error {
	telemetry.FromContext(ctx).Info("dry-run email",
		"job_id", msg.JobID,
		"kind", msg.Kind,
		"to", destination,
		"payload", msg.Payload,
	)
	return nil
}
