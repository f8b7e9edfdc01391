package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/mailqueue/internal/domain"
	"github.com/shaiso/mailqueue/internal/mq"
	"github.com/shaiso/mailqueue/internal/repo"
	"github.com/shaiso/mailqueue/internal/worker"
)

// JobEnqueuer ставит письмо в очередь. Реализуется *worker.Enqueuer.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, kind domain.JobKind, destination string, data map[string]any) (*domain.EmailJob, error)
}

// JobReader читает задачу. Реализуется *repo.JobRepo.
type JobReader interface {
	GetByID(ctx context.Context, id string) (*domain.EmailJob, error)
}

// Broker — проверка соединения с брокером. Реализуется *mq.Supervisor.
type Broker interface {
	Init(ctx context.Context) bool
	HealthCheck(ctx context.Context) bool
	State() mq.ConnectionState
}

// Фабрики зависимостей. Вторым значением возвращается функция освобождения
// ресурсов, её нужно вызвать после выполнения команды.
type (
	EnqueuerFn func(ctx context.Context) (JobEnqueuer, func(), error)
	ReaderFn   func(ctx context.Context) (JobReader, func(), error)
	BrokerFn   func(ctx context.Context) (Broker, func(), error)
)

// ErrUnhealthy — брокер недоступен.
var ErrUnhealthy = errors.New("broker unhealthy")

// NewEnqueueCmd создаёт команду постановки письма в очередь.
func NewEnqueueCmd(enqueuerFn EnqueuerFn, outputFn func() *Output) *cobra.Command {
	var kind string
	var to string
	var data []string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue an email job",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			fields, err := parseData(data)
			if err != nil {
				return err
			}

			enqueuer, release, err := enqueuerFn(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			job, err := enqueuer.Enqueue(cmd.Context(), domain.JobKind(kind), to, fields)
			if job == nil {
				return err
			}

			queued := "yes"
			if err != nil {
				queued = "no"
				out.Error(err.Error())
			} else {
				out.Success(fmt.Sprintf("Job enqueued: %s", job.ID))
			}

			out.Print(
				[]string{"ID", "KIND", "TO", "STATUS", "QUEUED"},
				[][]string{{job.ID, string(job.Kind), job.Destination, string(job.Status), queued}},
				map[string]any{"job": job, "queued": err == nil},
			)
			return err
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(domain.JobKindGeneric), "Email kind (transactional, welcome, password_reset, notification, generic)")
	cmd.Flags().StringVar(&to, "to", "", "Recipient address")
	cmd.Flags().StringSliceVar(&data, "data", nil, "Payload fields as KEY=VALUE (repeatable)")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

// NewJobCmd создаёт группу команд для просмотра задач.
func NewJobCmd(readerFn ReaderFn, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect email jobs",
	}

	cmd.AddCommand(newJobShowCmd(readerFn, outputFn))
	return cmd
}

func newJobShowCmd(readerFn ReaderFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show JOB_ID",
		Short: "Show job details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			reader, release, err := readerFn(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			job, err := reader.GetByID(cmd.Context(), args[0])
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("job %s not found", args[0])
			}
			if err != nil {
				return err
			}


			out.Record([][2]string{
				{"ID", job.ID},
				{"Kind", string(job.Kind)},
				{"To", job.Destination},
				{"Status", string(job.Status)},
				{"Retries", strconv.Itoa(job.RetryCount)},
				{"Sent at", formatTime(job.SentAt)},
				{"Published at", formatTime(job.PublishedAt)},
				{"Next attempt", formatTime(job.NextAttemptAt)},
				{"Error", orDash(job.ErrorMessage)},
				{"Created", job.CreatedAt.Format(time.RFC3339)},
				{"Updated", job.UpdatedAt.Format(time.RFC3339)},
			}, job)
			return nil
		},
	}
}

// NewHealthCmd создаёт команду проверки брокера.
// Команда завершается ошибкой, если брокер недоступен.
func NewHealthCmd(brokerFn BrokerFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check broker connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			broker, release, err := brokerFn(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			healthy := broker.Init(cmd.Context()) && broker.HealthCheck(cmd.Context())
			state := broker.State()

			out.Record([][2]string{
				{"State", state.String()},
				{"Healthy", strconv.FormatBool(healthy)},
			}, map[string]any{"state": state, "healthy": healthy})

			if !healthy {
				return fmt.Errorf("%w: %s", ErrUnhealthy, state)
			}
			return nil
		},
	}
}

// parseData разбирает пары KEY=VALUE.
func parseData(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	data := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid data format %q, expected KEY=VALUE", kv)
		}
		data[parts[0]] = parts[1]
	}
	return data, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

var (
	_ JobEnqueuer = (*worker.Enqueuer)(nil)
	_ JobReader   = (*repo.JobRepo)(nil)
	_ Broker      = (*mq.Supervisor)(nil)
)
