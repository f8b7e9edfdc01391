// mailqueue CLI — постановка писем в очередь и диагностика.
//
// Использование:
//
//	mailqueue [--json] <command> [flags]
//
// Команды:
//
//	enqueue   Поставить письмо в очередь
//	job       Просмотр задач
//	health    Проверка соединения с брокером
//
// Настройки подключения берутся из тех же переменных окружения,
// что и у воркера (RABBITMQ_URL, DB_URL, JOB_QUEUE, ...).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/shaiso/mailqueue/internal/cli"
	"github.com/shaiso/mailqueue/internal/config"
	"github.com/shaiso/mailqueue/internal/mq"
	"github.com/shaiso/mailqueue/internal/repo"
	"github.com/shaiso/mailqueue/internal/telemetry"
	"github.com/shaiso/mailqueue/internal/worker"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "mailqueue",
		Short:         "mailqueue CLI: email job queue tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewEnqueueCmd(newEnqueuer, outputFn),
		cli.NewJobCmd(newReader, outputFn),
		cli.NewHealthCmd(newBroker, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openDB(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	return repo.NewPool(ctx, cfg.DBURL)
}

func supervisorFor(cfg config.Config) *mq.Supervisor {
	return mq.NewSupervisor(mq.SupervisorConfig{
		URL:         cfg.RabbitMQURL,
		MaxAttempts: cfg.ConnectAttempts,
		RetryDelay:  cfg.ConnectDelay,
		Logger:      telemetry.SetupLogger(),
	})
}

func newEnqueuer(ctx context.Context) (cli.JobEnqueuer, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	pool, err := openDB(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	logger := telemetry.SetupLogger()
	supervisor := supervisorFor(cfg)
	gateway := mq.NewGateway(mq.GatewayConfig{Supervisor: supervisor, Logger: logger})

	// Если брокер недоступен, задача всё равно сохраняется:
	// Enqueue вернёт ErrNotEnqueued, а sweeper воркера опубликует её позже.
	if supervisor.Init(ctx) {
		_ = gateway.DeclareQueue(ctx, cfg.JobQueue)
	}

	release := func() {
		_ = supervisor.Close()
		pool.Close()
	}

	jobRepo := repo.NewJobRepo(pool)
	return worker.NewEnqueuer(jobRepo, gateway, cfg.JobQueue, logger), release, nil
}

func newReader(ctx context.Context) (cli.JobReader, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	pool, err := openDB(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return repo.NewJobRepo(pool), pool.Close, nil
}

func newBroker(_ context.Context) (cli.Broker, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	supervisor := supervisorFor(cfg)
	return supervisor, func() { _ = supervisor.Close() }, nil
}
