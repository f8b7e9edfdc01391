// mailqueue worker — отправляет письма из очереди задач.
//
// Worker:
//   - Подключается к RabbitMQ с ограниченным числом попыток
//   - Потребляет email.jobs и отправляет письма через провайдера
//   - Повторяет неудачные отправки отложенной публикацией
//   - Периодически публикует зависшие queued задачи
//
// Без брокера процесс не завершается: /healthz сообщает о деградации.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/shaiso/mailqueue/internal/api"
	"github.com/shaiso/mailqueue/internal/config"
	"github.com/shaiso/mailqueue/internal/domain"
	"github.com/shaiso/mailqueue/internal/mq"
	"github.com/shaiso/mailqueue/internal/repo"
	"github.com/shaiso/mailqueue/internal/sender"
	"github.com/shaiso/mailqueue/internal/telemetry"
	"github.com/shaiso/mailqueue/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting mailqueue-worker")

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		// Без ключа провайдера отправки будут падать, но очередь продолжает работать.
		logger.Error("configuration error", "error", err)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	jobRepo := repo.NewJobRepo(pool)

	// RabbitMQ
	supervisor := mq.NewSupervisor(mq.SupervisorConfig{
		URL:         cfg.RabbitMQURL,
		MaxAttempts: cfg.ConnectAttempts,
		RetryDelay:  cfg.ConnectDelay,
		Logger:      logger,
	})
	defer func() {
		if err := supervisor.Close(); err != nil {
			logger.Warn("failed to close broker connection", "error", err)
		}
	}()

	gateway := mq.NewGateway(mq.GatewayConfig{
		Supervisor: supervisor,
		Logger:     logger,
	})

	if supervisor.Init(ctx) {
		if err := mq.SetupTopology(ctx, gateway, cfg.JobQueue); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
	} else {
		logger.Warn("RabbitMQ not available, running degraded", "state", supervisor.State())
	}

	// Отправка писем
	var def sender.Sender
	if cfg.EmailDryRun {
		def = sender.NewLogSender()
		logger.Info("email dry-run mode enabled")
	} else {
		def = sender.NewHTTPSender(sender.HTTPConfig{
			URL:    cfg.EmailAPIURL,
			APIKey: cfg.EmailAPIKey,
			Templates: map[domain.JobKind]string{
				domain.JobKindWelcome:       "welcome",
				domain.JobKindPasswordReset: "password-reset",
				domain.JobKindNotification:  "notification",
			},
		})
	}

	// Создаём worker
	w := worker.New(worker.Config{
		Store:        jobRepo,
		Gateway:      gateway,
		Registry:     worker.NewRegistry(def),
		Queue:        cfg.JobQueue,
		MaxAttempts:  cfg.MaxAttempts,
		RequeueDelay: cfg.RequeueDelay,
		Logger:       logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Warn("worker not consuming", "error", err)
	}

	// Sweeper
	sweeper, err := worker.NewSweeper(worker.SweeperConfig{
		Store:       jobRepo,
		Publisher:   gateway,
		Broker:      gateway,
		Queue:       cfg.JobQueue,
		Schedule:    cfg.SweepCron,
		StaleAfter:  cfg.SweepStaleAfter,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create sweeper", "error", err)
		os.Exit(1)
	}
	sweeper.Start()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	api.NewHandler(api.Config{
		Broker:  supervisor,
		Metrics: promhttp.Handler(),
		Logger:  logger,
	}).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              ":" + cfg.WorkerPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}

	sweeper.Stop()
	w.Stop()
	logger.Info("mailqueue-worker stopped")
}
