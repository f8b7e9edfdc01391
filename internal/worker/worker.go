package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/mailqueue/internal/domain"
	"github.com/shaiso/mailqueue/internal/mq"
)

// Default configuration values.
const (
	defaultMaxAttempts  = 3
	defaultRequeueDelay = 5 * time.Minute
)

// JobStore — хранилище записей задач.
// Update выполняет compare-and-swap по версии записи.
type JobStore interface {
	GetByID(ctx context.Context, id string) (*domain.EmailJob, error)
	Update(ctx context.Context, job *domain.EmailJob) error
	PublishMarker
}

// PublishMarker отмечает, что сообщение задачи принято брокером.
// Отметка применяется, только если version записи не изменилась.
type PublishMarker interface {
	MarkPublished(ctx context.Context, id string, version int) error
}

// Publisher публикует сообщение в очередь. Реализуется *mq.Gateway.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload any) error
}

// Worker потребляет задачи отправки писем из очереди.
//
// Для каждой задачи воркер выбирает отправителя по типу письма,
// фиксирует результат в БД и при неудаче планирует повторную публикацию
// с задержкой, пока не исчерпаны попытки.
type Worker struct {
	store    JobStore
	gateway  *mq.Gateway
	registry *Registry
	requeue  *RequeueScheduler

	queue       string
	maxAttempts int
	now         func() time.Time

	logger *slog.Logger

	mu      sync.Mutex
	sub     *mq.Subscription
	stopped bool
}

// Config — конфигурация Worker.
type Config struct {
	// Store — хранилище записей задач. Обязателен.
	Store JobStore

	// Gateway — шлюз очереди для потребления. Обязателен для Start.
	Gateway *mq.Gateway

	// Publisher — куда публиковать повторные попытки (default: Gateway).
	Publisher Publisher

	// Registry — отправители по типу письма. Обязателен.
	Registry *Registry

	// Queue — очередь задач (default: mq.QueueEmailJobs).
	Queue string

	// MaxAttempts — максимум попыток отправки (default: 3).
	MaxAttempts int

	// RequeueDelay — задержка перед повторной публикацией (default: 5m).
	RequeueDelay time.Duration

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	queue := cfg.Queue
	if queue == "" {
		queue = mq.QueueEmailJobs
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	delay := cfg.RequeueDelay
	if delay <= 0 {
		delay = defaultRequeueDelay
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var publisher Publisher = cfg.Publisher
	if publisher == nil && cfg.Gateway != nil {
		publisher = cfg.Gateway
	}

	return &Worker{
		store:       cfg.Store,
		gateway:     cfg.Gateway,
		registry:    cfg.Registry,
		requeue:     NewRequeueScheduler(publisher, cfg.Store, delay, logger),
		queue:       queue,
		maxAttempts: maxAttempts,
		now:         time.Now,
		logger:      logger,
	}
}

// Start регистрирует consumer очереди задач.
//
// Если брокер недоступен, возвращает ошибку, обёрнутую вокруг
// mq.ErrNotConnected. Процесс при этом может продолжать работу.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrWorkerStopped
	}
	if w.gateway == nil {
		return fmt.Errorf("start worker: %w", mq.ErrNotConnected)
	}

	sub, err := mq.Consume(ctx, w.gateway, w.queue, domain.DecodeJobMessage, w.handleJob)
	if err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	w.sub = sub

	w.logger.Info("worker started",
		"queue", w.queue,
		"max_attempts", w.maxAttempts,
		"requeue_delay", w.requeue.delay,
	)
	return nil
}

// Stop останавливает consumer и отменяет запланированные повторы.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	sub := w.sub
	w.mu.Unlock()

	w.logger.Info("stopping worker...")

	if sub != nil {
		sub.Stop()
		<-sub.Done()
	}
	w.requeue.Stop()

	w.logger.Info("worker stopped")
}

// PendingRequeues возвращает число отложенных повторных публикаций.
func (w *Worker) PendingRequeues() int {
	return w.requeue.Pending()
}
