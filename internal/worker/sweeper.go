package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/mailqueue/internal/domain"
	"github.com/shaiso/mailqueue/internal/mq"
	"github.com/shaiso/mailqueue/internal/telemetry"
)

// Default sweeper configuration.
const (
	DefaultSweepSchedule = "*/5 * * * *"
	defaultStaleAfter    = 10 * time.Minute
	defaultSweepBatch    = 100
	sweepTimeout         = time.Minute
)

// cronParser — парсер стандартных cron-выражений из пяти полей.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// StaleStore — выборка задач, сообщений которых нет в брокере.
type StaleStore interface {
	ListStale(ctx context.Context, before time.Time, maxAttempts, limit int) ([]domain.EmailJob, error)
	PublishMarker
}

// StateReporter сообщает состояние соединения с брокером.
type StateReporter interface {
	State() mq.ConnectionState
}

// SweeperConfig — конфигурация Sweeper.
type SweeperConfig struct {
	Store     StaleStore
	Publisher Publisher
	Broker    StateReporter

	// Queue — очередь задач (default: mq.QueueEmailJobs).
	Queue string

	// Schedule — cron-выражение (default: каждые 5 минут).
	Schedule string

	// StaleAfter — сколько ждать публикации: для queued задачи от последнего
	// обновления, для failed от next_attempt_at (default: 10m).
	StaleAfter time.Duration

	// MaxAttempts — failed задачи с меньшим числом попыток ещё повторяются
	// (default: 3).
	MaxAttempts int

	// BatchSize — задач за один проход (default: 100).
	BatchSize int

	Logger *slog.Logger
}

// Sweeper публикует задачи, сообщения которых так и не попали в брокер:
//   - queued задачи, чья первичная публикация не удалась;
//   - failed задачи с оставшимися попытками, чей отложенный повтор потерян
//     (процесс остановился или брокер не принял публикацию).
//
// Задачи с published_at не трогаются: их сообщение уже в очереди.
type Sweeper struct {
	store       StaleStore
	publisher   Publisher
	broker      StateReporter
	queue       string
	schedule    cron.Schedule
	staleAfter  time.Duration
	maxAttempts int
	batchSize   int
	logger      *slog.Logger

	cron *cron.Cron
	now  func() time.Time
}

// NewSweeper создаёт Sweeper. Ошибка — только для некорректного cron-выражения.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	expr := cfg.Schedule
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}

	queue := cfg.Queue
	if queue == "" {
		queue = mq.QueueEmailJobs
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		store:       cfg.Store,
		publisher:   cfg.Publisher,
		broker:      cfg.Broker,
		queue:       queue,
		schedule:    schedule,
		staleAfter:  staleAfter,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Start запускает проходы по расписанию.
func (s *Sweeper) Start() {
	s.cron = cron.New()
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
	}))
	s.cron.Start()
	s.logger.Info("sweeper started", "stale_after", s.staleAfter)
}

// Stop останавливает расписание и ждёт текущий проход.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep выполняет один проход и возвращает число опубликованных задач.
//
// Если брокер не подключён, проход пропускается целиком.
// Ошибка публикации одной задачи прерывает проход: остальные
// всё равно не будут опубликованы.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.broker != nil && s.broker.State() != mq.StateConnected {
		s.logger.Debug("broker not connected, sweep skipped")
		return 0, nil
	}

	before := s.now().Add(-s.staleAfter)
	jobs, err := s.store.ListStale(ctx, before, s.maxAttempts, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	s.logger.Debug("found stale jobs", "count", len(jobs))

	published := 0
	for i := range jobs {
		job := &jobs[i]

		msg, err := job.Message()
		if err != nil {
			s.logger.Error("failed to build job message", "job_id", job.ID, "error", err)
			continue
		}

		if err := s.publisher.Publish(ctx, s.queue, msg); err != nil {
			return published, fmt.Errorf("republish job %s: %w", job.ID, err)
		}
		published++
		telemetry.SweptJobs.Inc()

		if err := s.store.MarkPublished(ctx, job.ID, job.Version); err != nil {
			s.logger.Warn("failed to mark job published", "job_id", job.ID, "error", err)
		}
	}

	s.logger.Info("stale jobs republished", "count", published)
	return published, nil
}
