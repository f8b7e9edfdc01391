package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/mailqueue/internal/domain"
	"github.com/shaiso/mailqueue/internal/telemetry"
)

// RequeueScheduler откладывает повторную публикацию сообщений.
//
// На каждую запланированную публикацию заводится таймер. Stop отменяет
// все ещё не сработавшие таймеры и дожидается уже начатых публикаций.
// Таймеры живут только в памяти: повтор, отменённый Stop или не принятый
// брокером, остаётся в записи задачи без published_at и подхватывается Sweeper.
type RequeueScheduler struct {
	publisher Publisher
	marker    PublishMarker
	delay     time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	timers  map[uint64]*time.Timer
	nextID  uint64
	stopped bool
}

// NewRequeueScheduler создаёт планировщик с фиксированной задержкой.
// marker может быть nil: тогда успешная публикация не отмечается в записи.
func NewRequeueScheduler(publisher Publisher, marker PublishMarker, delay time.Duration, logger *slog.Logger) *RequeueScheduler {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RequeueScheduler{
		publisher: publisher,
		marker:    marker,
		delay:     delay,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		timers:    make(map[uint64]*time.Timer),
	}
}

// Schedule планирует однократную публикацию msg в queue через delay.
// version — версия записи задачи после неудачной попытки.
// После Stop возвращает false и ничего не планирует.
func (s *RequeueScheduler) Schedule(queue string, msg domain.JobMessage, version int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}

	s.nextID++
	id := s.nextID

	s.wg.Add(1)
	s.timers[id] = time.AfterFunc(s.delay, func() {
		defer s.wg.Done()
		s.fire(id, queue, msg, version)
	})
	telemetry.RequeuesPending.Inc()

	s.logger.Debug("requeue scheduled",
		"job_id", msg.JobID,
		"queue", queue,
		"delay", s.delay,
	)
	return true
}

func (s *RequeueScheduler) fire(id uint64, queue string, msg domain.JobMessage, version int) {
	s.mu.Lock()
	if _, ok := s.timers[id]; !ok {
		// отменён через Stop
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()
	telemetry.RequeuesPending.Dec()

	if s.publisher == nil {
		s.logger.Error("no publisher, requeue dropped", "job_id", msg.JobID)
		return
	}
	if err := s.publisher.Publish(s.ctx, queue, msg); err != nil {
		s.logger.Error("failed to requeue job",
			"job_id", msg.JobID,
			"queue", queue,
			"error", err,
		)
		return
	}

	s.logger.Info("job requeued", "job_id", msg.JobID, "queue", queue)

	if s.marker == nil {
		return
	}
	if err := s.marker.MarkPublished(s.ctx, msg.JobID, version); err != nil {
		s.logger.Warn("failed to mark requeued job published", "job_id", msg.JobID, "error", err)
	}
}

// Pending возвращает число запланированных, но ещё не выполненных публикаций.
func (s *RequeueScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop отменяет все запланированные публикации. Идемпотентен.
func (s *RequeueScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true

	for id, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
		telemetry.RequeuesPending.Dec()
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
