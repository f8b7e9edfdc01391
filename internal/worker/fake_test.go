package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shaiso/mailqueue/internal/domain"
	"github.com/shaiso/mailqueue/internal/mq"
	"github.com/shaiso/mailqueue/internal/repo"
)

// fakeStore — хранилище задач в памяти с проверкой версии, как в repo.JobRepo.
type fakeStore struct {
	mu      sync.Mutex
	jobs    map[string]domain.EmailJob
	getErr  error
	updErr  error
	updates int
	marked  []string
}

func newFakeStore(jobs ...*domain.EmailJob) *fakeStore {
	s := &fakeStore{jobs: make(map[string]domain.EmailJob)}
	for _, j := range jobs {
		s.jobs[j.ID] = *j
	}
	return s
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*domain.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	j, ok := s.jobs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &j, nil
}

func (s *fakeStore) Update(_ context.Context, job *domain.EmailJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updErr != nil {
		return s.updErr
	}
	cur, ok := s.jobs[job.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if cur.Version != job.Version {
		return repo.ErrConflict
	}
	job.Version++
	s.jobs[job.ID] = *job
	s.updates++
	return nil
}

func (s *fakeStore) Create(_ context.Context, job *domain.EmailJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return repo.ErrAlreadyExists
	}
	s.jobs[job.ID] = *job
	return nil
}

// ListStale повторяет условие выборки repo.JobRepo.ListStale.
func (s *fakeStore) ListStale(_ context.Context, before time.Time, maxAttempts, limit int) ([]domain.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EmailJob
	for _, j := range s.jobs {
		if j.PublishedAt != nil || len(out) >= limit {
			continue
		}
		queued := j.Status == domain.JobStatusQueued && j.UpdatedAt.Before(before)
		lostRetry := j.Status == domain.JobStatusFailed && j.RetryCount < maxAttempts &&
			j.NextAttemptAt != nil && j.NextAttemptAt.Before(before)
		if queued || lostRetry {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkPublished(_ context.Context, id string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Version != version {
		return nil
	}
	now := time.Now().UTC()
	j.PublishedAt = &now
	s.jobs[id] = j
	s.marked = append(s.marked, id)
	return nil
}

func (s *fakeStore) job(id string) domain.EmailJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// fakeSender возвращает ошибки из очереди errs, потом успех.
type fakeSender struct {
	mu    sync.Mutex
	errs  []error
	calls int
	sent  int
	panic bool
}

func (s *fakeSender) Send(_ context.Context, _ string, _ domain.JobMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panic {
		panic("sender exploded")
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	s.sent++
	return nil
}

func (s *fakeSender) stats() (calls, sent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.sent
}

// fakePublisher складывает опубликованные сообщения в канал.
type fakePublisher struct {
	mu        sync.Mutex
	err       error
	published []published
	ch        chan domain.JobMessage
}

type published struct {
	queue string
	msg   domain.JobMessage
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{ch: make(chan domain.JobMessage, 16)}
}

func (p *fakePublisher) Publish(_ context.Context, queue string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	msg, ok := payload.(domain.JobMessage)
	if !ok {
		return errors.New("unexpected payload type")
	}
	p.published = append(p.published, published{queue: queue, msg: msg})
	p.ch <- msg
	return nil
}

func (p *fakePublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type fakeBroker struct {
	state mq.ConnectionState
}

func (b fakeBroker) State() mq.ConnectionState { return b.state }
