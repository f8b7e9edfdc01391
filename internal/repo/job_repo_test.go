package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/mailqueue/internal/domain"
)

var testColumns = []string{
	"id", "kind", "destination", "data", "status", "retry_count", "sent_at", "error_message",
	"published_at", "next_attempt_at", "version", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*JobRepo, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})

	return NewJobRepo(mock), mock
}

func TestJobRepo_GetByID(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sentAt := created.Add(time.Minute)

	mock.ExpectQuery(`SELECT .+ FROM email_jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(testColumns).AddRow(
			"job-1", "welcome", "x@y.com", []byte(`{"name":"Ann"}`), "sent", 2,
			&sentAt, nil, &created, nil, 3, created, sentAt,
		))

	job, err := repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, domain.JobKindWelcome, job.Kind)
	assert.Equal(t, domain.JobStatusSent, job.Status)
	assert.Equal(t, 2, job.RetryCount)
	assert.Equal(t, 3, job.Version)
	assert.Equal(t, "Ann", job.Data["name"])
	require.NotNil(t, job.SentAt)
	assert.True(t, sentAt.Equal(*job.SentAt))
	require.NotNil(t, job.PublishedAt)
	assert.Nil(t, job.NextAttemptAt)
	assert.Empty(t, job.ErrorMessage)
}

func TestJobRepo_GetByID_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT .+ FROM email_jobs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobRepo_Create(t *testing.T) {
	repo, mock := newMockRepo(t)
	job := domain.NewEmailJob(domain.JobKindNotification, "x@y.com", map[string]any{"title": "Hi"})

	mock.ExpectExec(`INSERT INTO email_jobs`).
		WithArgs(job.ID, "notification", "x@y.com", []byte(`{"title":"Hi"}`), "queued", 0,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			0, job.CreatedAt, job.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), job))
}

func TestJobRepo_Create_Duplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	job := domain.NewEmailJob(domain.JobKindWelcome, "x@y.com", nil)

	mock.ExpectExec(`INSERT INTO email_jobs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	err := repo.Create(context.Background(), job)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestJobRepo_Update_BumpsVersion(t *testing.T) {
	repo, mock := newMockRepo(t)
	next := time.Now().Add(5 * time.Minute).UTC()
	job := &domain.EmailJob{
		ID: "job-1", Status: domain.JobStatusFailed, RetryCount: 1,
		ErrorMessage: "smtp down", NextAttemptAt: &next, Version: 4,
	}

	mock.ExpectExec(`(?s)UPDATE email_jobs\s+SET status = \$2.+next_attempt_at = \$7.+WHERE id = \$1 AND version = \$9`).
		WithArgs("job-1", "failed", 1, pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), &next, pgxmock.AnyArg(), 4).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.Update(context.Background(), job))
	assert.Equal(t, 5, job.Version)
	assert.False(t, job.UpdatedAt.IsZero())
}

func TestJobRepo_Update_Conflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	job := &domain.EmailJob{ID: "job-1", Status: domain.JobStatusSent, Version: 1}

	mock.ExpectExec(`UPDATE email_jobs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.Update(context.Background(), job)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, job.Version, "version must not change on conflict")
}

func TestJobRepo_Update_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	job := &domain.EmailJob{ID: "gone", Status: domain.JobStatusSent}

	mock.ExpectExec(`UPDATE email_jobs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("gone").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	err := repo.Update(context.Background(), job)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobRepo_Update_DBError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE email_jobs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err := repo.Update(context.Background(), &domain.EmailJob{ID: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestJobRepo_MarkPublished(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE email_jobs SET published_at = \$3 WHERE id = \$1 AND version = \$2`).
		WithArgs("a", 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.MarkPublished(context.Background(), "a", 2), "stale version is not an error")
}

func TestJobRepo_ListStale(t *testing.T) {
	repo, mock := newMockRepo(t)
	before := time.Now().Add(-10 * time.Minute)
	ts := before.Add(-time.Hour)

	mock.ExpectQuery(`(?s)WHERE published_at IS NULL.+status = 'queued' AND updated_at < \$1.+status = 'failed' AND retry_count < \$2 AND next_attempt_at < \$1`).
		WithArgs(before, 3, 50).
		WillReturnRows(pgxmock.NewRows(testColumns).
			AddRow("a", "welcome", "a@x.com", nil, "queued", 0, nil, nil, nil, nil, 0, ts, ts).
			AddRow("b", "generic", "b@x.com", []byte(`{"k":"v"}`), "failed", 1, nil, nil, nil, &ts, 1, ts, ts))

	jobs, err := repo.ListStale(context.Background(), before, 3, 50)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].ID)
	assert.Nil(t, jobs[0].Data)
	assert.Equal(t, domain.JobStatusFailed, jobs[1].Status)
	assert.Equal(t, "v", jobs[1].Data["k"])
	require.NotNil(t, jobs[1].NextAttemptAt)
}
