package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shaiso/mailqueue/internal/domain"
)

// JobRepo — репозиторий для работы с email_jobs.
//
// Update использует optimistic locking по колонке version: если запись
// изменил другой consumer, возвращается ErrConflict.
type JobRepo struct {
	pool DB
}

// NewJobRepo создаёт новый JobRepo. Обычно pool — *pgxpool.Pool.
func NewJobRepo(pool DB) *JobRepo {
	return &JobRepo{pool: pool}
}

const jobColumns = `id, kind, destination, data, status, retry_count, sent_at, error_message,
	published_at, next_attempt_at, version, created_at, updated_at`

// Create создаёт новую задачу.
func (r *JobRepo) Create(ctx context.Context, job *domain.EmailJob) error {
	dataJSON, err := marshalData(job.Data)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO email_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		string(job.Kind),
		job.Destination,
		dataJSON,
		string(job.Status),
		job.RetryCount,
		job.SentAt,
		nullString(job.ErrorMessage),
		job.PublishedAt,
		job.NextAttemptAt,
		job.Version,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: job %s", ErrAlreadyExists, job.ID)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID возвращает задачу по ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*domain.EmailJob, error) {
	query := `SELECT ` + jobColumns + ` FROM email_jobs WHERE id = $1`
	return scanJob(r.pool.QueryRow(ctx, query, id))
}

// Update сохраняет статус, счётчик попыток, ошибку и расписание повтора.
//
// Обновление проходит, только если version в БД совпадает с job.Version.
// При успехе job.Version увеличивается.
func (r *JobRepo) Update(ctx context.Context, job *domain.EmailJob) error {
	now := time.Now().UTC()

	query := `
		UPDATE email_jobs
		SET status = $2, retry_count = $3, sent_at = $4, error_message = $5,
		    published_at = $6, next_attempt_at = $7,
		    version = version + 1, updated_at = $8
		WHERE id = $1 AND version = $9
	`
	tag, err := r.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.RetryCount,
		job.SentAt,
		nullString(job.ErrorMessage),
		job.PublishedAt,
		job.NextAttemptAt,
		now,
		job.Version,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, job.ID)
	}

	job.Version++
	job.UpdatedAt = now
	return nil
}

// MarkPublished отмечает, что брокер принял сообщение задачи.
//
// Запись меняется, только если version не изменилась с момента публикации:
// если попытка уже началась, отметка устарела и молча пропускается.
// version при этом не увеличивается.
func (r *JobRepo) MarkPublished(ctx context.Context, id string, version int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE email_jobs SET published_at = $3 WHERE id = $1 AND version = $2
	`, id, version, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark job published: %w", err)
	}
	return nil
}

// ListStale возвращает задачи, сообщения которых нет в брокере:
//   - queued задачи, публикация которых не удалась (published_at IS NULL)
//     и которые не обновлялись с before;
//   - failed задачи с оставшимися попытками, чей отложенный повтор так и не
//     был опубликован, хотя next_attempt_at раньше before.
func (r *JobRepo) ListStale(ctx context.Context, before time.Time, maxAttempts, limit int) ([]domain.EmailJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM email_jobs
		WHERE published_at IS NULL
		  AND (
		    (status = 'queued' AND updated_at < $1)
		    OR (status = 'failed' AND retry_count < $2 AND next_attempt_at < $1)
		  )
		ORDER BY created_at ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, before, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.EmailJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// missingOrConflict различает отсутствие записи и устаревшую версию.
func (r *JobRepo) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM email_jobs WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return fmt.Errorf("%w: job %s", ErrConflict, id)
}

// --- Helpers ---

func scanJob(row pgx.Row) (*domain.EmailJob, error) {
	var job domain.EmailJob
	var kind, status string
	var dataJSON []byte
	var errMsg *string

	err := row.Scan(
		&job.ID,
		&kind,
		&job.Destination,
		&dataJSON,
		&status,
		&job.RetryCount,
		&job.SentAt,
		&errMsg,
		&job.PublishedAt,
		&job.NextAttemptAt,
		&job.Version,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Kind = domain.JobKind(kind)
	job.Status = domain.JobStatus(status)
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &job.Data); err != nil {
			return nil, fmt.Errorf("unmarshal data: %w", err)
		}
	}
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}

	return &job, nil
}

func marshalData(data map[string]any) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	return b, nil
}

// nullString превращает пустую строку в NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
