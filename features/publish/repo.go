package publish

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"socialpublish/internal/apperr"
)

// ErrStateConflict means a transition found the job outside the state it
// requires, usually because another worker or lease recovery moved it.
var ErrStateConflict = errors.New("publish job is not in the expected state")

type Store interface {
	Enqueue(ctx context.Context, job NewJob) (string, error)
	FetchDue(ctx context.Context, limit int, userID string) ([]Job, error)
	Claim(ctx context.Context, id string, nextAttempt int) (bool, error)
	Complete(ctx context.Context, id string, c Completion) error
	ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time, errMsg, errCode string) error
	Fail(ctx context.Context, id string, errMsg, errCode string) error
	Get(ctx context.Context, id string) (*Job, error)
	ListHistory(ctx context.Context, userID, vertical string, limit int) ([]Job, error)
	RecoverStale(ctx context.Context, olderThan time.Time) (int, error)
}

const (
	jobColumns = `id, integration_id, user_id, listing_id, vertical, caption, image_url, status, media_id, creation_id, permalink, published_at, error, error_code, attempt_count, max_attempts, next_retry_at, last_attempt_at, created_at, updated_at`

	enqueueQuery = `INSERT INTO publish_jobs (integration_id, user_id, listing_id, vertical, caption, image_url, status, attempt_count, max_attempts) VALUES ($1, $2, $3, $4, $5, $6, 'queued', 0, $7) RETURNING id`

	fetchDueQuery = `SELECT ` + jobColumns + ` FROM publish_jobs WHERE status IN ('queued', 'retrying') AND (next_retry_at IS NULL OR next_retry_at <= NOW()) AND ($2 = '' OR user_id = $2) ORDER BY created_at ASC LIMIT $1`

	claimQuery = `UPDATE publish_jobs SET status = 'processing', attempt_count = $2, last_attempt_at = NOW(), error = NULL, error_code = NULL, next_retry_at = NULL, updated_at = NOW() WHERE id = $1 AND status IN ('queued', 'retrying') AND attempt_count + 1 = $2 AND $2 <= max_attempts RETURNING id`

	completeQuery = `UPDATE publish_jobs SET status = 'published', media_id = $2, creation_id = $3, permalink = $4, published_at = $5, error = NULL, error_code = NULL, next_retry_at = NULL, updated_at = NOW() WHERE id = $1 AND status = 'processing'`

	scheduleRetryQuery = `UPDATE publish_jobs SET status = 'retrying', next_retry_at = $2, error = $3, error_code = $4, updated_at = NOW() WHERE id = $1 AND status = 'processing'`

	failQuery = `UPDATE publish_jobs SET status = 'failed', error = $2, error_code = $3, next_retry_at = NULL, updated_at = NOW() WHERE id = $1 AND status NOT IN ('published', 'failed')`

	getJobQuery = `SELECT ` + jobColumns + ` FROM publish_jobs WHERE id = $1`

	historyQuery = `SELECT ` + jobColumns + ` FROM publish_jobs WHERE user_id = $1 AND ($2 = '' OR vertical = $2) ORDER BY created_at DESC LIMIT $3`

	recoverStaleQuery = `UPDATE publish_jobs SET status = CASE WHEN attempt_count >= max_attempts THEN 'failed' ELSE 'retrying' END, next_retry_at = CASE WHEN attempt_count >= max_attempts THEN NULL ELSE NOW() END, error = 'processing lease expired', error_code = 'stale_processing', updated_at = NOW() WHERE status = 'processing' AND last_attempt_at < $1`

	countByStatusQuery = `SELECT status, COUNT(*) FROM publish_jobs WHERE user_id = $1 GROUP BY status`
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Enqueue(ctx context.Context, job NewJob) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, enqueueQuery,
		nullString(job.IntegrationID),
		job.UserID,
		nullString(job.ListingID),
		nullString(job.Vertical),
		job.Caption,
		job.ImageURL,
		job.MaxAttempts,
	).Scan(&id)
	return id, err
}

// FetchDue lists queued or retrying jobs whose retry time has passed, oldest
// first. An empty userID matches every user.
func (r *PostgresRepo) FetchDue(ctx context.Context, limit int, userID string) ([]Job, error) {
	return r.list(ctx, fetchDueQuery, limit, userID)
}

// Claim moves the job into processing for the given attempt. It reports false
// when the job was not claimable, which includes losing a race to another
// worker.
func (r *PostgresRepo) Claim(ctx context.Context, id string, nextAttempt int) (bool, error) {
	var claimed string
	err := r.db.QueryRowContext(ctx, claimQuery, id, nextAttempt).Scan(&claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *PostgresRepo) Complete(ctx context.Context, id string, c Completion) error {
	return r.transition(ctx, completeQuery, id, c.MediaID, nullString(c.CreationID), nullString(c.Permalink), nullTime(c.PublishedAt))
}

func (r *PostgresRepo) ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time, errMsg, errCode string) error {
	return r.transition(ctx, scheduleRetryQuery, id, nextRetryAt, errMsg, nullString(errCode))
}

func (r *PostgresRepo) Fail(ctx context.Context, id string, errMsg, errCode string) error {
	return r.transition(ctx, failQuery, id, errMsg, nullString(errCode))
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	return scanJob(r.db.QueryRowContext(ctx, getJobQuery, id))
}

func (r *PostgresRepo) ListHistory(ctx context.Context, userID, vertical string, limit int) ([]Job, error) {
	return r.list(ctx, historyQuery, userID, vertical, limit)
}

// RecoverStale releases jobs left in processing since before olderThan. They
// become retrying and due immediately, or failed once attempts are used up.
func (r *PostgresRepo) RecoverStale(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, recoverStaleQuery, olderThan)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountByStatus returns the user's job totals keyed by status. Statuses with no
// jobs are absent.
func (r *PostgresRepo) CountByStatus(ctx context.Context, userID string) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, countByStatusQuery, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *PostgresRepo) transition(ctx context.Context, query, id string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStateConflict
	}
	return nil
}

func (r *PostgresRepo) list(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		j                                               Job
		status                                          string
		integrationID, listingID, vertical              sql.NullString
		mediaID, creationID, permalink, errMsg, errCode sql.NullString
		publishedAt, nextRetryAt, lastAttemptAt         sql.NullTime
	)
	err := row.Scan(
		&j.ID, &integrationID, &j.UserID, &listingID, &vertical, &j.Caption, &j.ImageURL, &status,
		&mediaID, &creationID, &permalink, &publishedAt, &errMsg, &errCode,
		&j.AttemptCount, &j.MaxAttempts, &nextRetryAt, &lastAttemptAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	j.Status = Status(status)
	j.IntegrationID = integrationID.String
	j.ListingID = listingID.String
	j.Vertical = vertical.String
	j.MediaID = mediaID.String
	j.CreationID = creationID.String
	j.Permalink = permalink.String
	j.Error = errMsg.String
	j.ErrorCode = errCode.String
	j.PublishedAt = timePtr(publishedAt)
	j.NextRetryAt = timePtr(nextRetryAt)
	j.LastAttemptAt = timePtr(lastAttemptAt)
	return &j, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
