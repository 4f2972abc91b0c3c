package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RezaEskandarii/keyfire/custom_errors"
	"github.com/RezaEskandarii/keyfire/internal/state"
	"github.com/RezaEskandarii/keyfire/types"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const jobColumns = `id, job_type, cron, last_run, next_run, status, data, error, version, created_at, updated_at`

// jobRow mirrors keyfire.jobs; nullable columns are decoded into types.Job by toJob.
type jobRow struct {
	ID        uuid.UUID      `db:"id"`
	JobType   string         `db:"job_type"`
	Cron      string         `db:"cron"`
	LastRun   *time.Time     `db:"last_run"`
	NextRun   *time.Time     `db:"next_run"`
	Status    string         `db:"status"`
	Data      []byte         `db:"data"`
	Error     sql.NullString `db:"error"`
	Version   int64          `db:"version"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r jobRow) toJob() types.Job {
	job := types.Job{
		ID:        r.ID,
		JobType:   r.JobType,
		Cron:      r.Cron,
		LastRun:   r.LastRun,
		NextRun:   r.NextRun,
		Status:    state.JobStatus(r.Status),
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Data) > 0 {
		job.Data = json.RawMessage(r.Data)
	}
	if r.Error.Valid {
		msg := r.Error.String
		job.Error = &msg
	}
	return job
}

type PostgresJobStore struct {
	db *sqlx.DB
}

func NewPostgresJobStore(db *sqlx.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

func (r *PostgresJobStore) Create(ctx context.Context, job *types.Job) error {
	query := `
		INSERT INTO keyfire.jobs (id, job_type, cron, last_run, next_run, status, data, error, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, now(), now())
		RETURNING version, created_at, updated_at
	`

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	err := r.db.QueryRowxContext(ctx, query,
		job.ID, job.JobType, job.Cron, job.LastRun, job.NextRun,
		job.Status.String(), nullableJSON(job.Data), job.Error,
	).Scan(&job.Version, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to insert job")
	}
	return nil
}

func (r *PostgresJobStore) GetByID(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	var row jobRow
	err := r.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM keyfire.jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(custom_errors.ErrJobNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load job %s", id)
	}
	job := row.toJob()
	return &job, nil
}

func (r *PostgresJobStore) Update(ctx context.Context, job *types.Job) error {
	query := `
		UPDATE keyfire.jobs
		SET job_type = $1,
		    cron = $2,
		    last_run = $3,
		    next_run = $4,
		    status = $5,
		    data = $6,
		    error = $7,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $8 AND version = $9
		RETURNING version, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		job.JobType, job.Cron, job.LastRun, job.NextRun, job.Status.String(),
		nullableJSON(job.Data), job.Error, job.ID, job.Version,
	).Scan(&job.Version, &job.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM keyfire.jobs WHERE id = $1)`, job.ID); err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}
	if !exists {
		return errors.Wrapf(custom_errors.ErrJobNotFound, "job %s", job.ID)
	}
	return errors.Wrapf(custom_errors.ErrVersionConflict, "job %s at version %d", job.ID, job.Version)
}

func (r *PostgresJobStore) FetchDue(ctx context.Context, now time.Time, statuses []state.JobStatus) ([]types.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM keyfire.jobs
		WHERE next_run <= $1 AND status = ANY($2)
		ORDER BY next_run ASC
	`

	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, query, now, pq.Array(statusStrings(statuses))); err != nil {
		return nil, errors.Wrap(err, "failed to fetch due jobs")
	}
	return toJobs(rows), nil
}

func (r *PostgresJobStore) GetAll(ctx context.Context, page int, pageSize int, status state.JobStatus) (*types.PaginationResult[types.Job], error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	var args []interface{}
	where := "TRUE"

	argIndex := 1
	if status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, status.String())
		argIndex++
	}

	countQuery := `SELECT COUNT(*) FROM keyfire.jobs WHERE ` + where
	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM keyfire.jobs
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, jobColumns, where, argIndex, argIndex+1)

	var totalItems int
	if err := r.db.GetContext(ctx, &totalItems, countQuery, args...); err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}

	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, selectQuery, append(args, pageSize, offset)...); err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}

	return types.NewPaginationResult(toJobs(rows), totalItems, page, pageSize), nil
}

func (r *PostgresJobStore) CountAllJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT status, COUNT(*) AS count
		FROM keyfire.jobs
		GROUP BY status
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	result := make(map[state.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		result[state.JobStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}

	for _, status := range state.AllStatuses {
		if _, ok := result[status]; !ok {
			result[status] = 0
		}
	}

	return result, nil
}

func (r *PostgresJobStore) Close() error {
	return r.db.Close()
}

func toJobs(rows []jobRow) []types.Job {
	jobs := make([]types.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toJob())
	}
	return jobs
}

func statusStrings(statuses []state.JobStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, s.String())
	}
	return out
}

// nullableJSON stores an absent payload as SQL NULL rather than the JSON literal.
func nullableJSON(data json.RawMessage) interface{} {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}
