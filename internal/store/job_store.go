package store

import (
	"context"
	"time"

	"github.com/RezaEskandarii/keyfire/internal/state"
	"github.com/RezaEskandarii/keyfire/types"
	"github.com/google/uuid"
)

// JobStore defines the interface for persisting jobs.
type JobStore interface {
	// Create inserts job and fills its store maintained fields (version, timestamps).
	Create(ctx context.Context, job *types.Job) error

	// GetByID returns custom_errors.ErrJobNotFound when no job has the id.
	GetByID(ctx context.Context, id uuid.UUID) (*types.Job, error)

	// Update saves job only if its stored version still equals job.Version,
	// then bumps job.Version. A stale version yields custom_errors.ErrVersionConflict.
	Update(ctx context.Context, job *types.Job) error

	// FetchDue returns jobs with next_run <= now whose status is one of statuses,
	// oldest next_run first.
	FetchDue(ctx context.Context, now time.Time, statuses []state.JobStatus) ([]types.Job, error)

	GetAll(ctx context.Context, page int, pageSize int, status state.JobStatus) (*types.PaginationResult[types.Job], error)

	CountAllJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error)

	// Close closes the database
	Close() error
}
