package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/RezaEskandarii/keyfire/custom_errors"
	"github.com/RezaEskandarii/keyfire/internal/state"
	"github.com/RezaEskandarii/keyfire/types"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// MockJobStore is a mock implementation of store.JobStore for testing.
// Methods without an override operate on an in-memory table that honors
// the version check of the real store.
type MockJobStore struct {
	CreateFunc                      func(ctx context.Context, job *types.Job) error
	GetByIDFunc                     func(ctx context.Context, id uuid.UUID) (*types.Job, error)
	UpdateFunc                      func(ctx context.Context, job *types.Job) error
	FetchDueFunc                    func(ctx context.Context, now time.Time, statuses []state.JobStatus) ([]types.Job, error)
	GetAllFunc                      func(ctx context.Context, page int, pageSize int, status state.JobStatus) (*types.PaginationResult[types.Job], error)
	CountAllJobsGroupedByStatusFunc func(ctx context.Context) (map[state.JobStatus]int, error)
	CloseFunc                       func() error

	mu   sync.Mutex
	jobs map[uuid.UUID]types.Job
}

func (m *MockJobStore) Create(ctx context.Context, job *types.Job) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Version = 1
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	m.jobs[job.ID] = *job
	return nil
}

func (m *MockJobStore) GetByID(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, errors.Wrapf(custom_errors.ErrJobNotFound, "job %s", id)
	}
	return &job, nil
}

func (m *MockJobStore) Update(ctx context.Context, job *types.Job) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.jobs[job.ID]
	if !ok {
		return errors.Wrapf(custom_errors.ErrJobNotFound, "job %s", job.ID)
	}
	if stored.Version != job.Version {
		return errors.Wrapf(custom_errors.ErrVersionConflict, "job %s at version %d", job.ID, job.Version)
	}
	job.Version++
	job.UpdatedAt = time.Now()
	m.jobs[job.ID] = *job
	return nil
}

func (m *MockJobStore) FetchDue(ctx context.Context, now time.Time, statuses []state.JobStatus) ([]types.Job, error) {
	if m.FetchDueFunc != nil {
		return m.FetchDueFunc(ctx, now, statuses)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	due := []types.Job{}
	for _, job := range m.jobs {
		if job.IsDue(now, statuses) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRun.Before(*due[j].NextRun) })
	return due, nil
}

func (m *MockJobStore) GetAll(ctx context.Context, page int, pageSize int, status state.JobStatus) (*types.PaginationResult[types.Job], error) {
	if m.GetAllFunc != nil {
		return m.GetAllFunc(ctx, page, pageSize, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []types.Job
	for _, job := range m.jobs {
		if status == "" || job.Status == status {
			all = append(all, job)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	return types.NewPaginationResult(all[start:end], len(all), page, pageSize), nil
}

func (m *MockJobStore) CountAllJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	if m.CountAllJobsGroupedByStatusFunc != nil {
		return m.CountAllJobsGroupedByStatusFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[state.JobStatus]int)
	for _, s := range state.AllStatuses {
		counts[s] = 0
	}
	for _, job := range m.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (m *MockJobStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Put stores job as is, bypassing versioning. Useful to arrange fixtures.
func (m *MockJobStore) Put(job types.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.jobs[job.ID] = job
}

// Count returns the number of stored jobs.
func (m *MockJobStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *MockJobStore) init() {
	if m.jobs == nil {
		m.jobs = make(map[uuid.UUID]types.Job)
	}
}
