package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/RezaEskandarii/keyfire/custom_errors"
	"github.com/RezaEskandarii/keyfire/internal/logging"
	"github.com/RezaEskandarii/keyfire/internal/parser"
	"github.com/RezaEskandarii/keyfire/internal/state"
	"github.com/RezaEskandarii/keyfire/internal/store"
	"github.com/RezaEskandarii/keyfire/types"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxJobTypeLength = 100
	maxCronLength    = 255
)

var (
	// ErrAlreadyRunning is returned when a job is claimed while another run is in flight.
	ErrAlreadyRunning = errors.New("job is already running")
)

// Service owns the job lifecycle: creation, status transitions and due-job selection.
type Service struct {
	store       store.JobStore
	now         func() time.Time
	dueStatuses []state.JobStatus
	retries     int
	logger      *zap.SugaredLogger
}

type ServiceOption func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithRescheduleCompleted lets COMPLETED jobs become due again. Off by default:
// only PENDING and ERROR jobs are due.
func WithRescheduleCompleted(enabled bool) ServiceOption {
	return func(s *Service) {
		s.dueStatuses = state.DueStatuses(enabled)
	}
}

// WithStatusRetries bounds load-modify-save attempts on version conflicts.
func WithStatusRetries(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.retries = n
		}
	}
}

func WithLogger(logger *zap.SugaredLogger) ServiceOption {
	return func(s *Service) {
		s.logger = logging.OrNop(logger)
	}
}

func NewService(jobStore store.JobStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:       jobStore,
		now:         time.Now,
		dueStatuses: state.DueStatuses(false),
		retries:     3,
		logger:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DueStatuses returns the statuses GetDueJobs selects.
func (s *Service) DueStatuses() []state.JobStatus {
	return append([]state.JobStatus(nil), s.dueStatuses...)
}

// CreateJob validates the request, schedules the first run and persists the job as PENDING.
func (s *Service) CreateJob(ctx context.Context, req types.CreateJobRequest) (*types.Job, error) {
	req.JobType = strings.TrimSpace(req.JobType)
	req.Cron = strings.TrimSpace(req.Cron)

	validationErrs := &custom_errors.ValidationError{}
	if req.JobType == "" {
		validationErrs.Add(errors.New("jobType is required"))
	} else if len(req.JobType) > maxJobTypeLength {
		validationErrs.Add(errors.Newf("jobType must be at most %d characters", maxJobTypeLength))
	}
	if len(req.Cron) > maxCronLength {
		validationErrs.Add(errors.Newf("cron must be at most %d characters", maxCronLength))
	}
	if len(req.Data) > 0 && !json.Valid(req.Data) {
		validationErrs.Add(errors.New("data must be valid JSON"))
	}
	if validationErrs.HasError() {
		return nil, validationErrs
	}

	now := s.now()
	nextRun, err := parser.CalculateNextRun(req.Cron, now)
	if err != nil {
		return nil, err
	}

	job := &types.Job{
		ID:      uuid.New(),
		JobType: req.JobType,
		Cron:    req.Cron,
		NextRun: &nextRun,
		Status:  state.StatusPending,
		Data:    normalizeData(req.Data),
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Infow("job created", "job_id", job.ID, "job_type", job.JobType, "cron", job.Cron, "next_run", nextRun)
	return job, nil
}

// UpdateJobStatus sets status, and the error message when one is given. Reaching
// COMPLETED or ERROR stamps last_run with the current time and recomputes
// next_run from the cron expression relative to it.
func (s *Service) UpdateJobStatus(ctx context.Context, id uuid.UUID, status state.JobStatus, errMsg string) (*types.Job, error) {
	return s.modify(ctx, id, func(job *types.Job) error {
		if !state.IsValidTransition(job.Status, status) {
			s.logger.Warnw("unexpected job status transition", "job_id", job.ID, "from", job.Status, "to", status)
		}
		job.Status = status
		if errMsg != "" {
			job.Error = &errMsg
		}
		if status.IsTerminal() {
			return s.reschedule(job)
		}
		return nil
	})
}

// MarkRunning claims a due job for dispatch. A job that is no longer in a due
// status, for example because another poller claimed it, yields ErrAlreadyRunning.
func (s *Service) MarkRunning(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	return s.modify(ctx, id, func(job *types.Job) error {
		if !state.IsValidTransition(job.Status, state.StatusRunning) {
			return errors.Wrapf(ErrAlreadyRunning, "job %s is %s", job.ID, job.Status)
		}
		job.Status = state.StatusRunning
		return nil
	})
}

// GetDueJobs returns the jobs whose next run has arrived and whose status is due.
func (s *Service) GetDueJobs(ctx context.Context) ([]types.Job, error) {
	return s.store.FetchDue(ctx, s.now(), s.dueStatuses)
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, page, pageSize int, status state.JobStatus) (*types.PaginationResult[types.Job], error) {
	return s.store.GetAll(ctx, page, pageSize, status)
}

func (s *Service) CountJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	return s.store.CountAllJobsGroupedByStatus(ctx)
}

// RunNow makes a job due immediately. Running jobs are rejected.
func (s *Service) RunNow(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	return s.modify(ctx, id, func(job *types.Job) error {
		if job.Status == state.StatusRunning {
			return custom_errors.NewValidationError(errors.Wrapf(ErrAlreadyRunning, "job %s", job.ID))
		}
		now := s.now()
		job.NextRun = &now
		job.Status = state.StatusPending
		return nil
	})
}

// ResetJob returns a job to PENDING with a fresh schedule and no error. It is
// the way out for jobs left RUNNING by a crashed consumer.
func (s *Service) ResetJob(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	return s.modify(ctx, id, func(job *types.Job) error {
		next, err := parser.CalculateNextRun(job.Cron, s.now())
		if err != nil {
			return err
		}
		job.Status = state.StatusPending
		job.Error = nil
		job.NextRun = &next
		return nil
	})
}

func (s *Service) reschedule(job *types.Job) error {
	now := s.now()
	next, err := parser.CalculateNextRun(job.Cron, now)
	if err != nil {
		return err
	}
	job.LastRun = &now
	job.NextRun = &next
	return nil
}

// modify runs a load-modify-save cycle, retrying when the row changed underneath.
func (s *Service) modify(ctx context.Context, id uuid.UUID, fn func(job *types.Job) error) (*types.Job, error) {
	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		job, err := s.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(job); err != nil {
			return nil, err
		}

		err = s.store.Update(ctx, job)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, custom_errors.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
		s.logger.Debugw("job changed concurrently, retrying", "job_id", id, "attempt", attempt)
	}
	return nil, errors.Wrapf(lastErr, "giving up after %d attempts", s.retries)
}

func normalizeData(data json.RawMessage) json.RawMessage {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return data
}
