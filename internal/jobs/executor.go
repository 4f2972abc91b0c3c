package jobs

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/RezaEskandarii/keyfire/internal/logging"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Execution is what an executor receives for one run.
type Execution struct {
	JobID   uuid.UUID
	JobType string
	Data    json.RawMessage
	Attempt int
}

// Executor performs the work of one job type.
type Executor func(ctx context.Context, exec Execution) error

// ExecutorRegistry maps job types to executors. Unknown types run the fallback.
type ExecutorRegistry struct {
	executors map[string]Executor
	fallback  Executor
	mutex     sync.RWMutex
}

func NewExecutorRegistry(fallback Executor) *ExecutorRegistry {
	return &ExecutorRegistry{
		executors: make(map[string]Executor),
		fallback:  fallback,
	}
}

// Register adds a new executor by job type.
func (r *ExecutorRegistry) Register(jobType string, executor Executor) error {
	if jobType == "" || executor == nil {
		return errors.New("executor must have a job type and function")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.executors[jobType]; exists {
		return errors.Newf("executor '%s' already registered", jobType)
	}
	r.executors[jobType] = executor
	return nil
}

func (r *ExecutorRegistry) Exists(jobType string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, exists := r.executors[jobType]
	return exists
}

// Execute runs the executor for exec.JobType. A panicking executor is reported as an error.
func (r *ExecutorRegistry) Execute(ctx context.Context, exec Execution) (err error) {
	executor, err := r.resolve(exec.JobType)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("executor panicked: %v", p)
		}
	}()
	return executor(ctx, exec)
}

func (r *ExecutorRegistry) resolve(jobType string) (Executor, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if executor, ok := r.executors[jobType]; ok {
		return executor, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, errors.Newf("executor '%s' not found", jobType)
}

func (r *ExecutorRegistry) List() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LogPayloadExecutor is the default executor: it logs the payload and succeeds.
func LogPayloadExecutor(logger *zap.SugaredLogger) Executor {
	logger = logging.OrNop(logger)
	return func(ctx context.Context, exec Execution) error {
		logger.Infow("processing job",
			"job_id", exec.JobID,
			"job_type", exec.JobType,
			"attempt", exec.Attempt,
			"data", string(exec.Data),
		)
		return nil
	}
}
