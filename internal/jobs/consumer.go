package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/RezaEskandarii/keyfire/custom_errors"
	"github.com/RezaEskandarii/keyfire/internal/logging"
	"github.com/RezaEskandarii/keyfire/internal/message_broker"
	"github.com/RezaEskandarii/keyfire/internal/state"
	"github.com/RezaEskandarii/keyfire/types"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Consumer executes queued jobs and reports their outcome.
type Consumer struct {
	service   *Service
	broker    message_broker.MessageBroker
	executors *ExecutorRegistry
	queue     string
	workers   int64
	logger    *zap.SugaredLogger
}

func NewConsumer(service *Service, broker message_broker.MessageBroker, executors *ExecutorRegistry, queue string, workerCount int, logger *zap.SugaredLogger) *Consumer {
	if workerCount < 1 {
		workerCount = 1
	}
	logger = logging.OrNop(logger)
	if executors == nil {
		executors = NewExecutorRegistry(LogPayloadExecutor(logger))
	}
	return &Consumer{
		service:   service,
		broker:    broker,
		executors: executors,
		queue:     queue,
		workers:   int64(workerCount),
		logger:    logger,
	}
}

// Run consumes until ctx is done, executing at most workerCount jobs at once.
// In-flight executions finish before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.broker.Consume(ctx, c.queue)
	if err != nil {
		return err
	}

	sem := semaphore.NewWeighted(c.workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	c.logger.Infow("consumer started", "queue", c.queue, "workers", c.workers)
	for delivery := range deliveries {
		if err := sem.Acquire(ctx, 1); err != nil {
			_ = delivery.Nack(true)
			break
		}
		wg.Add(1)
		go func(d message_broker.Delivery) {
			defer sem.Release(1)
			defer wg.Done()
			c.Handle(context.WithoutCancel(ctx), d)
		}(delivery)
	}

	c.logger.Info("consumer stopped")
	return nil
}

// Handle processes one delivery: decode, execute, report, then settle with the broker.
func (c *Consumer) Handle(ctx context.Context, d message_broker.Delivery) types.JobResult {
	var item types.QueueItem
	if err := json.Unmarshal(d.Body, &item); err != nil {
		c.logger.Errorw("rejecting undecodable message", "message_id", d.MessageID, "error", err)
		_ = d.Nack(false)
		return types.JobResult{Err: err, Status: state.StatusError}
	}

	jobID, err := uuid.Parse(item.JobID)
	if err != nil {
		c.logger.Errorw("rejecting message with invalid job id", "job_id", item.JobID, "error", err)
		_ = d.Nack(false)
		return types.JobResult{Err: err, Status: state.StatusError}
	}

	job, err := c.service.GetJob(ctx, jobID)
	if err != nil {
		c.logger.Errorw("failed to load job", "job_id", jobID, "error", err)
		// a missing job will never succeed, anything else may be transient
		_ = d.Nack(!errors.Is(err, custom_errors.ErrJobNotFound))
		return types.JobResult{JobID: jobID, Err: err, Status: state.StatusError}
	}

	result := c.execute(ctx, job, item, d.Attempt)
	c.report(ctx, d, result)
	return result
}

func (c *Consumer) execute(ctx context.Context, job *types.Job, item types.QueueItem, attempt int) types.JobResult {
	started := time.Now()
	err := c.executors.Execute(ctx, Execution{
		JobID:   job.ID,
		JobType: job.JobType,
		Data:    item.Data,
		Attempt: attempt,
	})

	result := types.JobResult{
		JobID:    job.ID,
		JobType:  job.JobType,
		Status:   state.StatusCompleted,
		RanAt:    started,
		Duration: time.Since(started),
	}
	if err != nil {
		result.Message = err.Error()
		result.Err = custom_errors.Execution(err, job.JobType)
		result.Status = state.StatusError
	}
	return result
}

// report persists the outcome. Failed executions are re-signalled to the broker
// after the ERROR status is stored so the broker's retry policy applies.
func (c *Consumer) report(ctx context.Context, d message_broker.Delivery, result types.JobResult) {
	if _, err := c.service.UpdateJobStatus(ctx, result.JobID, result.Status, result.Message); err != nil {
		c.logger.Errorw("failed to report job status", "job_id", result.JobID, "status", result.Status, "error", err)
		_ = d.Nack(true)
		return
	}

	if result.Err != nil {
		c.logger.Errorw("job failed", "job_id", result.JobID, "job_type", result.JobType, "attempt", d.Attempt, "error", result.Err)
		if err := d.Nack(true); err != nil {
			c.logger.Warnw("failed to nack message", "job_id", result.JobID, "error", err)
		}
		return
	}

	c.logger.Infow("job completed", "job_id", result.JobID, "job_type", result.JobType, "duration", result.Duration)
	if err := d.Ack(); err != nil {
		c.logger.Warnw("failed to ack message", "job_id", result.JobID, "error", err)
	}
}
