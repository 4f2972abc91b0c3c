package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RezaEskandarii/keyfire/custom_errors"
	"github.com/RezaEskandarii/keyfire/internal/constants"
	"github.com/RezaEskandarii/keyfire/internal/lock"
	"github.com/RezaEskandarii/keyfire/internal/logging"
	"github.com/RezaEskandarii/keyfire/internal/message_broker"
	"github.com/RezaEskandarii/keyfire/internal/state"
	"github.com/RezaEskandarii/keyfire/types"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// PollResult summarizes one poll cycle.
type PollResult struct {
	Due        int
	Dispatched int
	Failed     int
	Skipped    bool
}

// Poller periodically moves due jobs onto the queue. Only one cycle runs at a
// time per process; a distributed lock, when set, extends that to the cluster.
type Poller struct {
	service  *Service
	broker   message_broker.MessageBroker
	lock     lock.DistributedLockManager
	queue    string
	interval time.Duration
	logger   *zap.SugaredLogger

	polling atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller builds a poller. distributedLock may be nil for single instance deployments.
func NewPoller(service *Service, broker message_broker.MessageBroker, distributedLock lock.DistributedLockManager, queue string, interval time.Duration, logger *zap.SugaredLogger) *Poller {
	return &Poller{
		service:  service,
		broker:   broker,
		lock:     distributedLock,
		queue:    queue,
		interval: interval,
		logger:   logging.OrNop(logger),
	}
}

// Start runs the poller in the background until Stop is called or ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return errors.New("poller already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		_ = p.Run(ctx)
	}(p.done)
	return nil
}

// Stop cancels the background loop and waits for the running cycle to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run polls on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Infow("poller started", "interval", p.interval, "queue", p.queue)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs a single cycle. A cycle that overlaps a running one is skipped.
func (p *Poller) Poll(ctx context.Context) PollResult {
	if !p.polling.CompareAndSwap(false, true) {
		p.logger.Warn("previous poll cycle still running, skipping")
		return PollResult{Skipped: true}
	}
	defer p.polling.Store(false)

	if p.lock != nil {
		acquired, err := p.lock.TryAcquire(ctx, constants.PollLock)
		if err != nil {
			p.logger.Errorw("failed to acquire poll lock", "error", err)
			return PollResult{Skipped: true}
		}
		if !acquired {
			p.logger.Debug("poll lock held by another instance, skipping")
			return PollResult{Skipped: true}
		}
		defer func() {
			if err := p.lock.Release(context.WithoutCancel(ctx), constants.PollLock); err != nil {
				p.logger.Warnw("failed to release poll lock", "error", err)
			}
		}()
	}

	due, err := p.service.GetDueJobs(ctx)
	if err != nil {
		p.logger.Errorw("failed to fetch due jobs", "error", err)
		return PollResult{}
	}

	result := PollResult{Due: len(due)}
	for _, job := range due {
		if ctx.Err() != nil {
			break
		}
		switch err := p.dispatch(ctx, job); {
		case err == nil:
			result.Dispatched++
		case errors.Is(err, ErrAlreadyRunning):
			p.logger.Debugw("job claimed elsewhere", "job_id", job.ID)
		default:
			result.Failed++
			p.recordFailure(ctx, job, err)
		}
	}

	if result.Due > 0 {
		p.logger.Infow("poll cycle finished", "due", result.Due, "dispatched", result.Dispatched, "failed", result.Failed)
	}
	return result
}

// dispatch marks job RUNNING and publishes its queue item keyed by the job id.
func (p *Poller) dispatch(ctx context.Context, job types.Job) error {
	if _, err := p.service.MarkRunning(ctx, job.ID); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			return err
		}
		return custom_errors.Dispatch(err, "failed to mark job running")
	}

	payload, err := json.Marshal(types.QueueItem{JobID: job.ID.String(), Data: job.Data})
	if err != nil {
		return custom_errors.Dispatch(err, "failed to encode queue item")
	}

	if err := p.broker.Publish(ctx, p.queue, job.ID.String(), payload); err != nil {
		return custom_errors.Dispatch(err, "failed to enqueue job")
	}

	p.logger.Debugw("job dispatched", "job_id", job.ID, "job_type", job.JobType)
	return nil
}

// recordFailure stores a dispatch failure on the job; it never propagates to the timer.
func (p *Poller) recordFailure(ctx context.Context, job types.Job, cause error) {
	p.logger.Errorw("failed to dispatch job", "job_id", job.ID, "job_type", job.JobType, "error", cause)

	if _, err := p.service.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, state.StatusError, cause.Error()); err != nil {
		p.logger.Errorw("failed to record dispatch failure", "job_id", job.ID, "error", err)
	}
}
