package types

import (
	"time"

	"github.com/RezaEskandarii/keyfire/internal/state"
	"github.com/google/uuid"
)

// JobResult is the outcome of a single execution, reported back by the consumer.
type JobResult struct {
	JobID    uuid.UUID
	JobType  string
	Err      error
	// Message is the executor's own failure text, stored on the job.
	Message  string
	Status   state.JobStatus
	RanAt    time.Time
	Duration time.Duration
}
