package types

import (
	"encoding/json"
	"time"

	"github.com/RezaEskandarii/keyfire/internal/state"
	"github.com/google/uuid"
)

// Job is a recurring unit of work driven by a cron expression.
type Job struct {
	ID        uuid.UUID       `json:"id"`
	JobType   string          `json:"jobType"`
	Cron      string          `json:"cron"`
	LastRun   *time.Time      `json:"lastRun"`
	NextRun   *time.Time      `json:"nextRun"`
	Status    state.JobStatus `json:"status"`
	Data      json.RawMessage `json:"data"`
	Error     *string         `json:"error"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// IsDue reports whether the poller should pick the job up at now.
func (j Job) IsDue(now time.Time, due []state.JobStatus) bool {
	if j.NextRun == nil || j.NextRun.After(now) {
		return false
	}
	for _, s := range due {
		if j.Status == s {
			return true
		}
	}
	return false
}

// CreateJobRequest is the input of job creation.
type CreateJobRequest struct {
	JobType string          `json:"jobType"`
	Cron    string          `json:"cron"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// QueueItem is the message published for a due job.
type QueueItem struct {
	JobID string          `json:"jobId"`
	Data  json.RawMessage `json:"data"`
}
