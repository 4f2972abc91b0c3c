package state

import "strings"

type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusRunning   JobStatus = "RUNNING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusError     JobStatus = "ERROR"
)

func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether a run has finished, successfully or not.
// Reaching a terminal status stamps last_run and recomputes next_run.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

var AllStatuses = []JobStatus{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusError,
}

// Parse accepts a status name in any case.
func Parse(s string) (JobStatus, bool) {
	candidate := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range AllStatuses {
		if st == candidate {
			return st, true
		}
	}
	return "", false
}

// DueStatuses returns the statuses the poller may pick up.
// RUNNING is never due.
func DueStatuses(includeCompleted bool) []JobStatus {
	due := []JobStatus{StatusPending, StatusError}
	if includeCompleted {
		due = append(due, StatusCompleted)
	}
	return due
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusRunning},
	{From: StatusError, To: StatusRunning},
	{From: StatusCompleted, To: StatusRunning},
	{From: StatusRunning, To: StatusCompleted},
	{From: StatusRunning, To: StatusError},
	// dispatch failures are recorded before the job ever reaches RUNNING
	{From: StatusPending, To: StatusError},
	{From: StatusError, To: StatusError},
	{From: StatusCompleted, To: StatusError},
	// operator reset
	{From: StatusRunning, To: StatusPending},
	{From: StatusError, To: StatusPending},
	{From: StatusCompleted, To: StatusPending},
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}
