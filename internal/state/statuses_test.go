package state

import (
	"testing"
)

func TestJobStatus_String(t *testing.T) {
	tests := []struct {
		name     string
		status   JobStatus
		expected string
	}{
		{
			name:     "Pending status",
			status:   StatusPending,
			expected: "PENDING",
		},
		{
			name:     "Running status",
			status:   StatusRunning,
			expected: "RUNNING",
		},
		{
			name:     "Completed status",
			status:   StatusCompleted,
			expected: "COMPLETED",
		},
		{
			name:     "Error status",
			status:   StatusError,
			expected: "ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.status.String()
			if result != tt.expected {
				t.Errorf("String() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		expected bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusError, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.expected {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected JobStatus
		ok       bool
	}{
		{"PENDING", StatusPending, true},
		{"running", StatusRunning, true},
		{" Completed ", StatusCompleted, true},
		{"error", StatusError, true},
		{"queued", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if ok != tt.ok || got != tt.expected {
				t.Errorf("Parse(%q) = (%v, %v), want (%v, %v)", tt.input, got, ok, tt.expected, tt.ok)
			}
		})
	}
}

func TestDueStatuses(t *testing.T) {
	for _, includeCompleted := range []bool{true, false} {
		due := DueStatuses(includeCompleted)
		hasCompleted := false
		for _, s := range due {
			if s == StatusRunning {
				t.Errorf("DueStatuses(%v) contains RUNNING", includeCompleted)
			}
			if s == StatusCompleted {
				hasCompleted = true
			}
		}
		if hasCompleted != includeCompleted {
			t.Errorf("DueStatuses(%v) completed membership = %v", includeCompleted, hasCompleted)
		}
		if due[0] != StatusPending || due[1] != StatusError {
			t.Errorf("DueStatuses(%v) = %v, want PENDING and ERROR first", includeCompleted, due)
		}
	}
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     JobStatus
		to       JobStatus
		expected bool
	}{
		{
			name:     "Valid: Pending to Running",
			from:     StatusPending,
			to:       StatusRunning,
			expected: true,
		},
		{
			name:     "Valid: Error to Running",
			from:     StatusError,
			to:       StatusRunning,
			expected: true,
		},
		{
			name:     "Valid: Running to Completed",
			from:     StatusRunning,
			to:       StatusCompleted,
			expected: true,
		},
		{
			name:     "Valid: Running to Error",
			from:     StatusRunning,
			to:       StatusError,
			expected: true,
		},
		{
			name:     "Valid: Pending to Error on dispatch failure",
			from:     StatusPending,
			to:       StatusError,
			expected: true,
		},
		{
			name:     "Invalid: Pending to Completed",
			from:     StatusPending,
			to:       StatusCompleted,
			expected: false,
		},
		{
			name:     "Invalid: Running to Running",
			from:     StatusRunning,
			to:       StatusRunning,
			expected: false,
		},
		{
			name:     "Invalid: Completed to Completed",
			from:     StatusCompleted,
			to:       StatusCompleted,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition() = %v, want %v", result, tt.expected)
			}
		})
	}
}
