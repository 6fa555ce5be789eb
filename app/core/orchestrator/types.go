package orchestrator

import (
	"time"

	"lastagent/app/core/orchestrator/council"
	"lastagent/app/pkg/types"
)

// TaskStatus walks pending -> selecting -> (awaiting_approval) -> executing
// and ends in exactly one of completed, failed, rejected. Terminal statuses
// never change.
type TaskStatus string

const (
	StatusPending          TaskStatus = "pending"
	StatusSelecting        TaskStatus = "selecting"
	StatusAwaitingApproval TaskStatus = "awaiting_approval"
	StatusExecuting        TaskStatus = "executing"
	StatusCompleted        TaskStatus = "completed"
	StatusFailed           TaskStatus = "failed"
	StatusRejected         TaskStatus = "rejected"
)

// Error kinds carried on a failed or rejected result.
const (
	ErrKindQuorumFailure    = "quorum_failure"
	ErrKindApprovalRejected = "approval_rejected"
	ErrKindApprovalExpired  = "approval_expired"
	ErrKindExecutorTimeout  = "executor_timeout"
	ErrKindExecutorError    = "executor_error"
	ErrKindUnknownAgent     = "unknown_agent"
	ErrKindCanceled         = "canceled"
	ErrKindInternal         = "internal_error"
)

var transitions = map[TaskStatus][]TaskStatus{
	StatusPending:          {StatusSelecting, StatusFailed},
	StatusSelecting:        {StatusAwaitingApproval, StatusExecuting, StatusFailed},
	StatusAwaitingApproval: {StatusExecuting, StatusRejected, StatusFailed},
	StatusExecuting:        {StatusCompleted, StatusFailed},
}

func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// ExecutionResult is the single outcome of a task run. Every failure mode is
// folded into it so callers never need to inspect pipeline internals.
type ExecutionResult struct {
	Response   string `json:"response,omitempty"`
	Success    bool   `json:"success"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Task is one tracked submission.
type Task struct {
	ID                string                  `json:"id"`
	Request           types.TaskRequest       `json:"-"`
	Prompt            string                  `json:"prompt"`
	Status            TaskStatus              `json:"status"`
	Selection         *council.AgentSelection `json:"selection,omitempty"`
	ApprovalRequestID string                  `json:"approval_request_id,omitempty"`
	Result            *ExecutionResult        `json:"result,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}
