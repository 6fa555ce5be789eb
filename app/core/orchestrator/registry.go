package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"lastagent/app/core/orchestrator/council"
	"lastagent/app/pkg/types"
)

var (
	ErrTaskNotFound      = errors.New("orchestrator: task not found")
	ErrInvalidTransition = errors.New("orchestrator: invalid status transition")
)

// Registry holds every task for the lifetime of the process. Tasks are
// in-memory only; the durable record of a run is its decision log entry and
// delegation chain.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

func (r *Registry) Create(req types.TaskRequest) *Task {
	now := time.Now()
	task := &Task{
		ID:        uuid.NewString(),
		Request:   req,
		Prompt:    req.UserPrompt,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.tasks[task.ID] = task
	r.order = append(r.order, task.ID)
	r.mu.Unlock()
	return snapshot(task)
}

func (r *Registry) Get(taskID string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return snapshot(task), nil
}

// List returns up to limit tasks, most recent first.
func (r *Registry) List(limit int) []*Task {
	if limit <= 0 {
		limit = 20
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Task, 0, limit)
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, snapshot(r.tasks[r.order[i]]))
	}
	return out
}

// SetStatus advances a task along the status graph. Illegal moves, including
// any move out of a terminal status, fail with ErrInvalidTransition.
func (r *Registry) SetStatus(taskID string, status TaskStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !CanTransition(task.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, status)
	}
	task.Status = status
	task.UpdatedAt = time.Now()
	return nil
}

func (r *Registry) SetSelection(taskID string, selection *council.AgentSelection) error {
	return r.update(taskID, func(task *Task) {
		task.Selection = selection
	})
}

func (r *Registry) SetApprovalRequest(taskID, requestID string) error {
	return r.update(taskID, func(task *Task) {
		task.ApprovalRequestID = requestID
	})
}

func (r *Registry) SetResult(taskID string, result *ExecutionResult) error {
	return r.update(taskID, func(task *Task) {
		task.Result = result
	})
}

func (r *Registry) update(taskID string, apply func(*Task)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	apply(task)
	task.UpdatedAt = time.Now()
	return nil
}

func snapshot(task *Task) *Task {
	cp := *task
	if task.Selection != nil {
		sel := *task.Selection
		cp.Selection = &sel
	}
	if task.Result != nil {
		res := *task.Result
		cp.Result = &res
	}
	return &cp
}
