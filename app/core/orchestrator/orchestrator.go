package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	config "lastagent/app/configs"
	"lastagent/app/core/executor"
	"lastagent/app/core/observability"
	"lastagent/app/core/orchestrator/approval"
	"lastagent/app/core/orchestrator/council"
	"lastagent/app/core/orchestrator/decision"
	"lastagent/app/core/orchestrator/mesh"
	"lastagent/app/pkg/logger"
	"lastagent/app/pkg/types"
)

const defaultActionType = "execute_task"

type Options struct {
	Registry     *Registry
	Selector     *council.Selector
	Gate         *approval.Gate
	Adapter      executor.Adapter
	Mesh         *mesh.Coordinator
	Decisions    *decision.Log
	Catalog      config.Catalog
	ApprovalMode string
	Sink         observability.Sink
}

// Orchestrator drives a task from submission to a terminal status: council
// selection, optional approval, then execution through the agent adapter.
type Orchestrator struct {
	registry  *Registry
	selector  *council.Selector
	gate      *approval.Gate
	adapter   executor.Adapter
	mesh      *mesh.Coordinator
	decisions *decision.Log
	catalog   config.Catalog
	mode      string
	sink      observability.Sink
}

func New(opts Options) *Orchestrator {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Sink == nil {
		opts.Sink = observability.NopSink{}
	}
	mode := strings.TrimSpace(opts.ApprovalMode)
	if mode == "" {
		mode = approval.ModeAuto
	}
	return &Orchestrator{
		registry:  opts.Registry,
		selector:  opts.Selector,
		gate:      opts.Gate,
		adapter:   opts.Adapter,
		mesh:      opts.Mesh,
		decisions: opts.Decisions,
		catalog:   opts.Catalog,
		mode:      mode,
		sink:      opts.Sink,
	}
}

// Submit registers a task without running it.
func (o *Orchestrator) Submit(req types.TaskRequest) (*Task, error) {
	if strings.TrimSpace(req.UserPrompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	task := o.registry.Create(req)
	logger.Info("[orchestrator] task %s submitted", task.ID)
	return task, nil
}

// Run drives the task to a terminal status and returns its final snapshot.
// Run never returns a pipeline error; failures are folded into the task's
// ExecutionResult.
func (o *Orchestrator) Run(ctx context.Context, taskID string) (*Task, error) {
	task, err := o.registry.Get(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != StatusPending {
		return nil, fmt.Errorf("task %s already %s", taskID, task.Status)
	}

	start := time.Now()
	observability.Start(o.sink, taskID, "task")
	o.process(ctx, task)
	final, err := o.registry.Get(taskID)
	if err != nil {
		return nil, err
	}
	observability.End(o.sink, taskID, "task", time.Since(start), "status="+string(final.Status))
	return final, nil
}

func (o *Orchestrator) process(ctx context.Context, task *Task) {
	selection := o.selectAgent(ctx, task)
	if selection == nil {
		return
	}

	outcome := o.gateAndExecute(ctx, task, selection)
	o.logSelection(task, selection, outcome)
}

// ProcessTask registers and runs a task in one call. It never returns an
// error; every failure folds into the result.
func (o *Orchestrator) ProcessTask(ctx context.Context, req types.TaskRequest) ExecutionResult {
	task, err := o.Submit(req)
	if err != nil {
		return ExecutionResult{ErrorKind: ErrKindInternal, Error: err.Error()}
	}
	final, err := o.Run(ctx, task.ID)
	if err != nil {
		return ExecutionResult{ErrorKind: ErrKindInternal, Error: err.Error()}
	}
	if final.Result == nil {
		return ExecutionResult{ErrorKind: ErrKindInternal, Error: "task finished without a result"}
	}
	return *final.Result
}

// selectAgent runs the council round. A nil return means the task already
// reached a terminal status and no decision record is owed.
func (o *Orchestrator) selectAgent(ctx context.Context, task *Task) *council.AgentSelection {
	if err := o.registry.SetStatus(task.ID, StatusSelecting); err != nil {
		logger.Error("[orchestrator] task %s: %v", task.ID, err)
		return nil
	}

	start := time.Now()
	observability.Start(o.sink, task.ID, "select")
	selection, err := o.selector.Select(ctx, council.Request{
		TaskID:           task.ID,
		SystemPrompt:     task.Request.SystemPrompt,
		UserPrompt:       task.Request.UserPrompt,
		WorkingDirectory: task.Request.WorkingDirectory,
		Candidates:       o.catalog.Names(),
	})
	if err != nil {
		observability.Error(o.sink, task.ID, "select", err)
		kind := ErrKindInternal
		switch {
		case errors.Is(err, council.ErrQuorumNotReached):
			kind = ErrKindQuorumFailure
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			kind = ErrKindCanceled
		}
		o.finish(task.ID, StatusFailed, &ExecutionResult{ErrorKind: kind, Error: err.Error()})
		return nil
	}
	observability.End(o.sink, task.ID, "select", time.Since(start), "agent="+selection.SelectedAgent)

	if err := o.registry.SetSelection(task.ID, selection); err != nil {
		logger.Error("[orchestrator] task %s: %v", task.ID, err)
	}
	logger.Info("[orchestrator] task %s: council selected %s (confidence %.2f)",
		task.ID, selection.SelectedAgent, selection.Confidence)
	return selection
}

// gateAndExecute returns the terminal status the task reached.
func (o *Orchestrator) gateAndExecute(ctx context.Context, task *Task, selection *council.AgentSelection) TaskStatus {
	mode := strings.TrimSpace(task.Request.ApprovalMode)
	if mode == "" {
		mode = o.mode
	}
	actionType := task.Request.Meta["action_type"]
	if strings.TrimSpace(actionType) == "" {
		actionType = defaultActionType
	}

	risk := o.gate.ClassifyRisk(actionType, map[string]string{"agent": selection.SelectedAgent})
	if approval.RequiresApproval(actionType, risk, mode) {
		status, proceed := o.awaitApproval(ctx, task, actionType, risk)
		if !proceed {
			return status
		}
	}

	return o.execute(ctx, task, selection.SelectedAgent)
}

// awaitApproval blocks until the gate resolves. proceed is true only when the
// request was approved before the task may execute.
func (o *Orchestrator) awaitApproval(ctx context.Context, task *Task, actionType string, risk approval.RiskLevel) (TaskStatus, bool) {
	if err := o.registry.SetStatus(task.ID, StatusAwaitingApproval); err != nil {
		logger.Error("[orchestrator] task %s: %v", task.ID, err)
		return StatusFailed, false
	}

	req, err := o.gate.CreateRequest(task.ID, actionType, risk)
	if err != nil {
		o.finish(task.ID, StatusFailed, &ExecutionResult{ErrorKind: ErrKindInternal, Error: err.Error()})
		return StatusFailed, false
	}
	if err := o.registry.SetApprovalRequest(task.ID, req.ID); err != nil {
		logger.Error("[orchestrator] task %s: %v", task.ID, err)
	}
	logger.Info("[orchestrator] task %s: awaiting approval %s (%s risk)", task.ID, req.ID, risk)

	start := time.Now()
	observability.Start(o.sink, task.ID, "approve")
	resp, err := o.gate.Await(ctx, req.ID)
	if err != nil {
		observability.Error(o.sink, task.ID, "approve", err)
		kind := ErrKindInternal
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			kind = ErrKindCanceled
		}
		o.finish(task.ID, StatusFailed, &ExecutionResult{ErrorKind: kind, Error: err.Error()})
		return StatusFailed, false
	}
	observability.End(o.sink, task.ID, "approve", time.Since(start),
		fmt.Sprintf("approved=%t by=%s", resp.Approved, resp.DecidedBy))

	if !resp.Approved {
		kind := ErrKindApprovalRejected
		msg := fmt.Sprintf("approval request %s rejected by %s", req.ID, resp.DecidedBy)
		if resp.DecidedBy == approval.ExpiryDecider {
			kind = ErrKindApprovalExpired
			msg = fmt.Sprintf("approval request %s expired undecided", req.ID)
		}
		o.finish(task.ID, StatusRejected, &ExecutionResult{ErrorKind: kind, Error: msg})
		return StatusRejected, false
	}
	return StatusExecuting, true
}

func (o *Orchestrator) execute(ctx context.Context, task *Task, agent string) TaskStatus {
	if !o.catalog.Has(agent) {
		o.finish(task.ID, StatusFailed, &ExecutionResult{
			ErrorKind: ErrKindUnknownAgent,
			Error:     fmt.Sprintf("selected agent %s is not in the catalog", agent),
		})
		return StatusFailed
	}
	if err := o.registry.SetStatus(task.ID, StatusExecuting); err != nil {
		logger.Error("[orchestrator] task %s: %v", task.ID, err)
		return StatusFailed
	}

	inv := executor.Invocation{
		TaskID:           task.ID,
		Agent:            agent,
		SystemPrompt:     task.Request.SystemPrompt,
		UserPrompt:       task.Request.UserPrompt,
		WorkingDirectory: task.Request.WorkingDirectory,
		Delegate: func(ctx context.Context, toAgent, preview string) error {
			_, err := o.mesh.Record(ctx, task.ID, agent, toAgent, preview)
			return err
		},
	}

	start := time.Now()
	observability.Start(o.sink, task.ID, "execute")
	result, err := o.adapter.Execute(ctx, inv)
	if err != nil {
		observability.Error(o.sink, task.ID, "execute", err)
		kind := ErrKindExecutorError
		switch {
		case errors.Is(err, executor.ErrTimeout):
			kind = ErrKindExecutorTimeout
		case errors.Is(err, executor.ErrUnknownAgent):
			kind = ErrKindUnknownAgent
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			kind = ErrKindCanceled
		}
		o.finish(task.ID, StatusFailed, &ExecutionResult{ErrorKind: kind, Error: err.Error()})
		return StatusFailed
	}

	observability.End(o.sink, task.ID, "execute", time.Since(start), "agent="+agent)

	o.finish(task.ID, StatusCompleted, &ExecutionResult{
		Response:   result.Response,
		Success:    true,
		DurationMs: result.Duration.Milliseconds(),
	})
	return StatusCompleted
}

func (o *Orchestrator) finish(taskID string, status TaskStatus, result *ExecutionResult) {
	if err := o.registry.SetResult(taskID, result); err != nil {
		logger.Error("[orchestrator] task %s: %v", taskID, err)
	}
	if err := o.registry.SetStatus(taskID, status); err != nil {
		logger.Error("[orchestrator] task %s: %v", taskID, err)
	}
	if result.ErrorKind != "" {
		logger.Error("[orchestrator] task %s %s: %s: %s", taskID, status, result.ErrorKind, result.Error)
	}
}

// logSelection appends the one decision record a selected task gets. The
// append is best-effort; an audit write failure never changes task state.
func (o *Orchestrator) logSelection(task *Task, selection *council.AgentSelection, outcome TaskStatus) {
	entry := decision.Entry{
		TaskID:       task.ID,
		Type:         decision.TypeAgentSelection,
		Title:        task.Request.UserPrompt,
		Reasoning:    selection.Reasoning,
		Confidence:   selection.Confidence,
		Alternatives: alternativesFrom(selection),
		Outcome:      string(outcome),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := o.decisions.LogDecision(ctx, entry); err != nil {
		logger.Error("[orchestrator] task %s: decision log append failed: %v", task.ID, err)
		observability.Error(o.sink, task.ID, "decision_log", err)
	}
}

// alternativesFrom turns the losing vote tallies into decision alternatives.
func alternativesFrom(selection *council.AgentSelection) []decision.Alternative {
	if len(selection.Votes) == 0 {
		return nil
	}
	tally := make(map[string]int)
	for _, agent := range selection.Votes {
		tally[agent]++
	}

	var out []decision.Alternative
	for agent, count := range tally {
		if agent == selection.SelectedAgent {
			continue
		}
		out = append(out, decision.Alternative{
			Name:   agent,
			Score:  float64(count) / float64(len(selection.Votes)),
			Reason: fmt.Sprintf("%d of %d votes", count, len(selection.Votes)),
		})
	}
	return out
}

// Task returns a snapshot of one task.
func (o *Orchestrator) Task(taskID string) (*Task, error) {
	return o.registry.Get(taskID)
}

// Tasks returns recent tasks, newest first.
func (o *Orchestrator) Tasks(limit int) []*Task {
	return o.registry.List(limit)
}

// Delegate records an agent-to-agent hand-off on a running task.
func (o *Orchestrator) Delegate(ctx context.Context, taskID, fromAgent, toAgent, preview string) (*mesh.DelegationRecord, error) {
	if _, err := o.registry.Get(taskID); err != nil {
		return nil, err
	}
	if !o.catalog.Has(toAgent) {
		return nil, fmt.Errorf("%w: %s", executor.ErrUnknownAgent, toAgent)
	}
	return o.mesh.Record(ctx, taskID, fromAgent, toAgent, preview)
}

// Delegations lists a task's delegation chain in insertion order.
func (o *Orchestrator) Delegations(ctx context.Context, taskID string) ([]mesh.DelegationRecord, error) {
	if _, err := o.registry.Get(taskID); err != nil {
		return nil, err
	}
	return o.mesh.Delegations(ctx, taskID)
}

// Decisions lists audit records, most recent first.
func (o *Orchestrator) Decisions(ctx context.Context, taskID string, limit int) ([]decision.Decision, error) {
	return o.decisions.ListDecisions(ctx, taskID, limit)
}

// LogFeedback appends a free-form feedback record against a task.
func (o *Orchestrator) LogFeedback(ctx context.Context, taskID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("feedback text is required")
	}
	if _, err := o.registry.Get(taskID); err != nil {
		return "", err
	}
	return o.decisions.LogDecision(ctx, decision.Entry{
		TaskID:    taskID,
		Type:      decision.TypeFeedback,
		Title:     text,
		Reasoning: text,
	})
}

// PendingApprovals lists undecided approval requests, oldest first.
func (o *Orchestrator) PendingApprovals() []approval.Request {
	return o.gate.Pending()
}

// DecideApproval commits an approval outcome and unblocks the waiting task.
func (o *Orchestrator) DecideApproval(requestID string, approved bool, decidedBy string) (*approval.Response, error) {
	return o.gate.Decide(requestID, approved, decidedBy)
}

// Agents returns the catalog the council selects from.
func (o *Orchestrator) Agents() config.Catalog {
	return o.catalog
}
