package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	config "lastagent/app/configs"
	"lastagent/app/pkg/cmdutil"
)

var (
	ErrTimeout      = errors.New("executor: run timed out")
	ErrUnknownAgent = errors.New("executor: unknown agent")
)

// DelegateFunc lets a running agent hand a sub-task to another agent. The
// mesh coordinator behind it may refuse the hop.
type DelegateFunc func(ctx context.Context, toAgent, preview string) error

// Invocation is one execution of the selected agent.
type Invocation struct {
	TaskID           string
	Agent            string
	SystemPrompt     string
	UserPrompt       string
	WorkingDirectory string
	Delegate         DelegateFunc
}

type Result struct {
	Response string
	Success  bool
	Duration time.Duration
}

// Adapter runs the chosen agent. Implementations must honor ctx cancellation
// and must not touch the filesystem outside the invocation's working
// directory.
type Adapter interface {
	Execute(ctx context.Context, inv Invocation) (*Result, error)
}

// CLIAdapter executes agents as local CLI processes resolved from the agent
// catalog.
type CLIAdapter struct {
	catalog config.Catalog
	timeout time.Duration
	runLog  *RunLog
}

func NewCLIAdapter(catalog config.Catalog, timeout time.Duration, runLog *RunLog) *CLIAdapter {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &CLIAdapter{catalog: catalog, timeout: timeout, runLog: runLog}
}

func (a *CLIAdapter) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	def, ok := a.catalog.Agents[inv.Agent]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, inv.Agent)
	}
	if err := cmdutil.RequireExecutable(def.Command); err != nil {
		return nil, fmt.Errorf("agent %s not installed: %w", inv.Agent, err)
	}
	if def.RequiresWorkingDirectory && strings.TrimSpace(inv.WorkingDirectory) == "" {
		return nil, fmt.Errorf("agent %s requires a working directory", inv.Agent)
	}

	prompt := composePrompt(inv.SystemPrompt, inv.UserPrompt)
	cmdCtx := cmdutil.WithCommandLogContext(ctx, cmdutil.CommandLogContext{
		TaskID: inv.TaskID,
		Stage:  "execute",
	})

	start := time.Now()
	output, err := cmdutil.RunWithInput(cmdCtx, def.Command, def.Args, prompt, inv.WorkingDirectory, a.timeout)
	elapsed := time.Since(start)
	a.runLog.Append(start, inv, output, elapsed, err)

	if err != nil {
		if errors.Is(err, cmdutil.ErrTimedOut) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, a.timeout)
		}
		return nil, fmt.Errorf("agent %s failed: %w", inv.Agent, err)
	}
	if strings.TrimSpace(output) == "" {
		return nil, fmt.Errorf("agent %s returned an empty response", inv.Agent)
	}

	return &Result{
		Response: output,
		Success:  true,
		Duration: elapsed,
	}, nil
}

func composePrompt(systemPrompt, userPrompt string) string {
	systemPrompt = strings.TrimSpace(systemPrompt)
	userPrompt = strings.TrimSpace(userPrompt)
	if systemPrompt == "" {
		return userPrompt
	}
	return systemPrompt + "\n\n" + userPrompt
}
