package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrTimedOut marks a command that was killed because its deadline passed.
// Callers distinguish it from ordinary command failures with errors.Is.
var ErrTimedOut = errors.New("command timed out")

type CommandLogContext struct {
	TaskID string
	Stage  string
}

type commandLogContextKey struct{}

func WithCommandLogContext(ctx context.Context, meta CommandLogContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, commandLogContextKey{}, meta)
}

func getCommandLogContext(ctx context.Context) CommandLogContext {
	if ctx == nil {
		return CommandLogContext{}
	}
	meta, _ := ctx.Value(commandLogContextKey{}).(CommandLogContext)
	return meta
}

func RequireExecutable(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("missing executable")
	}
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("executable not found: %s", name)
	}
	return nil
}

func Exists(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}

// RunWithInput runs name with args, feeding input on stdin, and returns the
// trimmed combined output. dir sets the working directory when non-empty.
// The command is killed once timeout elapses or ctx is cancelled.
func RunWithInput(ctx context.Context, name string, args []string, input string, dir string, timeout time.Duration) (string, error) {
	printCommand(ctx, name, args)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(execCtx, name, args...)
	if strings.TrimSpace(dir) != "" {
		cmd.Dir = dir
	}
	if strings.TrimSpace(input) != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	output, err := cmd.CombinedOutput()
	outStr := strings.TrimSpace(string(output))
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", fmt.Errorf("%w: %s interrupted", context.Canceled, name)
		}
		if execCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w after %s", ErrTimedOut, timeout)
		}
		return "", formatCommandError(err, outStr)
	}
	return outStr, nil
}

func Run(ctx context.Context, name string, args []string, timeout time.Duration) (string, error) {
	return RunWithInput(ctx, name, args, "", "", timeout)
}

func printCommand(ctx context.Context, name string, args []string) {
	meta := getCommandLogContext(ctx)
	if strings.TrimSpace(meta.TaskID) != "" || strings.TrimSpace(meta.Stage) != "" {
		fmt.Fprintf(os.Stderr, "[exec][task:%s][stage:%s] %s", strings.TrimSpace(meta.TaskID), strings.TrimSpace(meta.Stage), name)
	} else {
		fmt.Fprintf(os.Stderr, "[exec] %s", name)
	}
	if len(args) > 0 {
		fmt.Fprintf(os.Stderr, " %s", strings.Join(args, " "))
	}
	fmt.Fprintln(os.Stderr)
}

func formatCommandError(err error, output string) error {
	if err == nil {
		return nil
	}
	exitCode := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}
	if strings.TrimSpace(output) != "" {
		trimmed, truncated := limitOutputLines(output, 8)
		if truncated {
			return fmt.Errorf("exit code %d: %s\n[output truncated to last 8 lines]", exitCode, trimmed)
		}
		return fmt.Errorf("exit code %d: %s", exitCode, trimmed)
	}
	return fmt.Errorf("exit code %d: %v", exitCode, err)
}

func limitOutputLines(output string, maxLines int) (string, bool) {
	normalized := strings.ReplaceAll(output, "\r\n", "\n")
	normalized = strings.TrimRight(normalized, "\n")
	if normalized == "" {
		return "", false
	}
	lines := strings.Split(normalized, "\n")
	if len(lines) <= maxLines {
		return normalized, false
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n"), true
}
