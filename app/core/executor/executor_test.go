package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	config "lastagent/app/configs"
	"lastagent/app/pkg/cmdutil"
)

func testCatalog() config.Catalog {
	return config.Catalog{Agents: map[string]config.AgentDefinition{
		"cat": {
			DisplayName: "Cat",
			Command:     "cat",
		},
		"pinned": {
			DisplayName:              "Pinned",
			Command:                  "cat",
			RequiresWorkingDirectory: true,
		},
	}}
}

func TestExecuteUnknownAgent(t *testing.T) {
	adapter := NewCLIAdapter(testCatalog(), time.Second, nil)

	_, err := adapter.Execute(context.Background(), Invocation{TaskID: "t", Agent: "ghost"})
	if !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected unknown agent error, got %v", err)
	}
}

func TestExecuteRequiresWorkingDirectory(t *testing.T) {
	if !cmdutil.Exists("cat") {
		t.Skip("cat not available")
	}
	adapter := NewCLIAdapter(testCatalog(), time.Second, nil)

	_, err := adapter.Execute(context.Background(), Invocation{TaskID: "t", Agent: "pinned"})
	if err == nil || !strings.Contains(err.Error(), "working directory") {
		t.Fatalf("expected working directory error, got %v", err)
	}
}

func TestExecuteRunsAgentCommand(t *testing.T) {
	if !cmdutil.Exists("cat") {
		t.Skip("cat not available")
	}
	adapter := NewCLIAdapter(testCatalog(), 5*time.Second, nil)

	result, err := adapter.Execute(context.Background(), Invocation{
		TaskID:       "task-1",
		Agent:        "cat",
		SystemPrompt: "be brief",
		UserPrompt:   "hello agent",
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success")
	}
	if !strings.Contains(result.Response, "hello agent") {
		t.Fatalf("unexpected response: %q", result.Response)
	}
	if result.Duration <= 0 {
		t.Fatalf("expected positive duration")
	}
}

func TestComposePrompt(t *testing.T) {
	if got := composePrompt("sys", "user"); got != "sys\n\nuser" {
		t.Fatalf("unexpected prompt: %q", got)
	}
	if got := composePrompt("  ", "user"); got != "user" {
		t.Fatalf("unexpected prompt without system part: %q", got)
	}
}

func TestRunLogAppendWritesHourlyFile(t *testing.T) {
	dir := t.TempDir()
	runLog := NewRunLog(dir)

	now := time.Now()
	runLog.Append(now, Invocation{TaskID: "task-1", Agent: "claude", UserPrompt: "p"}, "response body", 1500*time.Millisecond, nil)
	runLog.Append(now, Invocation{TaskID: "task-1", Agent: "claude"}, "", 0, errors.New("boom"))

	logPath := filepath.Join(dir, now.Format("2006-01-02"), "runs_"+now.Format("20060102-15")+".jsonl")
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read run log failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"duration_ms":1500`) {
		t.Fatalf("duration missing: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"status":"error"`) {
		t.Fatalf("error status missing: %s", lines[1])
	}
}

func TestPreviewTextEscapesAndTruncates(t *testing.T) {
	if got := previewText("a\nb", 10); got != "a\\nb" {
		t.Fatalf("unexpected preview: %q", got)
	}
	long := strings.Repeat("x", 300)
	if got := previewText(long, 240); len([]rune(got)) != 243 {
		t.Fatalf("unexpected truncated length: %d", len([]rune(got)))
	}
}
