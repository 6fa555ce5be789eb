package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lastagent/app/pkg/logger"
)

type runEntry struct {
	Timestamp     string `json:"timestamp"`
	TaskID        string `json:"task_id"`
	Agent         string `json:"agent"`
	Status        string `json:"status"`
	DurationMs    int64  `json:"duration_ms"`
	PromptChars   int    `json:"prompt_chars"`
	OutputChars   int    `json:"output_chars,omitempty"`
	OutputPreview string `json:"output_preview,omitempty"`
	Error         string `json:"error,omitempty"`
}

// RunLog appends one JSONL record per executor invocation to an hourly file
// under a dated directory. Writes are best-effort; a failed append never
// fails the run.
type RunLog struct {
	dir string
	mu  sync.Mutex
}

func NewRunLog(dir string) *RunLog {
	return &RunLog{dir: dir}
}

func (l *RunLog) Append(ts time.Time, inv Invocation, output string, duration time.Duration, runErr error) {
	if l == nil || strings.TrimSpace(l.dir) == "" {
		return
	}

	record := runEntry{
		Timestamp:     ts.Format(time.RFC3339Nano),
		TaskID:        inv.TaskID,
		Agent:         inv.Agent,
		Status:        "ok",
		DurationMs:    duration.Milliseconds(),
		PromptChars:   len(inv.SystemPrompt) + len(inv.UserPrompt),
		OutputChars:   len(output),
		OutputPreview: previewText(output, 240),
	}
	if runErr != nil {
		record.Status = "error"
		record.Error = runErr.Error()
	}

	if err := l.write(ts, record); err != nil {
		logger.Error("run log append failed: %v", err)
	}
}

func (l *RunLog) write(ts time.Time, record runEntry) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	dayDir := filepath.Join(l.dir, ts.Format("2006-01-02"))
	if err := os.MkdirAll(dayDir, 0755); err != nil {
		return fmt.Errorf("create run log dir: %w", err)
	}
	logPath := filepath.Join(dayDir, fmt.Sprintf("runs_%s.jsonl", ts.Format("20060102-15")))

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return err
	}
	return nil
}

func previewText(s string, limit int) string {
	clean := strings.TrimSpace(s)
	if clean == "" || limit <= 0 {
		return ""
	}
	clean = strings.ReplaceAll(clean, "\r\n", "\n")
	clean = strings.ReplaceAll(clean, "\n", "\\n")
	runes := []rune(clean)
	if len(runes) <= limit {
		return clean
	}
	return string(runes[:limit]) + "..."
}
