package mesh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

var (
	ErrDelegationCycle = errors.New("mesh: delegation cycle detected")
	ErrDepthExceeded   = errors.New("mesh: delegation depth exceeded")
)

const previewMaxRunes = 120

// DelegationRecord is one agent-to-agent hand-off within a task.
type DelegationRecord struct {
	TaskID    string    `json:"task_id"`
	FromAgent string    `json:"from_agent"`
	ToAgent   string    `json:"to_agent"`
	Preview   string    `json:"preview"`
	Depth     int       `json:"depth"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists delegation records in insertion order per task.
type Store interface {
	Append(ctx context.Context, r DelegationRecord) error
	List(ctx context.Context, taskID string) ([]DelegationRecord, error)
}

// Coordinator is the single source of truth for delegation edges. It refuses
// hops that would close a cycle or push a chain past the configured depth.
type Coordinator struct {
	store    Store
	maxDepth int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCoordinator(store Store, maxDepth int) *Coordinator {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	return &Coordinator{
		store:    store,
		maxDepth: maxDepth,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Record validates and appends one delegation hop. The guard check and the
// append are atomic per task; delegations on other tasks are not blocked.
func (c *Coordinator) Record(ctx context.Context, taskID, fromAgent, toAgent, preview string) (*DelegationRecord, error) {
	taskID = strings.TrimSpace(taskID)
	fromAgent = strings.TrimSpace(fromAgent)
	toAgent = strings.TrimSpace(toAgent)
	if taskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}
	if fromAgent == "" || toAgent == "" {
		return nil, fmt.Errorf("from_agent and to_agent are required")
	}
	if fromAgent == toAgent {
		return nil, fmt.Errorf("%w: %s delegating to itself", ErrDelegationCycle, fromAgent)
	}

	lock := c.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := c.store.List(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load delegation chain: %w", err)
	}

	if hasAncestor(existing, fromAgent, toAgent) {
		return nil, fmt.Errorf("%w: %s is an ancestor of %s in task %s", ErrDelegationCycle, toAgent, fromAgent, taskID)
	}

	depth := agentDepth(existing, fromAgent) + 1
	if depth > c.maxDepth {
		return nil, fmt.Errorf("%w: hop %d exceeds max depth %d", ErrDepthExceeded, depth, c.maxDepth)
	}

	record := DelegationRecord{
		TaskID:    taskID,
		FromAgent: fromAgent,
		ToAgent:   toAgent,
		Preview:   truncatePreview(preview),
		Depth:     depth,
		CreatedAt: time.Now(),
	}
	if err := c.store.Append(ctx, record); err != nil {
		return nil, fmt.Errorf("append delegation: %w", err)
	}
	return &record, nil
}

// Delegations returns the task's hops in insertion order.
func (c *Coordinator) Delegations(ctx context.Context, taskID string) ([]DelegationRecord, error) {
	return c.store.List(ctx, strings.TrimSpace(taskID))
}

func (c *Coordinator) taskLock(taskID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[taskID] = lock
	}
	return lock
}

// hasAncestor reports whether candidate appears when walking the delegation
// chain upward from agent.
func hasAncestor(records []DelegationRecord, agent, candidate string) bool {
	current := agent
	for i := 0; i <= len(records); i++ {
		if current == candidate {
			return true
		}
		parent, ok := parentOf(records, current)
		if !ok {
			return false
		}
		current = parent
	}
	return false
}

// parentOf finds who most recently delegated to agent.
func parentOf(records []DelegationRecord, agent string) (string, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].ToAgent == agent {
			return records[i].FromAgent, true
		}
	}
	return "", false
}

// agentDepth is the chain depth agent sits at: 0 for a root agent, the depth
// of the hop that delegated to it otherwise.
func agentDepth(records []DelegationRecord, agent string) int {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].ToAgent == agent {
			return records[i].Depth
		}
	}
	return 0
}

func truncatePreview(s string) string {
	clean := strings.TrimSpace(s)
	clean = strings.ReplaceAll(clean, "\r\n", "\n")
	clean = strings.ReplaceAll(clean, "\n", " ")
	if utf8.RuneCountInString(clean) <= previewMaxRunes {
		return clean
	}
	runes := []rune(clean)
	return string(runes[:previewMaxRunes]) + "..."
}
