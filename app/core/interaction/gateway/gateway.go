package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lastagent/app/core/orchestrator"
	"lastagent/app/core/queue"
	"lastagent/app/pkg/logger"
	"lastagent/app/pkg/types"
)

// Gateway brokers task submissions between inbound channels, the task queue,
// and the orchestrator. Synchronous submissions run in the caller's goroutine;
// asynchronous ones are published to the queue and picked up by a worker.
type Gateway struct {
	orch    *orchestrator.Orchestrator
	queue   queue.Queue
	workers int

	mu       sync.RWMutex
	channels map[string]types.Channel
	started  bool

	processed   uint64
	queued      uint64
	lastTaskAt  atomic.Int64
	startedUnix atomic.Int64
}

type HealthStatus struct {
	Started        bool      `json:"started"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	Channels       []string  `json:"channels"`
	ProcessedTasks uint64    `json:"processed_tasks"`
	QueuedTasks    uint64    `json:"queued_tasks"`
	LastTaskAt     time.Time `json:"last_task_at,omitempty"`
}

func New(orch *orchestrator.Orchestrator, q queue.Queue, workers int) *Gateway {
	if workers <= 0 {
		workers = 2
	}
	return &Gateway{
		orch:     orch,
		queue:    q,
		workers:  workers,
		channels: make(map[string]types.Channel),
	}
}

func (g *Gateway) RegisterChannel(c types.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
	logger.Info("[gateway] registered channel %s", c.ID())
}

// Orchestrator exposes the task pipeline to channels that need more than
// submission (status reads, approvals, audit queries).
func (g *Gateway) Orchestrator() *orchestrator.Orchestrator {
	return g.orch
}

// Submit runs the task to completion before returning.
func (g *Gateway) Submit(ctx context.Context, req types.TaskRequest) (*orchestrator.Task, error) {
	task, err := g.orch.Submit(req)
	if err != nil {
		return nil, err
	}
	atomic.AddUint64(&g.processed, 1)
	g.lastTaskAt.Store(time.Now().Unix())
	return g.orch.Run(ctx, task.ID)
}

// SubmitAsync registers the task and hands its ID to the queue. The returned
// snapshot is still pending; callers poll for the outcome.
func (g *Gateway) SubmitAsync(ctx context.Context, req types.TaskRequest) (*orchestrator.Task, error) {
	task, err := g.orch.Submit(req)
	if err != nil {
		return nil, err
	}
	if err := g.queue.Publish(ctx, task.ID); err != nil {
		return nil, fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	atomic.AddUint64(&g.queued, 1)
	g.lastTaskAt.Store(time.Now().Unix())
	return task, nil
}

// Start runs the queue workers and every registered channel until ctx is
// cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return fmt.Errorf("gateway already started")
	}
	g.started = true
	channels := make([]types.Channel, 0, len(g.channels))
	for _, c := range g.channels {
		channels = append(channels, c)
	}
	g.mu.Unlock()
	g.startedUnix.Store(time.Now().Unix())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := g.queue.Consume(ctx, g.workers, g.handleQueued)
		if err != nil && ctx.Err() == nil {
			logger.Error("[gateway] queue consumer stopped: %v", err)
		}
	}()

	for _, c := range channels {
		wg.Add(1)
		go func(c types.Channel) {
			defer wg.Done()
			logger.Info("[gateway] starting channel %s", c.ID())
			if err := c.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("[gateway] channel %s stopped: %v", c.ID(), err)
			}
		}(c)
	}

	<-ctx.Done()
	wg.Wait()

	g.mu.Lock()
	g.started = false
	g.mu.Unlock()
	return ctx.Err()
}

func (g *Gateway) handleQueued(ctx context.Context, taskID string) error {
	atomic.AddUint64(&g.processed, 1)
	g.lastTaskAt.Store(time.Now().Unix())
	final, err := g.orch.Run(ctx, taskID)
	if err != nil {
		return err
	}
	logger.Info("[gateway] queued task %s finished %s", taskID, final.Status)
	return nil
}

func (g *Gateway) Health() HealthStatus {
	g.mu.RLock()
	names := make([]string, 0, len(g.channels))
	for id := range g.channels {
		names = append(names, id)
	}
	started := g.started
	g.mu.RUnlock()
	sort.Strings(names)

	status := HealthStatus{
		Started:        started,
		Channels:       names,
		ProcessedTasks: atomic.LoadUint64(&g.processed),
		QueuedTasks:    atomic.LoadUint64(&g.queued),
	}
	if ts := g.startedUnix.Load(); ts > 0 {
		status.StartedAt = time.Unix(ts, 0)
	}
	if ts := g.lastTaskAt.Load(); ts > 0 {
		status.LastTaskAt = time.Unix(ts, 0)
	}
	return status
}
