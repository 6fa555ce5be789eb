package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	config "lastagent/app/configs"
	"lastagent/app/pkg/logger"
)

var ErrClosed = errors.New("queue: closed")

// Handler processes one task ID taken from the queue.
type Handler func(ctx context.Context, taskID string) error

// Producer publishes task IDs for asynchronous processing.
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer runs workers that drain the queue until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue is both ends of the transport.
type Queue interface {
	Producer
	Consumer
}

// New builds the queue named by cfg.Driver.
func New(cfg config.QueueConfig) (Queue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return NewRedisQueue(RedisConfig{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Queue:    cfg.RedisQueue,
		})
	case "amqp":
		return NewAMQPQueue(AMQPConfig{
			URL:      cfg.AMQPURL,
			Queue:    cfg.AMQPQueue,
			Prefetch: cfg.AMQPPrefetch,
		})
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

// MemoryQueue is a channel-backed queue for single-process deployments and
// tests. The buffer channel itself is never closed; shutdown is signalled
// through done so a Publish blocked on a full buffer unblocks instead of
// sending on a closed channel.
type MemoryQueue struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryQueue{ch: make(chan string, buffer), done: make(chan struct{})}
}

func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	case q.ch <- taskID:
		return nil
	}
}

// Consume blocks until ctx is cancelled or the queue is closed, then waits
// for in-flight handlers.
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case taskID := <-q.ch:
					if err := handler(ctx, taskID); err != nil {
						logger.Error("[queue] task %s handler failed: %v", taskID, err)
					}
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
	case <-q.done:
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
