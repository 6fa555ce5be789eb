package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"lastagent/app/pkg/logger"
)

type AMQPConfig struct {
	URL      string
	Queue    string
	Prefetch int
}

// AMQPQueue backs the task queue with a durable RabbitMQ queue and manual
// acknowledgements.
type AMQPQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewAMQPQueue(cfg AMQPConfig) (*AMQPQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	queueName := cfg.Queue
	if queueName == "" {
		queueName = "lastagent.tasks"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("set amqp qos: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare amqp queue: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch, queue: queueName}, nil
}

func (q *AMQPQueue) Publish(ctx context.Context, taskID string) error {
	if q == nil || q.ch == nil {
		return ErrClosed
	}
	return q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Body:         []byte(taskID),
	})
}

// Consume acks every delivery exactly once. A handler failure is logged and
// the message dropped; the task's own result carries the failure, so a
// redelivery would only re-run a finished pipeline.
func (q *AMQPQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return ErrClosed
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("subscribe amqp queue: %w", err)
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
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					if err := handler(ctx, string(msg.Body)); err != nil {
						logger.Error("[queue] amqp task %s handler failed: %v", string(msg.Body), err)
					}
					_ = msg.Ack(false)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (q *AMQPQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
