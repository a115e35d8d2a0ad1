// Package scheduler queues automated system messages for delivery after
// a delay. The interface exists so tests can run tasks synchronously
// instead of waiting on real timers; production uses asynq backed by the
// same Redis instance as the cache and transport.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskAutoMessage = "chat:auto_message"

	QueueDefault = "default"
	QueueLow     = "low"
)

// AutoMessagePayload carries everything the worker needs to resolve the
// job conversation and render the system message.
type AutoMessagePayload struct {
	JobID       string            `json:"job_id"`
	TemplateKey string            `json:"template_key"`
	Data        map[string]string `json:"data"`
}

type Scheduler interface {
	// EnqueueAutoMessage schedules the automated message. A zero delay
	// enqueues for immediate processing.
	EnqueueAutoMessage(ctx context.Context, payload AutoMessagePayload, delay time.Duration) error
}

// AsynqScheduler is the production implementation.
type AsynqScheduler struct {
	client *asynq.Client
}

func NewAsynqScheduler(redisAddr string, redisDB int) *AsynqScheduler {
	return &AsynqScheduler{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr, DB: redisDB}),
	}
}

func (s *AsynqScheduler) EnqueueAutoMessage(ctx context.Context, payload AutoMessagePayload, delay time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal auto message payload: %w", err)
	}

	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(3)}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	task := asynq.NewTask(TaskAutoMessage, body)
	if _, err := s.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue auto message: %w", err)
	}
	return nil
}

func (s *AsynqScheduler) Close() error {
	return s.client.Close()
}
