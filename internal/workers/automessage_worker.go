package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"fixwork_backend/internal/logger"
	"fixwork_backend/internal/repositories"
	"fixwork_backend/internal/scheduler"
	chatservice "fixwork_backend/internal/services/chat"
	"fixwork_backend/internal/templates"
)

// AutoMessageWorker consumes queued automated-message tasks and delivers
// them into the job's conversation as system messages.
type AutoMessageWorker struct {
	jobs repositories.JobRepository
	chat chatservice.ChatService
}

func NewAutoMessageWorker(jobs repositories.JobRepository, chat chatservice.ChatService) *AutoMessageWorker {
	return &AutoMessageWorker{jobs: jobs, chat: chat}
}

// Mux returns the task router for the asynq server.
func (w *AutoMessageWorker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(scheduler.TaskAutoMessage, w.Handle)
	return mux
}

func (w *AutoMessageWorker) Handle(ctx context.Context, task *asynq.Task) error {
	var payload scheduler.AutoMessagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// malformed payload never becomes valid: drop instead of retrying
		return fmt.Errorf("auto message payload: %v: %w", err, asynq.SkipRetry)
	}

	title, body, err := templates.Render(payload.TemplateKey, payload.Data)
	if err != nil {
		return fmt.Errorf("auto message template: %v: %w", err, asynq.SkipRetry)
	}

	job, err := w.jobs.FindByID(payload.JobID)
	if err != nil {
		return fmt.Errorf("auto message job lookup: %w", err)
	}
	if job.AssignedTo == nil {
		// the job lost its assignee between enqueue and delivery
		// (cancelled or relisted); the message no longer applies
		logger.WorkerLog("auto_message", "skip unassigned job "+job.ID, nil)
		return nil
	}

	conv, err := w.chat.FindConversationByJob(ctx, job.ID, job.CreatedBy, *job.AssignedTo)
	if err != nil {
		// conversation creation may still be in flight; retry
		return fmt.Errorf("auto message conversation lookup: %w", err)
	}

	if _, err := w.chat.SendAutomatedMessage(ctx, conv.ID, payload.TemplateKey, title, body); err != nil {
		return fmt.Errorf("auto message delivery: %w", err)
	}
	return nil
}
