package workers

import (
	"context"
	"fmt"
	"time"

	"fixwork_backend/internal/cache"
	"fixwork_backend/internal/logger"
	"fixwork_backend/internal/repositories"
	"fixwork_backend/internal/scheduler"
	"fixwork_backend/internal/services"
	"fixwork_backend/internal/services/dto"
	"fixwork_backend/internal/templates"
)

const (
	reminderSweepInterval  = 1 * time.Hour
	paymentSweepInterval   = 6 * time.Hour
	retentionSweepInterval = 24 * time.Hour

	deadlineWindow        = 24 * time.Hour
	paymentGracePeriod    = 48 * time.Hour
	notificationRetention = 90 * 24 * time.Hour
)

// ReminderWorker runs the periodic sweeps: expiring overdue open jobs,
// deadline reminders for in-progress work and payment reminders for
// completed jobs awaiting payment. Reminder sends are deduplicated
// through the cache so an hourly sweep does not re-notify.
type ReminderWorker struct {
	jobs          repositories.JobRepository
	jobService    services.JobService
	notifications services.NotificationService
	sched         scheduler.Scheduler
	store         cache.Store
}

func NewReminderWorker(
	jobs repositories.JobRepository,
	jobService services.JobService,
	notifications services.NotificationService,
	sched scheduler.Scheduler,
	store cache.Store,
) *ReminderWorker {
	return &ReminderWorker{
		jobs:          jobs,
		jobService:    jobService,
		notifications: notifications,
		sched:         sched,
		store:         store,
	}
}

// Start launches the sweep loops; they stop when ctx is cancelled.
func (w *ReminderWorker) Start(ctx context.Context) {
	go w.loop(ctx, reminderSweepInterval, "expire_open_jobs", w.expireOpenJobs)
	go w.loop(ctx, reminderSweepInterval, "deadline_reminders", w.sendDeadlineReminders)
	go w.loop(ctx, paymentSweepInterval, "payment_reminders", w.sendPaymentReminders)
	go w.loop(ctx, retentionSweepInterval, "clean_old_notifications", w.cleanOldNotifications)
}

func (w *ReminderWorker) loop(ctx context.Context, interval time.Duration, operation string, sweep func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("reminder worker stopped", "operation", operation)
			return
		case <-ticker.C:
			logger.WorkerLog("reminder", operation, sweep(ctx))
		}
	}
}

func (w *ReminderWorker) expireOpenJobs(ctx context.Context) error {
	expired, err := w.jobService.ExpireOverdueOpenJobs(ctx)
	if err != nil {
		return err
	}
	if expired > 0 {
		logger.Info("expired overdue open jobs", "count", expired)
	}
	return nil
}

func (w *ReminderWorker) sendDeadlineReminders(ctx context.Context) error {
	jobs, err := w.jobs.FindJobsDueWithin(time.Now(), deadlineWindow)
	if err != nil {
		return err
	}

	for i := range jobs {
		job := &jobs[i]
		if job.AssignedTo == nil || job.Deadline == nil {
			continue
		}
		if w.alreadySent(ctx, "deadline", job.ID) {
			continue
		}

		data := map[string]string{
			"jobTitle": job.Title,
			"deadline": job.Deadline.Format("2 Jan 15:04"),
		}
		if _, err := w.notifications.Create(ctx, *job.AssignedTo, &dto.CreateNotificationRequest{
			Kind:   templates.KindDeadlineReminder,
			Data:   data,
			Action: map[string]any{"jobId": job.ID},
		}); err != nil {
			logger.WithError(err).Warn("deadline reminder failed", "job_id", job.ID)
			continue
		}
		if err := w.sched.EnqueueAutoMessage(ctx, scheduler.AutoMessagePayload{
			JobID:       job.ID,
			TemplateKey: templates.AutoDeadlineReminder,
			Data:        data,
		}, 0); err != nil {
			logger.WithError(err).Warn("deadline auto message enqueue failed", "job_id", job.ID)
		}
		w.markSent(ctx, "deadline", job.ID, deadlineWindow)
	}
	return nil
}

func (w *ReminderWorker) sendPaymentReminders(ctx context.Context) error {
	jobs, err := w.jobs.FindCompletedAwaitingPayment(time.Now().Add(-paymentGracePeriod))
	if err != nil {
		return err
	}

	for i := range jobs {
		job := &jobs[i]
		if w.alreadySent(ctx, "payment", job.ID) {
			continue
		}

		data := map[string]string{"jobTitle": job.Title}
		if _, err := w.notifications.Create(ctx, job.CreatedBy, &dto.CreateNotificationRequest{
			Kind:   templates.KindPaymentReminder,
			Data:   data,
			Action: map[string]any{"jobId": job.ID},
		}); err != nil {
			logger.WithError(err).Warn("payment reminder failed", "job_id", job.ID)
			continue
		}
		if err := w.sched.EnqueueAutoMessage(ctx, scheduler.AutoMessagePayload{
			JobID:       job.ID,
			TemplateKey: templates.AutoPaymentReminder,
			Data:        data,
		}, 0); err != nil {
			logger.WithError(err).Warn("payment auto message enqueue failed", "job_id", job.ID)
		}
		w.markSent(ctx, "payment", job.ID, paymentSweepInterval*4)
	}
	return nil
}

func (w *ReminderWorker) cleanOldNotifications(ctx context.Context) error {
	removed, err := w.notifications.CleanOld(ctx, time.Now().Add(-notificationRetention))
	if err != nil {
		return err
	}
	if removed > 0 {
		logger.Info("old notifications removed", "count", removed)
	}
	return nil
}

func (w *ReminderWorker) alreadySent(ctx context.Context, kind, jobID string) bool {
	var sentAt time.Time
	hit, err := w.store.GetJSON(ctx, reminderKey(kind, jobID), &sentAt)
	if err != nil {
		// cache outage must not suppress reminders
		return false
	}
	return hit
}

func (w *ReminderWorker) markSent(ctx context.Context, kind, jobID string, ttl time.Duration) {
	if err := w.store.SetJSON(ctx, reminderKey(kind, jobID), time.Now(), ttl); err != nil {
		logger.WithError(err).Warn("reminder dedup write failed", "job_id", jobID)
	}
}

func reminderKey(kind, jobID string) string {
	return fmt.Sprintf("reminder:%s:%s", kind, jobID)
}
