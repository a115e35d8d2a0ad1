package services

import (
	"context"
	"time"

	"fixwork_backend/internal/channels"
	"fixwork_backend/internal/jobstatus"
	"fixwork_backend/internal/logger"
	"fixwork_backend/internal/models"
	"fixwork_backend/internal/repositories"
	"fixwork_backend/internal/scheduler"
	chatservice "fixwork_backend/internal/services/chat"
	"fixwork_backend/internal/services/dto"
	"fixwork_backend/internal/templates"
	"fixwork_backend/internal/transport"
	"fixwork_backend/pkg/apperrors"
)

// JobService drives the job lifecycle: it validates transitions through
// the state machine, persists the outcome atomically and then executes
// the machine's side-effect triggers (notifications, conversation
// creation, delayed automated messages).
type JobService interface {
	UpdateStatus(ctx context.Context, jobID string, actor jobstatus.Actor, req *dto.UpdateJobStatusRequest) (*dto.JobResponse, error)
	Apply(ctx context.Context, jobID, fixerID string, req *dto.ApplyToJobRequest) error
	// ExpireOverdueOpenJobs is the scheduled sweep moving stale open
	// jobs to expired. Returns how many were expired.
	ExpireOverdueOpenJobs(ctx context.Context) (int, error)
}

type jobService struct {
	jobs          repositories.JobRepository
	users         repositories.UserRepository
	notifications NotificationService
	chat          chatservice.ChatService
	sched         scheduler.Scheduler
	publisher     transport.Publisher
}

func NewJobService(
	jobs repositories.JobRepository,
	users repositories.UserRepository,
	notifications NotificationService,
	chat chatservice.ChatService,
	sched scheduler.Scheduler,
	publisher transport.Publisher,
) JobService {
	return &jobService{
		jobs:          jobs,
		users:         users,
		notifications: notifications,
		chat:          chat,
		sched:         sched,
		publisher:     publisher,
	}
}

func (s *jobService) UpdateStatus(ctx context.Context, jobID string, actor jobstatus.Actor, req *dto.UpdateJobStatusRequest) (*dto.JobResponse, error) {
	job, err := s.jobs.FindByID(jobID)
	if err != nil {
		return nil, apperrors.ErrNotFound(err, "job")
	}

	actorName := actor.ID
	if actorUser, err := s.users.FindByID(actor.ID); err == nil {
		actorName = actorUser.Name
	}

	outcome, err := jobstatus.Apply(job, actor, jobstatus.Transition{
		Target:        req.Status,
		Reason:        req.Reason,
		AssignFixerID: req.FixerID,
	}, actorName)
	if err != nil {
		// invalid transition or role: nothing was written anywhere
		return nil, err
	}

	// the triggers carry the assignee's id; swap in the display name
	// before any template render sees it
	if req.FixerID != "" {
		if fixer, err := s.users.FindByID(req.FixerID); err == nil {
			for _, trig := range outcome.Triggers {
				if _, ok := trig.Data["fixerName"]; ok {
					trig.Data["fixerName"] = fixer.Name
				}
			}
		}
	}

	if err := s.jobs.ApplyOutcome(job, outcome); err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}

	// persistence committed; everything below is best-effort fan-out
	jobChannel := channels.Job(job.ID)
	logger.BroadcastLog(jobChannel, channels.EventJobStatusChanged,
		s.publisher.Publish(ctx, jobChannel, channels.EventJobStatusChanged, map[string]string{
			"jobId":     job.ID,
			"status":    string(job.Status),
			"changedBy": actor.ID,
		}))

	// assignment opens the job conversation before any automated
	// message can target it
	if req.FixerID != "" && job.Status == models.JobStatusInProgress {
		if _, err := s.chat.CreateJobConversation(ctx, job.ID, job.CreatedBy, req.FixerID); err != nil {
			logger.WithError(err).Error("conversation creation failed after assignment", "job_id", job.ID)
		}
	}

	s.executeTriggers(ctx, job, actor, outcome.Triggers)

	return buildJobResponse(job), nil
}

func (s *jobService) executeTriggers(ctx context.Context, job *models.Job, actor jobstatus.Actor, triggers []jobstatus.Trigger) {
	for _, trig := range triggers {
		switch trig.Type {
		case jobstatus.TriggerNotify:
			_, err := s.notifications.Create(ctx, trig.RecipientID, &dto.CreateNotificationRequest{
				Kind:     trig.Kind,
				Data:     trig.Data,
				SenderID: &actor.ID,
				Action:   map[string]any{"jobId": job.ID},
			})
			if err != nil {
				logger.WithError(err).Error("transition notification failed",
					"job_id", job.ID, "kind", trig.Kind, "recipient", trig.RecipientID)
			}
		case jobstatus.TriggerAutoMessage:
			err := s.sched.EnqueueAutoMessage(ctx, scheduler.AutoMessagePayload{
				JobID:       job.ID,
				TemplateKey: trig.TemplateKey,
				Data:        trig.Data,
			}, trig.Delay)
			if err != nil {
				logger.WithError(err).Error("auto message enqueue failed",
					"job_id", job.ID, "template", trig.TemplateKey)
			}
		}
	}
}

func (s *jobService) Apply(ctx context.Context, jobID, fixerID string, req *dto.ApplyToJobRequest) error {
	job, err := s.jobs.FindByID(jobID)
	if err != nil {
		return apperrors.ErrNotFound(err, "job")
	}
	if job.Status != models.JobStatusOpen {
		return apperrors.ErrInvalidOperation("job", "applications are only accepted on open jobs")
	}
	fixer, err := s.users.FindByID(fixerID)
	if err != nil {
		return apperrors.ErrNotFound(err, "user")
	}
	if fixer.Role != models.UserRoleFixer {
		return apperrors.NewForbiddenError("only fixers may apply to jobs")
	}

	app := &models.JobApplication{
		JobID:   jobID,
		FixerID: fixerID,
		Message: req.Message,
	}
	if err := s.jobs.CreateApplication(app); err != nil {
		return apperrors.ErrConflict(err, "job", "application already exists")
	}

	jobChannel := channels.Job(jobID)
	logger.BroadcastLog(jobChannel, channels.EventApplicationSubmitted,
		s.publisher.Publish(ctx, jobChannel, channels.EventApplicationSubmitted, map[string]string{
			"jobId":   jobID,
			"fixerId": fixerID,
		}))

	_, err = s.notifications.Create(ctx, job.CreatedBy, &dto.CreateNotificationRequest{
		Kind:     templates.KindApplicationSubmitted,
		Data:     map[string]string{"fixerName": fixer.Name, "jobTitle": job.Title},
		SenderID: &fixerID,
		Action:   map[string]any{"jobId": jobID, "applicationId": app.ID},
	})
	if err != nil {
		logger.WithError(err).Error("application notification failed", "job_id", jobID)
	}
	return nil
}

func (s *jobService) ExpireOverdueOpenJobs(ctx context.Context) (int, error) {
	jobs, err := s.jobs.FindOpenJobsPastDeadline(time.Now())
	if err != nil {
		return 0, apperrors.ErrStoreUnavailable(err)
	}

	expired := 0
	system := jobstatus.Actor{ID: "system", Role: models.UserRoleAdmin}
	for i := range jobs {
		job := &jobs[i]
		outcome, err := jobstatus.Apply(job, system, jobstatus.Transition{
			Target: models.JobStatusExpired,
			Reason: "deadline passed without assignment",
		}, "Fixwork")
		if err != nil {
			logger.WithError(err).Warn("expiry transition rejected", "job_id", job.ID)
			continue
		}
		if err := s.jobs.ApplyOutcome(job, outcome); err != nil {
			logger.WithError(err).Error("expiry persist failed", "job_id", job.ID)
			continue
		}
		s.executeTriggers(ctx, job, system, outcome.Triggers)
		expired++
	}
	return expired, nil
}

func buildJobResponse(job *models.Job) *dto.JobResponse {
	response := &dto.JobResponse{
		ID:            job.ID,
		Title:         job.Title,
		Status:        job.Status,
		CreatedBy:     job.CreatedBy,
		AssignedTo:    job.AssignedTo,
		CompletedAt:   job.CompletedAt,
		DisputeReason: job.DisputeReason,
	}
	for _, h := range job.StatusHistory {
		response.StatusHistory = append(response.StatusHistory, dto.JobStatusChangeResponse{
			JobID:     h.JobID,
			Status:    h.Status,
			ChangedBy: h.ChangedBy,
			Reason:    h.Reason,
			ChangedAt: h.CreatedAt,
		})
	}
	return response
}
