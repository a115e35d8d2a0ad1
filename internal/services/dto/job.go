package dto

import (
	"time"

	"fixwork_backend/internal/models"
)

type UpdateJobStatusRequest struct {
	Status models.JobStatus `json:"status" binding:"required"`
	Reason string           `json:"reason"`
	// FixerID is required when assigning (open -> in_progress).
	FixerID string `json:"fixer_id"`
}

type ApplyToJobRequest struct {
	Message string `json:"message"`
}

type JobStatusChangeResponse struct {
	JobID     string           `json:"job_id"`
	Status    models.JobStatus `json:"status"`
	ChangedBy string           `json:"changed_by"`
	Reason    string           `json:"reason,omitempty"`
	ChangedAt time.Time        `json:"changed_at"`
}

type JobResponse struct {
	ID            string                    `json:"id"`
	Title         string                    `json:"title"`
	Status        models.JobStatus          `json:"status"`
	CreatedBy     string                    `json:"created_by"`
	AssignedTo    *string                   `json:"assigned_to,omitempty"`
	CompletedAt   *time.Time                `json:"completed_at,omitempty"`
	DisputeReason string                    `json:"dispute_reason,omitempty"`
	StatusHistory []JobStatusChangeResponse `json:"status_history,omitempty"`
}
