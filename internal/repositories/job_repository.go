package repositories

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"fixwork_backend/internal/jobstatus"
	"fixwork_backend/internal/models"
)

var ErrJobNotFound = errors.New("job not found")

type JobRepository interface {
	Create(job *models.Job) error
	FindByID(id string) (*models.Job, error)
	CreateApplication(app *models.JobApplication) error
	// ApplyOutcome persists a validated transition in one transaction:
	// job fields, the history append and the application status fan-out
	// all commit or none do.
	ApplyOutcome(job *models.Job, out *jobstatus.Outcome) error
	FindOpenJobsPastDeadline(now time.Time) ([]models.Job, error)
	FindJobsDueWithin(now time.Time, window time.Duration) ([]models.Job, error)
	FindCompletedAwaitingPayment(olderThan time.Time) ([]models.Job, error)
}

type JobRepositoryImpl struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) JobRepository {
	return &JobRepositoryImpl{db: db}
}

func (r *JobRepositoryImpl) Create(job *models.Job) error {
	return r.db.Create(job).Error
}

func (r *JobRepositoryImpl) FindByID(id string) (*models.Job, error) {
	var job models.Job
	err := r.db.
		Preload("Applications").
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (r *JobRepositoryImpl) CreateApplication(app *models.JobApplication) error {
	return r.db.Create(app).Error
}

func (r *JobRepositoryImpl) ApplyOutcome(job *models.Job, out *jobstatus.Outcome) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":         job.Status,
			"assigned_to":    job.AssignedTo,
			"completed_at":   job.CompletedAt,
			"dispute_reason": job.DisputeReason,
		}
		if err := tx.Model(&models.Job{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
			return err
		}

		// history is append-only; a row insert is atomic under
		// concurrent transition attempts
		entry := out.HistoryEntry
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		if out.AcceptedApplicationID != "" {
			if err := tx.Model(&models.JobApplication{}).
				Where("id = ?", out.AcceptedApplicationID).
				Update("status", models.ApplicationStatusAccepted).Error; err != nil {
				return err
			}
		}
		if len(out.RejectedApplicationIDs) > 0 {
			if err := tx.Model(&models.JobApplication{}).
				Where("id IN ?", out.RejectedApplicationIDs).
				Update("status", models.ApplicationStatusRejected).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *JobRepositoryImpl) FindOpenJobsPastDeadline(now time.Time) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.
		Where("status = ? AND deadline IS NOT NULL AND deadline < ?", models.JobStatusOpen, now).
		Find(&jobs).Error
	return jobs, err
}

func (r *JobRepositoryImpl) FindJobsDueWithin(now time.Time, window time.Duration) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.
		Where("status = ? AND deadline IS NOT NULL AND deadline BETWEEN ? AND ?",
			models.JobStatusInProgress, now, now.Add(window)).
		Find(&jobs).Error
	return jobs, err
}

func (r *JobRepositoryImpl) FindCompletedAwaitingPayment(olderThan time.Time) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.
		Where("status = ? AND completed_at < ?", models.JobStatusCompleted, olderThan).
		Find(&jobs).Error
	return jobs, err
}
