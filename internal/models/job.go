package models

import "time"

type Job struct {
	BaseModel
	Title         string    `gorm:"not null"`
	Description   string    `gorm:"type:text"`
	Category      string    `gorm:"index"`
	Location      string    `gorm:"index"`
	Budget        float64
	Status        JobStatus `gorm:"type:varchar(20);not null;default:'open';index"`
	CreatedBy     string    `gorm:"not null;index"` // hirer
	AssignedTo    *string   `gorm:"index"`          // fixer, set iff an application is accepted
	Deadline      *time.Time
	CompletedAt   *time.Time
	DisputeReason string

	StatusHistory []JobStatusChange `gorm:"foreignKey:JobID"`
	Applications  []JobApplication  `gorm:"foreignKey:JobID"`
}

// JobStatusChange is one entry of the append-only status history.
type JobStatusChange struct {
	BaseModel
	JobID     string    `gorm:"not null;index"`
	Status    JobStatus `gorm:"type:varchar(20);not null"`
	ChangedBy string    `gorm:"not null"`
	Reason    string
}

type JobApplication struct {
	BaseModel
	JobID   string            `gorm:"not null;index:idx_job_fixer,unique"`
	FixerID string            `gorm:"not null;index:idx_job_fixer,unique"`
	Status  ApplicationStatus `gorm:"type:varchar(20);not null;default:'pending'"`
	Message string
}

// IsTerminal reports whether no further transitions exist from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCancelled
}
