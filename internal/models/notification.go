package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification is immutable once created, except for the read state.
type Notification struct {
	BaseModel
	UserID   string               `gorm:"not null;index"`
	SenderID *string              // nil for system-generated notifications
	Kind     string               `gorm:"not null"` // template kind, e.g. "job_assigned"
	Category NotificationCategory `gorm:"type:varchar(20);not null;index"`
	Title    string               `gorm:"not null"`
	Body     string
	Data     datatypes.JSON       `gorm:"type:jsonb"` // opaque action descriptor, e.g. {"jobId": "..."}
	Priority NotificationPriority `gorm:"type:varchar(10);not null;default:'normal'"`
	IsRead   bool                 `gorm:"default:false;index"`
	ReadAt   *time.Time
}
