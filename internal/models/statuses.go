package models

type UserRole string
type JobStatus string
type ApplicationStatus string
type MessageType string
type NotificationPriority string
type NotificationCategory string

const (
	UserRoleHirer UserRole = "hirer"
	UserRoleFixer UserRole = "fixer"
	UserRoleAdmin UserRole = "admin"

	JobStatusOpen       JobStatus = "open"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusDisputed   JobStatus = "disputed"
	JobStatusExpired    JobStatus = "expired"

	ApplicationStatusPending   ApplicationStatus = "pending"
	ApplicationStatusAccepted  ApplicationStatus = "accepted"
	ApplicationStatusRejected  ApplicationStatus = "rejected"
	ApplicationStatusWithdrawn ApplicationStatus = "withdrawn"

	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"

	PriorityLow      NotificationPriority = "low"
	PriorityNormal   NotificationPriority = "normal"
	PriorityHigh     NotificationPriority = "high"
	PriorityCritical NotificationPriority = "critical"

	CategoryJob         NotificationCategory = "job"
	CategoryApplication NotificationCategory = "application"
	CategoryMessage     NotificationCategory = "message"
	CategoryPayment     NotificationCategory = "payment"
	CategorySystem      NotificationCategory = "system"
)
