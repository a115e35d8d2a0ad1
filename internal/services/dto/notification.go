package dto

import (
	"time"

	"fixwork_backend/internal/models"
)

type CreateNotificationRequest struct {
	Kind     string                      `json:"kind" binding:"required"`
	Data     map[string]string           `json:"data"`
	Priority models.NotificationPriority `json:"priority"`
	SenderID *string                     `json:"sender_id"`
	// Action is the opaque descriptor clients use to deep-link
	// (e.g. {"jobId": "...", "conversationId": "..."}).
	Action map[string]any `json:"action"`
}

type NotificationResponse struct {
	ID        string                      `json:"id"`
	UserID    string                      `json:"user_id"`
	SenderID  *string                     `json:"sender_id,omitempty"`
	Kind      string                      `json:"kind"`
	Category  models.NotificationCategory `json:"category"`
	Title     string                      `json:"title"`
	Body      string                      `json:"body"`
	Action    map[string]any              `json:"action,omitempty"`
	Priority  models.NotificationPriority `json:"priority"`
	IsRead    bool                        `json:"is_read"`
	ReadAt    *time.Time                  `json:"read_at,omitempty"`
	CreatedAt time.Time                   `json:"created_at"`
}

type NotificationListResponse struct {
	Items       []*NotificationResponse `json:"items"`
	Total       int64                   `json:"total"`
	UnreadCount int64                   `json:"unread_count"`
	HasMore     bool                    `json:"has_more"`
}

type MarkReadRequest struct {
	// Empty means "mark everything read".
	IDs []string `json:"ids"`
}
