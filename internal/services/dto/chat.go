package dto

import (
	"time"

	"fixwork_backend/internal/models"
)

type SendMessageRequest struct {
	Content     string             `json:"content" binding:"required"`
	MessageType models.MessageType `json:"message_type"`
}

type MessageResponse struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversation_id"`
	SenderID       *string              `json:"sender_id,omitempty"`
	Content        string               `json:"content"`
	MessageType    models.MessageType   `json:"message_type"`
	ReadBy         map[string]time.Time `json:"read_by"`
	CreatedAt      time.Time            `json:"created_at"`
}

type ConversationResponse struct {
	ID             string    `json:"id"`
	JobID          *string   `json:"job_id,omitempty"`
	ParticipantIDs []string  `json:"participant_ids"`
	LastActivityAt time.Time `json:"last_activity_at"`
	TotalMessages  int64     `json:"total_messages"`
}

// ConversationSummary is the cached per-user list entry.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	JobID          *string   `json:"job_id,omitempty"`
	ParticipantIDs []string  `json:"participant_ids"`
	UnreadCount    int64     `json:"unread_count"`
	LastPreview    string    `json:"last_preview"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// MessageNotificationPayload is the condensed event fanned out to the
// other participants' notification channels on send.
type MessageNotificationPayload struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Preview        string `json:"preview"`
}
