package models

import "time"

// Conversation ties exactly two participants to a job. ParticipantKey is
// the sorted id pair, so (job, pair) uniqueness makes creation idempotent.
type Conversation struct {
	BaseModel
	JobID          *string `gorm:"index:idx_job_pair,unique"`
	ParticipantKey string  `gorm:"not null;index:idx_job_pair,unique"`
	LastActivityAt time.Time
	TotalMessages  int64                `gorm:"default:0"`
	Priority       NotificationPriority `gorm:"type:varchar(10);default:'normal'"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID"`
	Messages     []Message                 `gorm:"foreignKey:ConversationID"`
}

type ConversationParticipant struct {
	BaseModel
	ConversationID string `gorm:"not null;index:idx_conv_user,unique"`
	UserID         string `gorm:"not null;index:idx_conv_user,unique"`
}

// Message is append-only. SenderID nil means a system message.
type Message struct {
	BaseModel
	ConversationID string      `gorm:"not null;index"`
	SenderID       *string     `gorm:"index"`
	Content        string      `gorm:"type:text;not null"`
	MessageType    MessageType `gorm:"type:varchar(10);not null;default:'text'"`

	ReadReceipts []MessageReadReceipt `gorm:"foreignKey:MessageID"`
}

// MessageReadReceipt records that a participant read a message. The
// sender's own receipt is written together with the message.
type MessageReadReceipt struct {
	MessageID string    `gorm:"primaryKey"`
	UserID    string    `gorm:"primaryKey"`
	ReadAt    time.Time `gorm:"not null"`
}

// IsReadBy reports whether the message carries a receipt for userID.
func (m *Message) IsReadBy(userID string) bool {
	for _, r := range m.ReadReceipts {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// IsAuthoredBy reports whether userID sent the message. System messages
// have no author.
func (m *Message) IsAuthoredBy(userID string) bool {
	return m.SenderID != nil && *m.SenderID == userID
}
