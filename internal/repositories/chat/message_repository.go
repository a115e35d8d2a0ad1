package chat

import (
	"time"

	"gorm.io/gorm"

	"fixwork_backend/internal/models"
)

type MessageRepository interface {
	// Append inserts the message with its initial receipts and bumps the
	// conversation's activity columns. The row insert is atomic, so
	// concurrent appends on the same conversation never lose messages.
	Append(msg *models.Message, receipts []models.MessageReadReceipt) error
	FindByID(id string) (*models.Message, error)
	FindConversationMessages(conversationID string, limit, offset int) ([]models.Message, error)
	LastMessage(conversationID string) (*models.Message, error)
	// MarkConversationRead writes receipts for every message in the
	// conversation not authored by userID and lacking one. Returns the
	// number of receipts created.
	MarkConversationRead(conversationID, userID string, readAt time.Time) (int64, error)
	UnreadCount(conversationID, userID string) (int64, error)
}

type MessageRepositoryImpl struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &MessageRepositoryImpl{db: db}
}

func (r *MessageRepositoryImpl) Append(msg *models.Message, receipts []models.MessageReadReceipt) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if len(receipts) > 0 {
			for i := range receipts {
				receipts[i].MessageID = msg.ID
			}
			if err := tx.Create(&receipts).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Updates(map[string]any{
				"total_messages":   gorm.Expr("total_messages + 1"),
				"last_activity_at": time.Now(),
			}).Error
	})
}

func (r *MessageRepositoryImpl) FindByID(id string) (*models.Message, error) {
	var msg models.Message
	err := r.db.Preload("ReadReceipts").First(&msg, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *MessageRepositoryImpl) FindConversationMessages(conversationID string, limit, offset int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var msgs []models.Message
	err := r.db.
		Preload("ReadReceipts").
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error
	return msgs, err
}

func (r *MessageRepositoryImpl) LastMessage(conversationID string) (*models.Message, error) {
	var msg models.Message
	err := r.db.
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		First(&msg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *MessageRepositoryImpl) MarkConversationRead(conversationID, userID string, readAt time.Time) (int64, error) {
	var unread []models.Message
	err := r.db.
		Where("conversation_id = ? AND (sender_id IS NULL OR sender_id <> ?)", conversationID, userID).
		Where("id NOT IN (?)",
			r.db.Model(&models.MessageReadReceipt{}).
				Select("message_id").
				Where("user_id = ?", userID),
		).
		Find(&unread).Error
	if err != nil {
		return 0, err
	}
	if len(unread) == 0 {
		return 0, nil
	}

	receipts := make([]models.MessageReadReceipt, len(unread))
	for i, m := range unread {
		receipts[i] = models.MessageReadReceipt{
			MessageID: m.ID,
			UserID:    userID,
			ReadAt:    readAt,
		}
	}
	if err := r.db.Create(&receipts).Error; err != nil {
		return 0, err
	}
	return int64(len(receipts)), nil
}

func (r *MessageRepositoryImpl) UnreadCount(conversationID, userID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Message{}).
		Where("conversation_id = ? AND (sender_id IS NULL OR sender_id <> ?)", conversationID, userID).
		Where("id NOT IN (?)",
			r.db.Model(&models.MessageReadReceipt{}).
				Select("message_id").
				Where("user_id = ?", userID),
		).
		Count(&count).Error
	return count, err
}
