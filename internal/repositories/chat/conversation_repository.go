package chat

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"fixwork_backend/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

type ConversationRepository interface {
	// FindByJobAndPair looks up the conversation for (job, participant
	// pair); pairKey is the sorted id pair. Returns
	// ErrConversationNotFound on miss.
	FindByJobAndPair(jobID, pairKey string) (*models.Conversation, error)
	// CreateWithSystemMessage creates the conversation, its participant
	// rows, the initial system message and its read receipts in one
	// transaction. The unique (job, pair) index makes a concurrent
	// duplicate create fail instead of forking the conversation.
	CreateWithSystemMessage(conv *models.Conversation, participants []models.ConversationParticipant, msg *models.Message, receipts []models.MessageReadReceipt) error
	FindByID(id string) (*models.Conversation, error)
	IsParticipant(conversationID, userID string) (bool, error)
	// FindUserConversations returns the user's conversations ordered by
	// last activity, most recent first.
	FindUserConversations(userID string, limit int) ([]models.Conversation, error)
}

type ConversationRepositoryImpl struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &ConversationRepositoryImpl{db: db}
}

func (r *ConversationRepositoryImpl) FindByJobAndPair(jobID, pairKey string) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.Preload("Participants").
		First(&conv, "job_id = ? AND participant_key = ?", jobID, pairKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (r *ConversationRepositoryImpl) CreateWithSystemMessage(
	conv *models.Conversation,
	participants []models.ConversationParticipant,
	msg *models.Message,
	receipts []models.MessageReadReceipt,
) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		for i := range participants {
			participants[i].ConversationID = conv.ID
		}
		if err := tx.Create(&participants).Error; err != nil {
			return err
		}
		msg.ConversationID = conv.ID
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
		return tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).
			Updates(map[string]any{
				"total_messages":   1,
				"last_activity_at": time.Now(),
			}).Error
	})
}

func (r *ConversationRepositoryImpl) FindByID(id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.Preload("Participants").First(&conv, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (r *ConversationRepositoryImpl) IsParticipant(conversationID, userID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *ConversationRepositoryImpl) FindUserConversations(userID string, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	var convs []models.Conversation
	err := r.db.
		Preload("Participants").
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID).
		Order("conversations.last_activity_at DESC").
		Limit(limit).
		Find(&convs).Error
	return convs, err
}
