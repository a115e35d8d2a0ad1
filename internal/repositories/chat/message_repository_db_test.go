package chat

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"fixwork_backend/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Conversation{}, &models.Message{}, &models.MessageReadReceipt{}))
	return db
}

func appendMessage(t *testing.T, repo MessageRepository, convID string, senderID *string, receipts []models.MessageReadReceipt) *models.Message {
	t.Helper()

	msg := &models.Message{
		ConversationID: convID,
		SenderID:       senderID,
		Content:        "hello",
		MessageType:    models.MessageTypeText,
	}
	msg.ID = uuid.NewString()
	require.NoError(t, repo.Append(msg, receipts))
	return msg
}

// The receipt backfill must cover exactly the foreign messages without
// one: not the reader's own messages and not already-receipted ones.
func TestMarkConversationReadReceiptsOnlyUnread(t *testing.T) {
	db := openTestDB(t)
	repo := NewMessageRepository(db)

	convID := uuid.NewString()
	reader := uuid.NewString()
	sender := uuid.NewString()
	now := time.Now()

	unreadFromSender := appendMessage(t, repo, convID, &sender, nil)
	appendMessage(t, repo, convID, &sender, []models.MessageReadReceipt{{UserID: reader, ReadAt: now}})
	unreadSystem := appendMessage(t, repo, convID, nil, nil)
	appendMessage(t, repo, convID, &reader, nil)

	t.Cleanup(func() {
		var ids []string
		db.Model(&models.Message{}).Where("conversation_id = ?", convID).Pluck("id", &ids)
		db.Where("message_id IN (?)", ids).Delete(&models.MessageReadReceipt{})
		db.Where("conversation_id = ?", convID).Delete(&models.Message{})
	})

	changed, err := repo.MarkConversationRead(convID, reader, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)

	var receipts []models.MessageReadReceipt
	require.NoError(t, db.Where("user_id = ?", reader).
		Where("message_id IN (?)", []string{unreadFromSender.ID, unreadSystem.ID}).
		Find(&receipts).Error)
	assert.Len(t, receipts, 2)

	// repeating is a no-op
	changed, err = repo.MarkConversationRead(convID, reader, now)
	require.NoError(t, err)
	assert.Zero(t, changed)
}
