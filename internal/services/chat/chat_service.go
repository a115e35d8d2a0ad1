package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fixwork_backend/internal/cache"
	"fixwork_backend/internal/channels"
	"fixwork_backend/internal/logger"
	"fixwork_backend/internal/models"
	"fixwork_backend/internal/moderation"
	"fixwork_backend/internal/repositories"
	repoChat "fixwork_backend/internal/repositories/chat"
	"fixwork_backend/internal/services/dto"
	"fixwork_backend/internal/transport"
	"fixwork_backend/pkg/apperrors"
)

const (
	rateLimitActionSend = "send_message"
	previewMaxLen       = 50
)

type ChatService interface {
	// CreateJobConversation is idempotent on (job, participant pair):
	// repeated calls return the one existing conversation.
	CreateJobConversation(ctx context.Context, jobID, hirerID, fixerID string) (*dto.ConversationResponse, error)
	SendMessage(ctx context.Context, conversationID, senderID, content string, msgType models.MessageType) (*dto.MessageResponse, error)
	// SendAutomatedMessage appends a system message (no sender). Unlike
	// the conversation-opening message it is left unread so recipients
	// see it in their unread counts.
	SendAutomatedMessage(ctx context.Context, conversationID, templateKey string, title, body string) (*dto.MessageResponse, error)
	MarkAsRead(ctx context.Context, conversationID, userID string) error
	GetUserConversations(ctx context.Context, userID string, limit int) ([]dto.ConversationSummary, error)
	GetMessages(ctx context.Context, conversationID, userID string, limit, offset int) ([]dto.MessageResponse, error)
	FindConversationByJob(ctx context.Context, jobID, hirerID, fixerID string) (*models.Conversation, error)
}

type chatService struct {
	conversations repoChat.ConversationRepository
	messages      repoChat.MessageRepository
	users         repositories.UserRepository
	jobs          repositories.JobRepository
	store         cache.Store
	limiter       cache.Limiter
	publisher     transport.Publisher
	validator     moderation.Validator
}

func NewChatService(
	conversations repoChat.ConversationRepository,
	messages repoChat.MessageRepository,
	users repositories.UserRepository,
	jobs repositories.JobRepository,
	store cache.Store,
	limiter cache.Limiter,
	publisher transport.Publisher,
	validator moderation.Validator,
) ChatService {
	return &chatService{
		conversations: conversations,
		messages:      messages,
		users:         users,
		jobs:          jobs,
		store:         store,
		limiter:       limiter,
		publisher:     publisher,
		validator:     validator,
	}
}

func (s *chatService) CreateJobConversation(ctx context.Context, jobID, hirerID, fixerID string) (*dto.ConversationResponse, error) {
	pairKey := channels.PairKey(hirerID, fixerID)

	if existing, err := s.conversations.FindByJobAndPair(jobID, pairKey); err == nil {
		return buildConversationResponse(existing), nil
	} else if err != repoChat.ErrConversationNotFound {
		return nil, apperrors.ErrStoreUnavailable(err)
	}

	job, err := s.jobs.FindByID(jobID)
	if err != nil {
		return nil, apperrors.ErrNotFound(err, "job")
	}
	hirer, err := s.users.FindByID(hirerID)
	if err != nil {
		return nil, apperrors.ErrNotFound(err, "user")
	}
	fixer, err := s.users.FindByID(fixerID)
	if err != nil {
		return nil, apperrors.ErrNotFound(err, "user")
	}

	conv := &models.Conversation{
		JobID:          &job.ID,
		ParticipantKey: pairKey,
		LastActivityAt: time.Now(),
	}
	participants := []models.ConversationParticipant{
		{UserID: hirerID},
		{UserID: fixerID},
	}

	// The opening system message is the one moment contact details cross
	// into chat. It is marked read by both so the auto-generated text
	// does not show up as an unread badge.
	msg := &models.Message{
		Content:     openingMessage(job, hirer, fixer),
		MessageType: models.MessageTypeSystem,
	}
	now := time.Now()
	receipts := []models.MessageReadReceipt{
		{UserID: hirerID, ReadAt: now},
		{UserID: fixerID, ReadAt: now},
	}

	if err := s.conversations.CreateWithSystemMessage(conv, participants, msg, receipts); err != nil {
		// a concurrent create on the unique (job, pair) index: re-read
		if existing, findErr := s.conversations.FindByJobAndPair(jobID, pairKey); findErr == nil {
			return buildConversationResponse(existing), nil
		}
		return nil, apperrors.ErrStoreUnavailable(err)
	}
	conv.Participants = participants

	s.invalidateConversationCaches(ctx, hirerID, fixerID)

	response := buildConversationResponse(conv)
	for _, userID := range []string{hirerID, fixerID} {
		userChannel := channels.UserNotifications(userID)
		logger.BroadcastLog(userChannel, channels.EventConversationCreated,
			s.publisher.Publish(ctx, userChannel, channels.EventConversationCreated, response))
	}
	return response, nil
}

func (s *chatService) SendMessage(ctx context.Context, conversationID, senderID, content string, msgType models.MessageType) (*dto.MessageResponse, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.ErrInvalidOperation("chat", "message content is empty")
	}
	if msgType == "" {
		msgType = models.MessageTypeText
	}

	ok, retryAfter, err := s.limiter.Allow(ctx, rateLimitActionSend, senderID)
	if err != nil {
		logger.WithError(err).Warn("rate limiter unavailable, allowing", "action", rateLimitActionSend)
	} else if !ok {
		return nil, apperrors.ErrRateLimited(rateLimitActionSend, retryAfter)
	}

	conv, err := s.conversations.FindByID(conversationID)
	if err != nil {
		return nil, apperrors.ErrNotFound(err, "conversation")
	}
	if !isParticipant(conv, senderID) {
		return nil, apperrors.ErrNotParticipant(senderID)
	}

	if result := s.validator.Validate(content, moderation.ContextChatMessage, senderID); !result.IsValid {
		return nil, apperrors.ErrContentRejected(result.Violations)
	}

	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       &senderID,
		Content:        content,
		MessageType:    msgType,
	}
	receipts := []models.MessageReadReceipt{{UserID: senderID, ReadAt: time.Now()}}

	if err := s.messages.Append(msg, receipts); err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}
	msg.ReadReceipts = receipts

	var participantIDs []string
	for _, p := range conv.Participants {
		participantIDs = append(participantIDs, p.UserID)
	}
	s.invalidateConversationCaches(ctx, participantIDs...)

	s.broadcastMessage(ctx, conv, msg, senderID)
	return buildMessageResponse(msg), nil
}

func (s *chatService) SendAutomatedMessage(ctx context.Context, conversationID, templateKey string, title, body string) (*dto.MessageResponse, error) {
	conv, err := s.conversations.FindByID(conversationID)
	if err != nil {
		return nil, apperrors.ErrNotFound(err, "conversation")
	}

	content := body
	if title != "" {
		content = title + "\n" + body
	}
	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       nil,
		Content:        content,
		MessageType:    models.MessageTypeSystem,
	}

	// no receipts: every participant sees the system message as unread
	if err := s.messages.Append(msg, nil); err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}

	var participantIDs []string
	for _, p := range conv.Participants {
		participantIDs = append(participantIDs, p.UserID)
	}
	s.invalidateConversationCaches(ctx, participantIDs...)

	s.broadcastMessage(ctx, conv, msg, "")
	return buildMessageResponse(msg), nil
}

func (s *chatService) MarkAsRead(ctx context.Context, conversationID, userID string) error {
	conv, err := s.conversations.FindByID(conversationID)
	if err != nil {
		return apperrors.ErrNotFound(err, "conversation")
	}
	if !isParticipant(conv, userID) {
		return apperrors.ErrNotParticipant(userID)
	}

	changed, err := s.messages.MarkConversationRead(conversationID, userID, time.Now())
	if err != nil {
		return apperrors.ErrStoreUnavailable(err)
	}
	if changed == 0 {
		// nothing unread: no write happened, so nothing to broadcast
		return nil
	}

	if err := s.store.DelPrefix(ctx, cache.ConversationSummariesPrefix(userID)); err != nil {
		logger.WithError(err).Warn("conversation cache invalidation failed", "user_id", userID)
	}

	convChannel := conversationChannel(conv)
	logger.BroadcastLog(convChannel, channels.EventMessagesRead,
		s.publisher.Publish(ctx, convChannel, channels.EventMessagesRead, map[string]string{
			"conversationId": conversationID,
			"readBy":         userID,
		}))
	return nil
}

func (s *chatService) GetUserConversations(ctx context.Context, userID string, limit int) ([]dto.ConversationSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	key := cache.ConversationSummariesKey(userID, limit)
	var cached []dto.ConversationSummary
	if hit, err := s.store.GetJSON(ctx, key, &cached); err != nil {
		logger.WithError(err).Warn("conversation cache read failed", "user_id", userID)
	} else if hit {
		return cached, nil
	}

	convs, err := s.conversations.FindUserConversations(userID, limit)
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}

	summaries := make([]dto.ConversationSummary, 0, len(convs))
	for i := range convs {
		conv := &convs[i]
		unread, err := s.messages.UnreadCount(conv.ID, userID)
		if err != nil {
			return nil, apperrors.ErrStoreUnavailable(err)
		}
		var preview string
		if last, err := s.messages.LastMessage(conv.ID); err == nil && last != nil {
			preview = truncatePreview(last.Content)
		}
		var participantIDs []string
		for _, p := range conv.Participants {
			participantIDs = append(participantIDs, p.UserID)
		}
		summaries = append(summaries, dto.ConversationSummary{
			ConversationID: conv.ID,
			JobID:          conv.JobID,
			ParticipantIDs: participantIDs,
			UnreadCount:    unread,
			LastPreview:    preview,
			LastActivityAt: conv.LastActivityAt,
		})
	}

	if err := s.store.SetJSON(ctx, key, summaries, cache.ConversationSummaryTTLSeconds*time.Second); err != nil {
		logger.WithError(err).Warn("conversation cache write failed", "user_id", userID)
	}
	return summaries, nil
}

func (s *chatService) GetMessages(ctx context.Context, conversationID, userID string, limit, offset int) ([]dto.MessageResponse, error) {
	conv, err := s.conversations.FindByID(conversationID)
	if err != nil {
		return nil, apperrors.ErrNotFound(err, "conversation")
	}
	if !isParticipant(conv, userID) {
		return nil, apperrors.ErrNotParticipant(userID)
	}

	msgs, err := s.messages.FindConversationMessages(conversationID, limit, offset)
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}
	out := make([]dto.MessageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, *buildMessageResponse(&msgs[i]))
	}
	return out, nil
}

func (s *chatService) FindConversationByJob(ctx context.Context, jobID, hirerID, fixerID string) (*models.Conversation, error) {
	conv, err := s.conversations.FindByJobAndPair(jobID, channels.PairKey(hirerID, fixerID))
	if err == repoChat.ErrConversationNotFound {
		return nil, apperrors.ErrNotFound(err, "conversation")
	}
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}
	return conv, nil
}

// broadcastMessage fans out message_sent on the conversation channel and
// a condensed message_notification to every other participant's
// notification channel. senderID empty means a system message.
func (s *chatService) broadcastMessage(ctx context.Context, conv *models.Conversation, msg *models.Message, senderID string) {
	convChannel := conversationChannel(conv)
	logger.BroadcastLog(convChannel, channels.EventMessageSent,
		s.publisher.Publish(ctx, convChannel, channels.EventMessageSent, buildMessageResponse(msg)))

	senderName := "Fixwork"
	if senderID != "" {
		if sender, err := s.users.FindByID(senderID); err == nil {
			senderName = sender.Name
		}
	}

	payload := dto.MessageNotificationPayload{
		ConversationID: conv.ID,
		SenderID:       senderID,
		SenderName:     senderName,
		Preview:        truncatePreview(msg.Content),
	}
	for _, p := range conv.Participants {
		if p.UserID == senderID {
			continue
		}
		userChannel := channels.UserNotifications(p.UserID)
		logger.BroadcastLog(userChannel, channels.EventMessageNotification,
			s.publisher.Publish(ctx, userChannel, channels.EventMessageNotification, payload))
	}
}

func (s *chatService) invalidateConversationCaches(ctx context.Context, userIDs ...string) {
	for _, userID := range userIDs {
		if err := s.store.DelPrefix(ctx, cache.ConversationSummariesPrefix(userID)); err != nil {
			logger.WithError(err).Warn("conversation cache invalidation failed", "user_id", userID)
		}
	}
}

func conversationChannel(conv *models.Conversation) string {
	if len(conv.Participants) == 2 {
		return channels.Conversation(conv.Participants[0].UserID, conv.Participants[1].UserID)
	}
	return "conversation:" + conv.ID
}

func isParticipant(conv *models.Conversation, userID string) bool {
	for _, p := range conv.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func openingMessage(job *models.Job, hirer, fixer *models.User) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You're connected for \"%s\".\n\n", job.Title)
	fmt.Fprintf(&b, "Job brief:\n%s\n", job.Description)
	if job.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", job.Location)
	}
	if job.Budget > 0 {
		fmt.Fprintf(&b, "Budget: %.2f\n", job.Budget)
	}
	if job.Deadline != nil {
		fmt.Fprintf(&b, "Deadline: %s\n", job.Deadline.Format("2 Jan 2006"))
	}
	b.WriteString("\nContact details:\n")
	fmt.Fprintf(&b, "%s (hirer): %s, %s\n", hirer.Name, hirer.Email, hirer.Phone)
	fmt.Fprintf(&b, "%s (fixer): %s, %s\n", fixer.Name, fixer.Email, fixer.Phone)
	return b.String()
}

func truncatePreview(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if idx := strings.IndexByte(string(runes), '\n'); idx >= 0 {
		runes = []rune(string(runes)[:idx])
	}
	if len(runes) <= previewMaxLen {
		return string(runes)
	}
	return string(runes[:previewMaxLen]) + "…"
}

func buildConversationResponse(conv *models.Conversation) *dto.ConversationResponse {
	var participantIDs []string
	for _, p := range conv.Participants {
		participantIDs = append(participantIDs, p.UserID)
	}
	return &dto.ConversationResponse{
		ID:             conv.ID,
		JobID:          conv.JobID,
		ParticipantIDs: participantIDs,
		LastActivityAt: conv.LastActivityAt,
		TotalMessages:  conv.TotalMessages,
	}
}

func buildMessageResponse(msg *models.Message) *dto.MessageResponse {
	readBy := make(map[string]time.Time, len(msg.ReadReceipts))
	for _, r := range msg.ReadReceipts {
		readBy[r.UserID] = r.ReadAt
	}
	return &dto.MessageResponse{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		MessageType:    msg.MessageType,
		ReadBy:         readBy,
		CreatedAt:      msg.CreatedAt,
	}
}
