package services

import (
	"context"
	"encoding/json"
	"time"

	"fixwork_backend/internal/cache"
	"fixwork_backend/internal/channels"
	"fixwork_backend/internal/logger"
	"fixwork_backend/internal/models"
	"fixwork_backend/internal/moderation"
	"fixwork_backend/internal/push"
	"fixwork_backend/internal/repositories"
	"fixwork_backend/internal/services/dto"
	"fixwork_backend/internal/templates"
	"fixwork_backend/internal/transport"
	"fixwork_backend/pkg/apperrors"

	"gorm.io/datatypes"
)

const rateLimitActionNotify = "create_notification"

type NotificationService interface {
	// Create builds, persists and fans out a notification. Returns
	// (nil, nil) when the recipient has opted out of the category — an
	// opt-out is not an error.
	Create(ctx context.Context, recipientID string, req *dto.CreateNotificationRequest) (*dto.NotificationResponse, error)
	GetUserNotifications(ctx context.Context, userID string, criteria repositories.NotificationCriteria) (*dto.NotificationListResponse, error)
	// MarkAsRead flips read state; empty ids means "mark all". A no-op
	// (nothing was unread) performs no persist and no broadcast.
	MarkAsRead(ctx context.Context, userID string, ids []string) error
	Delete(ctx context.Context, userID, notificationID string) error
	DeleteAll(ctx context.Context, userID string) error
	UnreadCount(ctx context.Context, userID string) (int64, error)
	CleanOld(ctx context.Context, olderThan time.Time) (int64, error)
}

type notificationService struct {
	notificationRepo repositories.NotificationRepository
	userRepo         repositories.UserRepository
	store            cache.Store
	limiter          cache.Limiter
	publisher        transport.Publisher
	pushSender       push.Sender
	validator        moderation.Validator
}

func NewNotificationService(
	notificationRepo repositories.NotificationRepository,
	userRepo repositories.UserRepository,
	store cache.Store,
	limiter cache.Limiter,
	publisher transport.Publisher,
	pushSender push.Sender,
	validator moderation.Validator,
) NotificationService {
	return &notificationService{
		notificationRepo: notificationRepo,
		userRepo:         userRepo,
		store:            store,
		limiter:          limiter,
		publisher:        publisher,
		pushSender:       pushSender,
		validator:        validator,
	}
}

func (s *notificationService) Create(ctx context.Context, recipientID string, req *dto.CreateNotificationRequest) (*dto.NotificationResponse, error) {
	actorID := recipientID
	if req.SenderID != nil {
		actorID = *req.SenderID
	}
	ok, retryAfter, err := s.limiter.Allow(ctx, rateLimitActionNotify, actorID)
	if err != nil {
		// the limiter lives in the cache tier; degrade open
		logger.WithError(err).Warn("rate limiter unavailable, allowing", "action", rateLimitActionNotify)
	} else if !ok {
		return nil, apperrors.ErrRateLimited(rateLimitActionNotify, retryAfter)
	}

	desc, err := templates.Lookup(req.Kind)
	if err != nil {
		return nil, apperrors.ErrInvalidOperation("notification", err.Error())
	}

	// Free-text kinds carry caller-supplied content and must pass
	// moderation before anything is persisted.
	if desc.FreeText {
		result := s.validator.Validate(req.Data["title"]+" "+req.Data["body"], moderation.ContextNotification, actorID)
		if !result.IsValid {
			return nil, apperrors.ErrContentRejected(result.Violations)
		}
	}

	title, body, err := templates.Render(req.Kind, req.Data)
	if err != nil {
		return nil, apperrors.ErrInvalidOperation("notification", err.Error())
	}

	recipient, err := s.userRepo.FindByID(recipientID)
	if err != nil {
		return nil, apperrors.ErrNotFound(err, "user")
	}
	if !recipient.Preferences.Allows(desc.Category) {
		return nil, nil
	}

	priority := desc.Priority
	if req.Priority != "" {
		priority = req.Priority
	}

	notification := &models.Notification{
		UserID:   recipientID,
		SenderID: req.SenderID,
		Kind:     req.Kind,
		Category: desc.Category,
		Title:    title,
		Body:     body,
		Priority: priority,
	}
	if req.Action != nil {
		raw, err := json.Marshal(req.Action)
		if err != nil {
			return nil, apperrors.ErrInvalidOperation("notification", "unserializable action descriptor")
		}
		notification.Data = datatypes.JSON(raw)
	}

	// persist (must succeed) -> cache (best-effort) -> broadcast
	// (best-effort) -> push (fire-and-forget)
	if err := s.notificationRepo.Create(notification); err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}

	s.invalidateUserCaches(ctx, recipientID)

	response := buildNotificationResponse(notification)
	userChannel := channels.UserNotifications(recipientID)
	logger.BroadcastLog(userChannel, channels.EventNotificationSent,
		s.publisher.Publish(ctx, userChannel, channels.EventNotificationSent, response))
	s.broadcastUnreadCount(ctx, recipientID)

	if priority == models.PriorityHigh || priority == models.PriorityCritical {
		s.sendPush(ctx, recipient, notification)
	}

	return response, nil
}

func (s *notificationService) GetUserNotifications(ctx context.Context, userID string, criteria repositories.NotificationCriteria) (*dto.NotificationListResponse, error) {
	if criteria.Limit <= 0 {
		criteria.Limit = 20
	}

	key := cache.NotificationPageKey(userID, criteria.Limit, criteria.Offset, string(criteria.Category), criteria.UnreadOnly)
	var cached dto.NotificationListResponse
	if hit, err := s.store.GetJSON(ctx, key, &cached); err != nil {
		logger.WithError(err).Warn("notification page cache read failed", "user_id", userID)
	} else if hit {
		return &cached, nil
	}

	items, total, unread, err := s.notificationRepo.FindUserNotifications(userID, criteria)
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}

	response := &dto.NotificationListResponse{
		Items:       make([]*dto.NotificationResponse, 0, len(items)),
		Total:       total,
		UnreadCount: unread,
		HasMore:     int64(criteria.Offset+len(items)) < total,
	}
	for i := range items {
		response.Items = append(response.Items, buildNotificationResponse(&items[i]))
	}

	if err := s.store.SetJSON(ctx, key, response, cache.NotificationPagesTTLSeconds*time.Second); err != nil {
		logger.WithError(err).Warn("notification page cache write failed", "user_id", userID)
	}
	return response, nil
}

func (s *notificationService) MarkAsRead(ctx context.Context, userID string, ids []string) error {
	changed, err := s.notificationRepo.MarkRead(userID, ids, time.Now())
	if err != nil {
		return apperrors.ErrStoreUnavailable(err)
	}
	if changed == 0 {
		// nothing was unread: no persist happened, so no broadcast either
		return nil
	}

	s.invalidateUserCaches(ctx, userID)
	s.broadcastUnreadCount(ctx, userID)
	return nil
}

func (s *notificationService) Delete(ctx context.Context, userID, notificationID string) error {
	if err := s.notificationRepo.Delete(userID, notificationID); err != nil {
		if err == repositories.ErrNotificationNotFound {
			return apperrors.ErrNotFound(err, "notification")
		}
		return apperrors.ErrStoreUnavailable(err)
	}
	s.invalidateUserCaches(ctx, userID)
	return nil
}

func (s *notificationService) DeleteAll(ctx context.Context, userID string) error {
	if err := s.notificationRepo.DeleteAllForUser(userID); err != nil {
		return apperrors.ErrStoreUnavailable(err)
	}
	s.invalidateUserCaches(ctx, userID)
	s.broadcastUnreadCount(ctx, userID)
	return nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	key := cache.UnreadCountKey(userID)
	var cached int64
	if found, err := s.store.GetJSON(ctx, key, &cached); err == nil && found {
		return cached, nil
	}

	count, err := s.notificationRepo.UnreadCount(userID)
	if err != nil {
		return 0, apperrors.ErrStoreUnavailable(err)
	}
	if err := s.store.SetJSON(ctx, key, count, cache.UnreadCountTTLSeconds*time.Second); err != nil {
		logger.WithError(err).Warn("unread count cache write failed", "user_id", userID)
	}
	return count, nil
}

func (s *notificationService) CleanOld(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.notificationRepo.CleanOld(olderThan)
}

func (s *notificationService) invalidateUserCaches(ctx context.Context, userID string) {
	if err := s.store.DelPrefix(ctx, cache.NotificationPagesPrefix(userID)); err != nil {
		logger.WithError(err).Warn("notification page cache invalidation failed", "user_id", userID)
	}
	if err := s.store.Del(ctx, cache.UnreadCountKey(userID)); err != nil {
		logger.WithError(err).Warn("unread count cache invalidation failed", "user_id", userID)
	}
}

func (s *notificationService) broadcastUnreadCount(ctx context.Context, userID string) {
	count, err := s.notificationRepo.UnreadCount(userID)
	if err != nil {
		logger.WithError(err).Warn("unread count recompute failed", "user_id", userID)
		return
	}
	userChannel := channels.UserNotifications(userID)
	logger.BroadcastLog(userChannel, channels.EventUnreadCountUpdated,
		s.publisher.Publish(ctx, userChannel, channels.EventUnreadCountUpdated, map[string]int64{"unreadCount": count}))
}

func (s *notificationService) sendPush(ctx context.Context, recipient *models.User, n *models.Notification) {
	subs, err := s.userRepo.FindPushSubscriptions(recipient.ID)
	if err != nil {
		logger.WithError(err).Warn("push subscription lookup failed", "user_id", recipient.ID)
		return
	}
	for _, sub := range subs {
		if err := s.pushSender.Send(ctx, sub, push.Message{
			UserID: recipient.ID,
			Title:  n.Title,
			Body:   n.Body,
			Tag:    n.Kind,
		}); err != nil {
			logger.WithError(err).Warn("push delivery failed", "user_id", recipient.ID)
		}
	}
}

func buildNotificationResponse(n *models.Notification) *dto.NotificationResponse {
	response := &dto.NotificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		SenderID:  n.SenderID,
		Kind:      n.Kind,
		Category:  n.Category,
		Title:     n.Title,
		Body:      n.Body,
		Priority:  n.Priority,
		IsRead:    n.IsRead,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
	if len(n.Data) > 0 {
		var action map[string]any
		if err := json.Unmarshal(n.Data, &action); err == nil {
			response.Action = action
		}
	}
	return response
}
