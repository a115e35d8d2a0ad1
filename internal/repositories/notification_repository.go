package repositories

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"fixwork_backend/internal/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

// MaxNotificationsPerUser caps each user's notification list. The cap is
// enforced inside Create's transaction so it holds under any number of
// concurrent creators.
const MaxNotificationsPerUser = 100

// NotificationCriteria filters a user's notification page.
type NotificationCriteria struct {
	Limit      int                         `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset     int                         `form:"offset" binding:"omitempty,min=0"`
	Category   models.NotificationCategory `form:"category"`
	UnreadOnly bool                        `form:"unread_only"`
}

type NotificationRepository interface {
	// Create inserts the notification and evicts the oldest entries
	// beyond the per-user cap in the same transaction.
	Create(notification *models.Notification) error
	FindByID(id string) (*models.Notification, error)
	// FindUserNotifications returns one page (storage order is
	// newest-first), the filtered total and the user's unread count.
	FindUserNotifications(userID string, criteria NotificationCriteria) ([]models.Notification, int64, int64, error)
	// MarkRead flips read state for the given ids (all unread when ids
	// is empty) and returns how many rows actually changed.
	MarkRead(userID string, ids []string, readAt time.Time) (int64, error)
	UnreadCount(userID string) (int64, error)
	Delete(userID, id string) error
	DeleteAllForUser(userID string) error
	CleanOld(olderThan time.Time) (int64, error)
}

type NotificationRepositoryImpl struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &NotificationRepositoryImpl{db: db}
}

func (r *NotificationRepositoryImpl) Create(notification *models.Notification) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(notification).Error; err != nil {
			return err
		}
		// evict oldest beyond the cap
		return tx.
			Where("user_id = ? AND id NOT IN (?)",
				notification.UserID,
				tx.Model(&models.Notification{}).
					Select("id").
					Where("user_id = ?", notification.UserID).
					Order("created_at DESC").
					Limit(MaxNotificationsPerUser),
			).
			Delete(&models.Notification{}).Error
	})
}

func (r *NotificationRepositoryImpl) FindByID(id string) (*models.Notification, error) {
	var n models.Notification
	if err := r.db.First(&n, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepositoryImpl) FindUserNotifications(userID string, criteria NotificationCriteria) ([]models.Notification, int64, int64, error) {
	if criteria.Limit <= 0 {
		criteria.Limit = 20
	}

	query := r.db.Model(&models.Notification{}).Where("user_id = ?", userID)
	if criteria.Category != "" {
		query = query.Where("category = ?", criteria.Category)
	}
	if criteria.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, 0, err
	}

	var notifications []models.Notification
	err := query.
		Order("created_at DESC").
		Limit(criteria.Limit).
		Offset(criteria.Offset).
		Find(&notifications).Error
	if err != nil {
		return nil, 0, 0, err
	}

	unread, err := r.UnreadCount(userID)
	if err != nil {
		return nil, 0, 0, err
	}
	return notifications, total, unread, nil
}

func (r *NotificationRepositoryImpl) MarkRead(userID string, ids []string, readAt time.Time) (int64, error) {
	query := r.db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false)
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}

	result := query.Updates(map[string]any{"is_read": true, "read_at": readAt})
	return result.RowsAffected, result.Error
}

func (r *NotificationRepositoryImpl) UnreadCount(userID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}

func (r *NotificationRepositoryImpl) Delete(userID, id string) error {
	result := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Notification{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *NotificationRepositoryImpl) DeleteAllForUser(userID string) error {
	return r.db.Where("user_id = ?", userID).Delete(&models.Notification{}).Error
}

func (r *NotificationRepositoryImpl) CleanOld(olderThan time.Time) (int64, error) {
	result := r.db.
		Where("is_read = ? AND created_at < ?", true, olderThan).
		Delete(&models.Notification{})
	return result.RowsAffected, result.Error
}
