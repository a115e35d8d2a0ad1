package repositories

import (
	"errors"

	"gorm.io/gorm"

	"fixwork_backend/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	Create(user *models.User) error
	FindByID(id string) (*models.User, error)
	UpdatePreferences(userID string, prefs models.NotificationPreferences) error
	AddPushSubscription(sub *models.PushSubscription) error
	FindPushSubscriptions(userID string) ([]models.PushSubscription, error)
}

type UserRepositoryImpl struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &UserRepositoryImpl{db: db}
}

func (r *UserRepositoryImpl) Create(user *models.User) error {
	return r.db.Create(user).Error
}

func (r *UserRepositoryImpl) FindByID(id string) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepositoryImpl) UpdatePreferences(userID string, prefs models.NotificationPreferences) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		Update("preferences", prefs).Error
}

func (r *UserRepositoryImpl) AddPushSubscription(sub *models.PushSubscription) error {
	return r.db.Create(sub).Error
}

func (r *UserRepositoryImpl) FindPushSubscriptions(userID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := r.db.Where("user_id = ?", userID).Find(&subs).Error
	return subs, err
}
