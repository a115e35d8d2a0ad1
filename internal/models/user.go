package models

import "time"

type User struct {
	BaseModel
	Email string   `gorm:"uniqueIndex;not null"`
	Name  string   `gorm:"not null"`
	Phone string   `json:"-"`
	Role  UserRole `gorm:"type:varchar(20);not null"`

	// Per-category notification opt-outs. A user with no stored
	// preferences receives every category.
	Preferences NotificationPreferences `gorm:"serializer:json"`

	// Relations
	Notifications     []Notification     `gorm:"foreignKey:UserID"`
	PushSubscriptions []PushSubscription `gorm:"foreignKey:UserID"`
}

// NotificationPreferences holds per-category opt-out flags. The zero
// value opts out of nothing, so a NULL or empty jsonb column decodes
// to "receive everything".
type NotificationPreferences struct {
	MuteJobNotifications         bool `json:"muteJobNotifications"`
	MuteApplicationNotifications bool `json:"muteApplicationNotifications"`
	MuteMessageNotifications     bool `json:"muteMessageNotifications"`
	MutePaymentNotifications     bool `json:"mutePaymentNotifications"`
	MuteSystemNotifications      bool `json:"muteSystemNotifications"`
}

// Allows reports whether the user accepts notifications of the category.
func (p NotificationPreferences) Allows(category NotificationCategory) bool {
	switch category {
	case CategoryJob:
		return !p.MuteJobNotifications
	case CategoryApplication:
		return !p.MuteApplicationNotifications
	case CategoryMessage:
		return !p.MuteMessageNotifications
	case CategoryPayment:
		return !p.MutePaymentNotifications
	case CategorySystem:
		return !p.MuteSystemNotifications
	default:
		return true
	}
}

// PushSubscription is an opaque browser push endpoint registered by the
// user. Delivery itself is an external collaborator.
type PushSubscription struct {
	BaseModel
	UserID     string `gorm:"not null;index"`
	Endpoint   string `gorm:"not null"`
	P256dh     string
	Auth       string
	DeviceName string
	LastUsedAt *time.Time
}
