package domain

import "time"

// NotificationType represents the origin of a notification.
type NotificationType string

// Notification types.
const (
	NotificationTypeTrading NotificationType = "trading"
	NotificationTypeOrder   NotificationType = "order"
	NotificationTypeSystem  NotificationType = "system"
)

// IsValid checks if the notification type is valid.
func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationTypeTrading, NotificationTypeOrder, NotificationTypeSystem:
		return true
	}
	return false
}

// Notification is a delivery record visible to its recipient.
// Only Read is mutable after creation, and only by the recipient.
type Notification struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Title           string           `json:"title"`
	Body            string           `json:"body"`
	Type            NotificationType `json:"type"`
	ChannelID       *string          `json:"channel_id,omitempty"`
	SourceMessageID *int64           `json:"source_message_id,omitempty"`
	Read            bool             `json:"read"`
	CreatedAt       time.Time        `json:"created_at"`
}

// DevicePlatform identifies the push platform of a device token.
type DevicePlatform string

// Device platforms.
const (
	DevicePlatformAndroid DevicePlatform = "android"
	DevicePlatformIOS     DevicePlatform = "ios"
	DevicePlatformWeb     DevicePlatform = "web"
)

// DeviceToken is a push gateway registration for a user's device.
type DeviceToken struct {
	UserID    string         `json:"user_id"`
	Token     string         `json:"token"`
	Platform  DevicePlatform `json:"platform"`
	CreatedAt time.Time      `json:"created_at"`
}
