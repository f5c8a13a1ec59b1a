package notifications

import "errors"

// Notification errors.
var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrDeviceTokenNotFound  = errors.New("device token not found")
	ErrInvalidPlatform      = errors.New("unsupported device platform")
	ErrDeliveryFailed       = errors.New("notification delivery failed")
)
