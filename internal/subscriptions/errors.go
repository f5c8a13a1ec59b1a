package subscriptions

import "errors"

// Subscription errors.
var (
	ErrChannelInactive      = errors.New("channel is not active")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
