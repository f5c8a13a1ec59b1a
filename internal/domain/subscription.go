package domain

import "time"

// Subscription binds a user to a channel. Records are deactivated, never deleted.
type Subscription struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	ChannelID string           `json:"channel_id"`
	Tier      SubscriptionType `json:"tier"`
	Active    bool             `json:"active"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
