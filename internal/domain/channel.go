package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionType defines how access to a channel is granted.
type SubscriptionType string

// Subscription types.
const (
	SubscriptionFree SubscriptionType = "free"
	SubscriptionPaid SubscriptionType = "paid"
)

// IsValid checks if the subscription type is valid.
func (t SubscriptionType) IsValid() bool {
	return t == SubscriptionFree || t == SubscriptionPaid
}

// ErrInvalidSubscriptionTerms is returned when price and tier do not agree.
var ErrInvalidSubscriptionTerms = errors.New("subscription price must be positive for paid channels and empty for free channels")

// Channel represents a broadcast source on the messaging network.
type Channel struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Username          string           `json:"username,omitempty"`
	Description       string           `json:"description"`
	IsActive          bool             `json:"is_active"`
	SubscriptionType  SubscriptionType `json:"subscription_type"`
	SubscriptionPrice *decimal.Decimal `json:"subscription_price,omitempty"`
	Cursor            int64            `json:"cursor"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// IsFree returns true if every user is entitled to the channel.
func (c *Channel) IsFree() bool {
	return c.SubscriptionType == SubscriptionFree
}

// DisplayName returns the title, falling back to the username and then the ID.
func (c *Channel) DisplayName() string {
	switch {
	case c.Title != "":
		return c.Title
	case c.Username != "":
		return "@" + c.Username
	default:
		return c.ID
	}
}

// ValidateSubscriptionTerms enforces that a price is set and positive iff the tier is paid.
func ValidateSubscriptionTerms(tier SubscriptionType, price *decimal.Decimal) error {
	switch tier {
	case SubscriptionFree:
		if price != nil {
			return ErrInvalidSubscriptionTerms
		}
	case SubscriptionPaid:
		if price == nil || !price.IsPositive() {
			return ErrInvalidSubscriptionTerms
		}
	default:
		return ErrInvalidSubscriptionTerms
	}
	return nil
}
