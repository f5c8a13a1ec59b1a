// Package transport defines how the engine reaches the messaging network
// and which route (direct or proxied) it takes.
package transport

import (
	"context"
	"time"
)

// Mode is the route used to reach the messaging network.
type Mode string

// Transport modes.
const (
	ModeDirect  Mode = "direct"
	ModeProxied Mode = "proxied"
)

// ChannelMeta is channel metadata as reported by the network.
type ChannelMeta struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Username    string `json:"username,omitempty"`
	Description string `json:"description,omitempty"`
}

// Message is a single channel post.
type Message struct {
	ID        int64     `json:"id"`
	ChannelID string    `json:"channel_id"`
	Text      string    `json:"text"`
	Date      time.Time `json:"date"`
}

// Transport is the messaging network as seen by the poller.
type Transport interface {
	// ListActiveChannels returns channels the bot currently receives posts from.
	ListActiveChannels(ctx context.Context) ([]ChannelMeta, error)
	// GetChannel fetches metadata for one channel.
	GetChannel(ctx context.Context, channelID string) (*ChannelMeta, error)
	// FetchMessagesSince returns posts with ID greater than cursor, oldest first.
	FetchMessagesSince(ctx context.Context, channelID string, cursor int64) ([]Message, error)
}
