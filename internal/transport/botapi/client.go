package botapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bissquit/signal-relay/internal/transport"
)

const (
	defaultMaxPending = 1000
	updatesLimit      = 100
)

var allowedUpdates = []string{"channel_post", "edited_channel_post", "my_chat_member"}

// Client implements transport.Transport over a Caller.
//
// getUpdates offsets are global per bot, so all channel loops share one feed.
// Pulls are serialised; posts are buffered per chat until a fetch with a cursor
// at or past them prunes them, so a result discarded by a stopped loop is
// served again on the next fetch.
type Client struct {
	caller     Caller
	maxPending int

	mu      sync.Mutex
	offset  int64
	pending map[string][]transport.Message
	known   map[string]transport.ChannelMeta
}

// NewClient creates a Bot API transport client.
func NewClient(caller Caller) *Client {
	return &Client{
		caller:     caller,
		maxPending: defaultMaxPending,
		pending:    make(map[string][]transport.Message),
		known:      make(map[string]transport.ChannelMeta),
	}
}

// ListActiveChannels returns channels the bot has seen posts or membership in.
func (c *Client) ListActiveChannels(ctx context.Context) ([]transport.ChannelMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.pull(ctx); err != nil {
		return nil, err
	}

	out := make([]transport.ChannelMeta, 0, len(c.known))
	for _, meta := range c.known {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetChannel fetches channel metadata via getChat.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*transport.ChannelMeta, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return nil, &transport.PermanentError{Code: 400, Message: fmt.Sprintf("invalid channel id %q", channelID)}
	}

	raw, err := c.caller.Call(ctx, "getChat", map[string]any{"chat_id": chatID})
	if err != nil {
		return nil, fmt.Errorf("getChat: %w", err)
	}

	var ch chat
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, &transport.RetryableError{Message: "decode getChat: " + err.Error()}
	}

	meta := transport.ChannelMeta{
		ID:          ch.idString(),
		Title:       ch.Title,
		Username:    ch.Username,
		Description: ch.Description,
	}

	c.mu.Lock()
	c.known[meta.ID] = meta
	c.mu.Unlock()

	return &meta, nil
}

// FetchMessagesSince pulls the shared feed and returns buffered posts of
// channelID newer than cursor, oldest first.
func (c *Client) FetchMessagesSince(ctx context.Context, channelID string, cursor int64) ([]transport.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune(channelID, cursor)

	if err := c.pull(ctx); err != nil {
		return nil, err
	}

	c.prune(channelID, cursor)

	buffered := c.pending[channelID]
	out := make([]transport.Message, len(buffered))
	copy(out, buffered)
	return out, nil
}

// pull reads one batch of updates. Callers hold c.mu.
func (c *Client) pull(ctx context.Context) error {
	params := map[string]any{
		"offset":          c.offset,
		"limit":           updatesLimit,
		"timeout":         0,
		"allowed_updates": allowedUpdates,
	}

	raw, err := c.caller.Call(ctx, "getUpdates", params)
	if err != nil {
		return fmt.Errorf("getUpdates: %w", err)
	}

	var updates []update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return &transport.RetryableError{Message: "decode getUpdates: " + err.Error()}
	}

	for _, u := range updates {
		c.apply(u)
		if u.UpdateID >= c.offset {
			c.offset = u.UpdateID + 1
		}
	}
	return nil
}

func (c *Client) apply(u update) {
	switch {
	case u.ChannelPost != nil:
		c.buffer(*u.ChannelPost)
	case u.EditedChannelPost != nil:
		// Edits keep their original id and are already behind the cursor.
		c.remember(u.EditedChannelPost.Chat)
	case u.MyChatMember != nil:
		ch := u.MyChatMember.Chat
		if ch.Type != "channel" {
			return
		}
		if u.MyChatMember.NewChatMember.isPresent() {
			c.remember(ch)
		} else {
			delete(c.known, ch.idString())
			delete(c.pending, ch.idString())
		}
	}
}

func (c *Client) remember(ch chat) {
	id := ch.idString()
	meta := c.known[id]
	meta.ID = id
	if ch.Title != "" {
		meta.Title = ch.Title
	}
	if ch.Username != "" {
		meta.Username = ch.Username
	}
	c.known[id] = meta
}

func (c *Client) buffer(m message) {
	c.remember(m.Chat)

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	msg := transport.Message{
		ID:        m.MessageID,
		ChannelID: m.Chat.idString(),
		Text:      text,
		Date:      time.Unix(m.Date, 0).UTC(),
	}

	buf := c.pending[msg.ChannelID]
	for _, existing := range buf {
		if existing.ID == msg.ID {
			return
		}
	}
	buf = append(buf, msg)
	sort.Slice(buf, func(i, j int) bool { return buf[i].ID < buf[j].ID })

	if over := len(buf) - c.maxPending; over > 0 {
		slog.Warn("dropping oldest buffered posts", "channel_id", msg.ChannelID, "dropped", over)
		buf = buf[over:]
	}
	c.pending[msg.ChannelID] = buf
}

// prune drops buffered posts at or below cursor. Callers hold c.mu.
func (c *Client) prune(channelID string, cursor int64) {
	buf := c.pending[channelID]
	i := sort.Search(len(buf), func(i int) bool { return buf[i].ID > cursor })
	if i == 0 {
		return
	}
	if i == len(buf) {
		delete(c.pending, channelID)
		return
	}
	c.pending[channelID] = append([]transport.Message(nil), buf[i:]...)
}
