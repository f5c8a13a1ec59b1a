package botapi

import "strconv"

// update is the subset of a Bot API Update the engine reads.
type update struct {
	UpdateID          int64              `json:"update_id"`
	ChannelPost       *message           `json:"channel_post,omitempty"`
	EditedChannelPost *message           `json:"edited_channel_post,omitempty"`
	MyChatMember      *chatMemberUpdated `json:"my_chat_member,omitempty"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Chat      chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

type chat struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title,omitempty"`
	Username    string `json:"username,omitempty"`
	Description string `json:"description,omitempty"`
}

func (c chat) idString() string {
	return strconv.FormatInt(c.ID, 10)
}

type chatMemberUpdated struct {
	Chat          chat       `json:"chat"`
	NewChatMember chatMember `json:"new_chat_member"`
}

type chatMember struct {
	Status string `json:"status"`
}

// isPresent reports whether the bot still receives posts with this membership status.
func (m chatMember) isPresent() bool {
	switch m.Status {
	case "creator", "administrator", "member":
		return true
	}
	return false
}
