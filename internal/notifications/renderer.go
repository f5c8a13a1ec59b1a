package notifications

import (
	"strings"
	"unicode/utf8"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/transport"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	defaultMaxBodyRunes = 4000
	defaultMaxPushRunes = 180
	emptyPostBody       = "New post"
)

// Renderer turns channel posts into notification text.
type Renderer struct {
	maxBodyRunes int
	maxPushRunes int
}

// NewRenderer creates a renderer with default limits.
func NewRenderer() *Renderer {
	return &Renderer{
		maxBodyRunes: defaultMaxBodyRunes,
		maxPushRunes: defaultMaxPushRunes,
	}
}

// Title returns the notification title for a channel. Handles and IDs are kept verbatim.
func (r *Renderer) Title(ch *domain.Channel) string {
	title := strings.TrimSpace(ch.Title)
	if title == "" {
		return ch.DisplayName()
	}
	// Caser is stateful, so one per call.
	return cases.Title(language.Und, cases.NoLower).String(title)
}

// Body returns the in-app notification body for a post.
func (r *Renderer) Body(msg transport.Message) string {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return emptyPostBody
	}
	return truncate(text, r.maxBodyRunes)
}

// PushBody shortens body for the device notification tray.
func (r *Renderer) PushBody(body string) string {
	line, _, _ := strings.Cut(body, "\n")
	return truncate(line, r.maxPushRunes)
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
