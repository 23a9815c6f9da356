package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// markdownEscaper escapes the characters legacy Telegram Markdown treats as
// entity delimiters. Slugs and exit reasons contain underscores.
var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// TelegramSender delivers alerts via the Telegram Bot API. Info alerts are
// sent silently.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: "https://api.telegram.org",
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a to the configured chat with sendMessage.
func (t *TelegramSender) Send(ctx context.Context, a Alert) error {
	payload := map[string]any{
		"chat_id":              t.chatID,
		"text":                 telegramText(a),
		"parse_mode":           "Markdown",
		"disable_notification": a.Severity == SeverityInfo,
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	return postJSON(ctx, t.client, "telegram", url, payload)
}

// telegramText renders the title in bold, prefixed by the severity unless
// it is informational, then one line per field with the name in code
// style.
func telegramText(a Alert) string {
	var b strings.Builder
	if a.Severity != SeverityInfo {
		fmt.Fprintf(&b, "[%s] ", a.Severity)
	}
	fmt.Fprintf(&b, "*%s*", markdownEscaper.Replace(a.Title))
	for _, f := range a.Fields {
		fmt.Fprintf(&b, "\n`%s` %s", f.Name, markdownEscaper.Replace(f.Value))
	}
	if a.Note != "" {
		b.WriteString("\n" + markdownEscaper.Replace(a.Note))
	}
	return b.String()
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
