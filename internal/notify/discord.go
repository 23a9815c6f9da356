package notify

import (
	"context"
	"net/http"
	"time"
)

// Embed colours per severity.
var discordColors = map[Severity]int{
	SeverityInfo:  0x2ecc71,
	SeverityWarn:  0xf1c40f,
	SeverityError: 0xe74c3c,
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      discordFooter  `json:"footer"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Username        string         `json:"username,omitempty"`
	Content         string         `json:"content,omitempty"`
	Embeds          []discordEmbed `json:"embeds"`
	AllowedMentions struct {
		Parse []string `json:"parse"`
	} `json:"allowed_mentions"`
}

// DiscordSender posts alerts to a Discord webhook as one embed each. Error
// alerts also carry @here in the message content.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a as an embed. Run summaries use inline fields so they lay out
// as a table; other alerts use one row per field.
func (d *DiscordSender) Send(ctx context.Context, a Alert) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, discordMessage(a))
}

func discordMessage(a Alert) discordPayload {
	embed := discordEmbed{
		Title:       a.Title,
		Description: a.Note,
		Color:       discordColors[a.Severity],
	}
	inline := a.Event == EventRunSummary
	for _, f := range a.Fields {
		embed.Fields = append(embed.Fields, discordField{Name: f.Name, Value: f.Value, Inline: inline})
	}
	embed.Footer = discordFooter{Text: a.Event + " · " + a.Severity.String()}
	if !a.At.IsZero() {
		embed.Timestamp = a.At.UTC().Format(time.RFC3339)
	}

	msg := discordPayload{Username: "updownbot", Embeds: []discordEmbed{embed}}
	msg.AllowedMentions.Parse = []string{}
	if a.Severity == SeverityError {
		msg.Content = "@here"
		msg.AllowedMentions.Parse = []string{"everyone"}
	}
	return msg
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
