package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// NewTelegramNotifier sends to chatID (user, group or channel) as the bot
// identified by botToken.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{botToken: botToken, chatID: chatID, baseURL: telegramAPI, client: newHTTPClient()}
}

// Send posts the alert as a MarkdownV2 message.
func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := telegramMessage{ChatID: t.chatID, Text: formatTelegram(alert), ParseMode: "MarkdownV2"}
	if err := postJSON(ctx, t.client, t.baseURL+"/bot"+t.botToken+"/sendMessage", msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	slog.Debug("telegram alert sent", slog.String("title", alert.Title))
	return nil
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func formatTelegram(a Alert) string {
	icon := "ℹ️"
	switch a.Level {
	case AlertWarning:
		icon = "⚠️"
	case AlertCritical:
		icon = "🚨"
	}

	var b strings.Builder
	title := a.Title
	if a.Symbol != "" {
		title = a.Symbol + " " + title
	}
	fmt.Fprintf(&b, "%s *%s*\n\n%s", icon, escapeMarkdown(title), escapeMarkdown(a.Message))
	for _, k := range a.sortedFields() {
		fmt.Fprintf(&b, "\n`%s`: %s", escapeMarkdown(k), escapeMarkdown(a.Fields[k]))
	}
	return b.String()
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	const specials = "_*[]()~`>#+-=|{}.!"
	var out strings.Builder
	out.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(specials, r) {
			out.WriteRune('\\')
		}
		out.WriteRune(r)
	}
	return out.String()
}
