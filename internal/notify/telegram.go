package notify

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-lp/internal/config"
)

// Telegram sends notifications through the Telegram Bot API.
// Send failures are logged and swallowed.
type Telegram struct {
	http   *resty.Client
	chatID string
	logger *slog.Logger
}

// NewTelegram creates a Telegram sink from config.
func NewTelegram(cfg config.TelegramConfig, logger *slog.Logger) *Telegram {
	client := resty.New().
		SetBaseURL("https://api.telegram.org/bot" + cfg.BotToken).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Telegram{
		http:   client,
		chatID: cfg.ChatID,
		logger: logger.With("component", "notify"),
	}
}

// Notify posts the message to the configured chat.
func (t *Telegram) Notify(text string) {
	resp, err := t.http.R().
		SetBody(map[string]string{
			"chat_id": t.chatID,
			"text":    text,
		}).
		Post("/sendMessage")
	if err != nil {
		t.logger.Error("telegram send failed", "error", err)
		return
	}
	if resp.StatusCode() != http.StatusOK {
		t.logger.Error("telegram send rejected",
			"status", resp.StatusCode(), "body", resp.String())
	}
}
