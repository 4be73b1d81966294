package notify

import (
	"fmt"
	"strconv"

	"hedgegram/config"
	"hedgegram/logs"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Ensure Telegram implements Notifier.
var _ Notifier = (*Telegram)(nil)

// Telegram sends alerts to a single admin chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a Telegram notifier. It fails when the token is
// rejected by the Telegram API or the chat id is not numeric.
func NewTelegram(token, chatID string) (*Telegram, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: id}, nil
}

// Notify sends the message to the admin chat. Errors are logged only.
func (t *Telegram) Notify(message string) {
	if t == nil || t.bot == nil {
		return
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, message)); err != nil {
		logs.Warnf("[Notify] Telegram send failed: %v", err)
	}
}

// FromEnv returns a Telegram notifier when the bot token and chat id are
// configured, and a Noop otherwise.
func FromEnv(env *config.EnvConfig) Notifier {
	if env.TelegramBotToken == "" || env.TelegramChatID == "" {
		logs.Warn("[Notify] Telegram not configured, alerts will be discarded.")
		return Noop{}
	}
	tg, err := NewTelegram(env.TelegramBotToken, env.TelegramChatID)
	if err != nil {
		logs.Errorf("[Notify] Telegram setup failed, alerts will be discarded: %v", err)
		return Noop{}
	}
	logs.Info("[Notify] Telegram alerts enabled.")
	return tg
}
