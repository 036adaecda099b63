package alert

import (
	"context"
	"fmt"

	"mlcopy/internal/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramAlerter pushes operator alerts to a Telegram chat. Alerts are
// best-effort; a delivery failure is logged and swallowed so alerting
// never breaks the replication path.
type TelegramAlerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zerolog.Logger
}

// New builds an alerter from config. Returns nil when no token is
// configured; a nil *TelegramAlerter is safe to call.
func New(cfg config.AlertsConfig, logger *zerolog.Logger) *TelegramAlerter {
	if cfg.TelegramToken == "" || cfg.TelegramChatID == 0 {
		logger.Info().Msg("Telegram alerts disabled")
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize Telegram alerter")
		return nil
	}

	return &TelegramAlerter{bot: bot, chatID: cfg.TelegramChatID, logger: logger}
}

// Alert sends one operator alert. Safe on a nil receiver.
func (a *TelegramAlerter) Alert(_ context.Context, subject, detail string) {
	if a == nil || a.bot == nil {
		return
	}

	text := fmt.Sprintf("⚠️ %s\n\n%s", subject, detail)
	msg := tgbotapi.NewMessage(a.chatID, text)
	if _, err := a.bot.Send(msg); err != nil {
		a.logger.Error().Err(err).Str("subject", subject).Msg("Failed to send alert")
	}
}
