package alerts

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/quantfold/divergent/internal/config"
)

// TelegramAlerter delivers alerts to one or more Telegram chats
type TelegramAlerter struct {
	bot     *tgbotapi.BotAPI
	chatIDs []int64
	logger  zerolog.Logger
}

// NewTelegramAlerter creates a Telegram alerter from config
func NewTelegramAlerter(cfg config.TelegramConfig) (*TelegramAlerter, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}
	if len(cfg.ChatIDs) == 0 {
		return nil, fmt.Errorf("no telegram chat IDs configured")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger := config.NewLogger("telegram")
	logger.Info().Str("bot", bot.Self.UserName).Int("chats", len(cfg.ChatIDs)).
		Msg("telegram alerter initialized")

	return &TelegramAlerter{
		bot:     bot,
		chatIDs: cfg.ChatIDs,
		logger:  logger,
	}, nil
}

// Send delivers an alert to all configured chats
func (t *TelegramAlerter) Send(ctx context.Context, alert Alert) error {
	text := t.formatAlert(alert)

	successCount := 0
	for _, chatID := range t.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown

		if _, err := t.bot.Send(msg); err != nil {
			t.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send telegram message")
			continue
		}
		successCount++
	}

	if successCount == 0 {
		return fmt.Errorf("failed to send alert to any chat")
	}
	return nil
}

func (t *TelegramAlerter) formatAlert(alert Alert) string {
	var emoji string
	switch alert.Severity {
	case SeverityCritical:
		emoji = "\U0001F6A8" // rotating light
	case SeverityWarning:
		emoji = "⚠️" // warning sign
	default:
		emoji = "ℹ️" // information
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n%s\n", emoji, alert.Title, alert.Message)

	if len(alert.Metadata) > 0 {
		b.WriteString("\n")
		keys := make([]string, 0, len(alert.Metadata))
		for k := range alert.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "• *%s*: %v\n", k, alert.Metadata[k])
		}
	}

	fmt.Fprintf(&b, "\n_%s_", alert.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
	return b.String()
}
