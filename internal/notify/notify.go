// Package notify sends large-trade alerts via the Telegram Bot API.
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/polyterm/internal/models"
)

// Notifier pushes alerts for trades whose notional value crosses a
// configured threshold. A zero threshold disables alerting.
type Notifier struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	minTradeValue  float64
	maxRetries     int
	retryDelayBase time.Duration
}

// New creates a Telegram notifier.
func New(botToken, chatID string, minTradeValue float64, maxRetries int, retryDelayBase time.Duration) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Notifier{
		bot:            bot,
		chatID:         chatIDInt,
		minTradeValue:  minTradeValue,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ShouldNotify reports whether a trade's value crosses the threshold.
func (n *Notifier) ShouldNotify(trade models.Trade) bool {
	return n.minTradeValue > 0 && trade.Value >= n.minTradeValue
}

// NotifyTrade sends a large-trade alert. Callers should check
// ShouldNotify first and invoke this off the event loop.
func (n *Notifier) NotifyTrade(eventTitle string, trade models.Trade) error {
	return n.sendMarkdownV2(formatTradeAlert(eventTitle, trade))
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (n *Notifier) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		if _, err := n.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(n.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", n.maxRetries, lastErr)
}

// formatTradeAlert formats one trade into a Telegram MarkdownV2 message.
func formatTradeAlert(eventTitle string, trade models.Trade) string {
	sideEmoji := "🟢"
	if trade.Side == models.Sell {
		sideEmoji = "🔴"
	}

	message := "🐋 *Large Trade*\n\n"
	message += fmt.Sprintf("%s\n", escapeMarkdownV2(eventTitle))
	if trade.MarketTitle != "" && trade.MarketTitle != eventTitle {
		message += fmt.Sprintf("🎯 %s\n", escapeMarkdownV2(trade.MarketTitle))
	}

	valueStr := escapeMarkdownV2(fmt.Sprintf("$%.0f", trade.Value))
	priceStr := escapeMarkdownV2(fmt.Sprintf("%.1f¢", trade.Price*100))
	sizeStr := escapeMarkdownV2(fmt.Sprintf("%.0f", trade.Size))

	message += fmt.Sprintf("%s *%s %s* %s at %s \\(%s shares\\)\n",
		sideEmoji, string(trade.Side), escapeMarkdownV2(trade.Outcome), valueStr, priceStr, sizeStr)

	if trade.Trader != "" {
		message += fmt.Sprintf("👤 %s\n", escapeMarkdownV2(trade.Trader))
	}
	message += fmt.Sprintf("🕐 %s", escapeMarkdownV2(trade.Timestamp.Format("2006-01-02 15:04:05")))

	return message
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
