package notify

import (
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"pricewatch/common"
)

// TelegramAdapter sends trigger notifications through the Telegram bot API.
// Bot token and chat id come from the channel's config, so different
// channels can use different bots.
type TelegramAdapter struct {
	mu   sync.Mutex
	bots map[string]sender

	// newBot is swappable for tests.
	newBot func(token string) (sender, error)
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

func NewTelegramAdapter() *TelegramAdapter {
	return &TelegramAdapter{
		bots: make(map[string]sender),
		newBot: func(token string) (sender, error) {
			return tgbotapi.NewBotAPI(token)
		},
	}
}

func (a *TelegramAdapter) bot(token string) (sender, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if bot, ok := a.bots[token]; ok {
		return bot, nil
	}
	bot, err := a.newBot(token)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}
	a.bots[token] = bot
	return bot, nil
}

func (a *TelegramAdapter) Send(channel *common.NotificationChannel, alert *common.Alert, price decimal.Decimal) error {
	token := channel.Config["bot_token"]
	chatIDStr := channel.Config["chat_id"]
	if token == "" || chatIDStr == "" {
		return fmt.Errorf("telegram channel %q is missing bot_token or chat_id", channel.Name)
	}

	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram channel %q has invalid chat_id %q: %w", channel.Name, chatIDStr, err)
	}

	bot, err := a.bot(token)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, formatMessage(alert, price))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("telegram API error: %w", err)
	}
	return nil
}
