package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DirectionAbove = "above"
	DirectionBelow = "below"
)

const (
	ChannelLog      = "log"
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
	ChannelBrowser  = "browser"
)

// Alert is a persisted rule: fire once when a symbol's price crosses
// ThresholdPrice in Direction. An alert with TriggeredAt set is never
// re-evaluated and never subscribed.
type Alert struct {
	ID             int64           `json:"id"`
	Symbol         string          `json:"symbol"`
	ThresholdPrice decimal.Decimal `json:"threshold_price"`
	Direction      string          `json:"direction"`
	Active         bool            `json:"active"`
	TriggeredAt    *time.Time      `json:"triggered_at,omitempty"`
	ChannelIDs     []int64         `json:"notification_channel_ids"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (a *Alert) Triggered() bool {
	return a.TriggeredAt != nil
}

func (a *Alert) Validate() error {
	if a.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !a.ThresholdPrice.IsPositive() {
		return fmt.Errorf("threshold_price must be greater than 0")
	}
	if a.Direction != DirectionAbove && a.Direction != DirectionBelow {
		return fmt.Errorf("direction must be %q or %q", DirectionAbove, DirectionBelow)
	}
	return nil
}

// NotificationChannel is a configured destination for trigger notifications.
type NotificationChannel struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	ChannelType string            `json:"channel_type"`
	Config      map[string]string `json:"config"`
	Active      bool              `json:"active"`
}

func (c *NotificationChannel) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch c.ChannelType {
	case ChannelLog, ChannelBrowser:
	case ChannelEmail:
		if c.Config["to"] == "" {
			return fmt.Errorf("email channel config must contain 'to'")
		}
	case ChannelTelegram:
		if c.Config["chat_id"] == "" {
			return fmt.Errorf("telegram channel config must contain 'chat_id'")
		}
		if c.Config["bot_token"] == "" {
			return fmt.Errorf("telegram channel config must contain 'bot_token'")
		}
	default:
		return fmt.Errorf("channel_type must be one of log, email, telegram, browser")
	}
	return nil
}
