package notify

import (
	"fmt"

	"github.com/shopspring/decimal"

	"pricewatch/common"
	"pricewatch/sse"
)

// Broadcaster is the sink browser notifications are published to.
type Broadcaster interface {
	Publish(topic string, payload any)
}

// BrowserAdapter publishes trigger notifications to the broadcast sink for
// in-app rendering. The data block carries the structured fields the client
// needs beyond the display text.
type BrowserAdapter struct {
	Sink Broadcaster
}

func NewBrowserAdapter(sink Broadcaster) *BrowserAdapter {
	return &BrowserAdapter{Sink: sink}
}

func (a *BrowserAdapter) Send(channel *common.NotificationChannel, alert *common.Alert, price decimal.Decimal) error {
	a.Sink.Publish(sse.TopicBrowserNotifications, map[string]any{
		"type":  "alert_triggered",
		"title": "🚨 Crypto Alert",
		"body":  fmt.Sprintf("%s %s $%s", alert.Symbol, directionArrow(alert.Direction), price.String()),
		"data": map[string]any{
			"alert_id":  alert.ID,
			"symbol":    alert.Symbol,
			"price":     price.InexactFloat64(),
			"threshold": alert.ThresholdPrice.InexactFloat64(),
			"direction": alert.Direction,
		},
	})
	return nil
}
