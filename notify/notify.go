package notify

import (
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"pricewatch/common"
)

// ChannelFinder resolves channel ids to their persisted records.
type ChannelFinder interface {
	GetChannel(id int64) (*common.NotificationChannel, error)
}

// Adapter delivers one formatted notification through a single transport.
type Adapter interface {
	Send(channel *common.NotificationChannel, alert *common.Alert, price decimal.Decimal) error
}

// Dispatcher routes a triggered alert to every configured channel's adapter.
// A failure in one channel never blocks the others.
type Dispatcher struct {
	channels ChannelFinder
	adapters map[string]Adapter
}

func NewDispatcher(channels ChannelFinder, adapters map[string]Adapter) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		adapters: adapters,
	}
}

// Dispatch sends the trigger notification to each of the alert's channels.
// Per-channel failures are logged and collected for the caller; they do not
// affect the trigger's persisted state.
func (d *Dispatcher) Dispatch(alert *common.Alert, price decimal.Decimal) []error {
	var errs []error
	for _, channelID := range alert.ChannelIDs {
		channel, err := d.channels.GetChannel(channelID)
		if err != nil {
			log.Printf("❌ error loading notification channel %d: %v", channelID, err)
			errs = append(errs, err)
			continue
		}
		if channel == nil || !channel.Active {
			continue
		}

		adapter, ok := d.adapters[channel.ChannelType]
		if !ok {
			err := fmt.Errorf("no adapter for channel type %q", channel.ChannelType)
			log.Printf("❌ %v", err)
			errs = append(errs, err)
			continue
		}

		if err := adapter.Send(channel, alert, price); err != nil {
			log.Printf("❌ error sending notification via %s channel %q: %v", channel.ChannelType, channel.Name, err)
			errs = append(errs, err)
		}
	}
	return errs
}

func directionLabel(direction string) string {
	if direction == common.DirectionAbove {
		return "above"
	}
	return "below"
}

func directionArrow(direction string) string {
	if direction == common.DirectionAbove {
		return "↑"
	}
	return "↓"
}

// formatMessage renders the common notification template shared by every
// adapter.
func formatMessage(alert *common.Alert, price decimal.Decimal) string {
	triggeredAt := ""
	if alert.TriggeredAt != nil {
		triggeredAt = alert.TriggeredAt.Format("2006-01-02 15:04:05")
	}

	return fmt.Sprintf("🚨 PRICE ALERT TRIGGERED\n\n"+
		"Symbol: %s\n"+
		"Direction: %s\n"+
		"Threshold price: %s\n"+
		"Current price: %s\n"+
		"Triggered at: %s",
		alert.Symbol,
		directionLabel(alert.Direction),
		alert.ThresholdPrice.String(),
		price.String(),
		triggeredAt)
}
