package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"pricewatch/common"
)

// EmailAdapter sends trigger notifications over SMTP. Delivery runs
// asynchronously; a relay failure is logged, not returned, matching the
// deferred delivery contract.
type EmailAdapter struct {
	Addr string // host:port of the SMTP relay
	From string

	// send is swappable for tests.
	send func(addr, from, to, msg string) error
}

func NewEmailAdapter(addr, from string) *EmailAdapter {
	return &EmailAdapter{
		Addr: addr,
		From: from,
		send: func(addr, from, to, msg string) error {
			return smtp.SendMail(addr, nil, from, []string{to}, []byte(msg))
		},
	}
}

func (a *EmailAdapter) Send(channel *common.NotificationChannel, alert *common.Alert, price decimal.Decimal) error {
	to := channel.Config["to"]
	if to == "" {
		return fmt.Errorf("email channel %q has no 'to' configured", channel.Name)
	}
	if a.Addr == "" {
		return fmt.Errorf("no SMTP relay configured")
	}

	subject := fmt.Sprintf("🚨 Crypto Alert: %s %s", alert.Symbol, directionArrow(alert.Direction))
	body := formatMessage(alert, price)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", a.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(body)

	go func(payload string) {
		if err := a.send(a.Addr, a.From, to, payload); err != nil {
			log.Printf("❌ error delivering alert email to %s: %v", to, err)
		}
	}(msg.String())

	return nil
}
