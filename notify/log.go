package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/common"
)

// LogAdapter appends trigger notifications to a log file.
type LogAdapter struct {
	Path string
}

func NewLogAdapter(path string) *LogAdapter {
	return &LogAdapter{Path: path}
}

func (a *LogAdapter) Send(channel *common.NotificationChannel, alert *common.Alert, price decimal.Decimal) error {
	if err := os.MkdirAll(filepath.Dir(a.Path), 0o755); err != nil {
		return fmt.Errorf("error creating alert log directory: %w", err)
	}

	f, err := os.OpenFile(a.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("error opening alert log file: %w", err)
	}
	defer f.Close()

	message := formatMessage(alert, price)
	if _, err := fmt.Fprintf(f, "\n%s - %s\n", time.Now().Format(time.RFC3339), message); err != nil {
		return fmt.Errorf("error writing alert log: %w", err)
	}
	return nil
}
