package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/common"
	"pricewatch/sse"
)

type fakeChannelFinder struct {
	channels map[int64]*common.NotificationChannel
}

func (f *fakeChannelFinder) GetChannel(id int64) (*common.NotificationChannel, error) {
	return f.channels[id], nil
}

type recordingAdapter struct {
	calls []int64
	err   error
}

func (r *recordingAdapter) Send(channel *common.NotificationChannel, alert *common.Alert, price decimal.Decimal) error {
	r.calls = append(r.calls, channel.ID)
	return r.err
}

func triggeredAlert() *common.Alert {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return &common.Alert{
		ID:             7,
		Symbol:         "BTCUSDT",
		ThresholdPrice: decimal.RequireFromString("50000"),
		Direction:      common.DirectionAbove,
		TriggeredAt:    &at,
		ChannelIDs:     []int64{1, 2, 3},
	}
}

func TestDispatchRoutesByChannelType(t *testing.T) {
	finder := &fakeChannelFinder{channels: map[int64]*common.NotificationChannel{
		1: {ID: 1, Name: "stdout", ChannelType: common.ChannelLog, Active: true},
		2: {ID: 2, Name: "mail", ChannelType: common.ChannelEmail, Active: true},
		3: {ID: 3, Name: "inapp", ChannelType: common.ChannelBrowser, Active: true},
	}}
	logAd := &recordingAdapter{}
	emailAd := &recordingAdapter{}
	browserAd := &recordingAdapter{}

	d := NewDispatcher(finder, map[string]Adapter{
		common.ChannelLog:     logAd,
		common.ChannelEmail:   emailAd,
		common.ChannelBrowser: browserAd,
	})

	errs := d.Dispatch(triggeredAlert(), decimal.RequireFromString("51000"))
	assert.Empty(t, errs)
	assert.Equal(t, []int64{1}, logAd.calls)
	assert.Equal(t, []int64{2}, emailAd.calls)
	assert.Equal(t, []int64{3}, browserAd.calls)
}

func TestDispatchFailureDoesNotBlockOtherChannels(t *testing.T) {
	finder := &fakeChannelFinder{channels: map[int64]*common.NotificationChannel{
		1: {ID: 1, Name: "a", ChannelType: common.ChannelLog, Active: true},
		2: {ID: 2, Name: "b", ChannelType: common.ChannelEmail, Active: true},
		3: {ID: 3, Name: "c", ChannelType: common.ChannelBrowser, Active: true},
	}}
	failing := &recordingAdapter{err: fmt.Errorf("boom")}
	ok1 := &recordingAdapter{}
	ok2 := &recordingAdapter{}

	d := NewDispatcher(finder, map[string]Adapter{
		common.ChannelLog:     ok1,
		common.ChannelEmail:   failing,
		common.ChannelBrowser: ok2,
	})

	errs := d.Dispatch(triggeredAlert(), decimal.RequireFromString("51000"))
	require.Len(t, errs, 1, "the failing channel's error must surface")
	assert.Len(t, ok1.calls, 1)
	assert.Len(t, ok2.calls, 1, "channels after the failure must still be invoked")
}

func TestDispatchSkipsInactiveAndMissingChannels(t *testing.T) {
	finder := &fakeChannelFinder{channels: map[int64]*common.NotificationChannel{
		1: {ID: 1, Name: "off", ChannelType: common.ChannelLog, Active: false},
		// channel 2 does not exist
	}}
	logAd := &recordingAdapter{}
	d := NewDispatcher(finder, map[string]Adapter{common.ChannelLog: logAd})

	alert := triggeredAlert()
	alert.ChannelIDs = []int64{1, 2}
	errs := d.Dispatch(alert, decimal.RequireFromString("51000"))
	assert.Empty(t, errs)
	assert.Empty(t, logAd.calls)
}

func TestLogAdapterAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "alerts.log")
	a := NewLogAdapter(path)

	channel := &common.NotificationChannel{ID: 1, Name: "file", ChannelType: common.ChannelLog, Active: true}
	require.NoError(t, a.Send(channel, triggeredAlert(), decimal.RequireFromString("51000")))
	require.NoError(t, a.Send(channel, triggeredAlert(), decimal.RequireFromString("51500")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "BTCUSDT")
	assert.Contains(t, content, "Threshold price: 50000")
	assert.Contains(t, content, "Current price: 51000")
	assert.Contains(t, content, "Current price: 51500")
}

func TestEmailAdapterBuildsMessage(t *testing.T) {
	sent := make(chan string, 1)
	a := NewEmailAdapter("smtp.example.com:25", "alerts@example.com")
	a.send = func(addr, from, to, msg string) error {
		sent <- msg
		return nil
	}

	channel := &common.NotificationChannel{
		ID: 2, Name: "mail", ChannelType: common.ChannelEmail, Active: true,
		Config: map[string]string{"to": "trader@example.com"},
	}
	require.NoError(t, a.Send(channel, triggeredAlert(), decimal.RequireFromString("51000")))

	select {
	case msg := <-sent:
		assert.Contains(t, msg, "To: trader@example.com")
		assert.Contains(t, msg, "Subject: 🚨 Crypto Alert: BTCUSDT ↑")
		assert.Contains(t, msg, "Current price: 51000")
	case <-time.After(time.Second):
		t.Fatal("email was never handed to the relay")
	}
}

func TestEmailAdapterRequiresRecipient(t *testing.T) {
	a := NewEmailAdapter("smtp.example.com:25", "alerts@example.com")
	channel := &common.NotificationChannel{ID: 2, ChannelType: common.ChannelEmail, Active: true, Config: map[string]string{}}
	assert.Error(t, a.Send(channel, triggeredAlert(), decimal.RequireFromString("51000")))
}

type fakeSink struct {
	topics   []string
	payloads []any
}

func (f *fakeSink) Publish(topic string, payload any) {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
}

func TestBrowserAdapterPayloadShape(t *testing.T) {
	sink := &fakeSink{}
	a := NewBrowserAdapter(sink)

	channel := &common.NotificationChannel{ID: 3, ChannelType: common.ChannelBrowser, Active: true}
	require.NoError(t, a.Send(channel, triggeredAlert(), decimal.RequireFromString("51000")))

	require.Equal(t, []string{sse.TopicBrowserNotifications}, sink.topics)
	payload, ok := sink.payloads[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alert_triggered", payload["type"])
	assert.Equal(t, "🚨 Crypto Alert", payload["title"])
	assert.Equal(t, "BTCUSDT ↑ $51000", payload["body"])

	data, ok := payload["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(7), data["alert_id"])
	assert.Equal(t, "BTCUSDT", data["symbol"])
	assert.Equal(t, 51000.0, data["price"])
	assert.Equal(t, 50000.0, data["threshold"])
	assert.Equal(t, "above", data["direction"])
}

func TestFormatMessage(t *testing.T) {
	msg := formatMessage(triggeredAlert(), decimal.RequireFromString("51000.5"))
	assert.Contains(t, msg, "Symbol: BTCUSDT")
	assert.Contains(t, msg, "Direction: above")
	assert.Contains(t, msg, "Threshold price: 50000")
	assert.Contains(t, msg, "Current price: 51000.5")
	assert.Contains(t, msg, "Triggered at: 2026-03-14 09:26:53")
}
