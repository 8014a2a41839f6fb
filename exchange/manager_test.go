package exchange

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/store"
)

func newTestManager(t *testing.T, repo *fakeRepo) (*Manager, *fakeFeed) {
	t.Helper()
	f := newFakeFeed()
	svc := NewService("binance", repo, store.New(), &fakeSink{}, &fakeNotifier{}, f.factory)
	m := &Manager{
		enabled:  []string{"binance"},
		services: map[string]*Service{"binance": svc},
	}
	return m, f
}

func TestNewManagerRejectsUnknownExchange(t *testing.T) {
	_, err := NewManager([]string{"kraken"}, Deps{Repo: newFakeRepo(), Sink: &fakeSink{}, Notifier: &fakeNotifier{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kraken")
}

func TestNewManagerBuildsEnabledServices(t *testing.T) {
	m, err := NewManager([]string{"binance"}, Deps{Repo: newFakeRepo(), Sink: &fakeSink{}, Notifier: &fakeNotifier{}})
	require.NoError(t, err)
	require.NotNil(t, m.Service("binance"))
	assert.Nil(t, m.Service("coinbase"))
}

func TestOnAlertCreatedSubscribesEligible(t *testing.T) {
	m, f := newTestManager(t, newFakeRepo())

	m.OnAlertCreated(btcAlert())

	assert.Equal(t, 1, f.OpenCount())
	assert.Equal(t, 1, m.Service("binance").CountWatchers("BTCUSDT"))
}

func TestOnAlertCreatedSkipsTriggered(t *testing.T) {
	m, f := newTestManager(t, newFakeRepo())

	now := time.Now()
	alert := btcAlert()
	alert.TriggeredAt = &now

	m.OnAlertCreated(alert)

	assert.Equal(t, 0, f.OpenCount(), "a triggered alert must never be subscribed")
	assert.Equal(t, 0, m.Service("binance").CountWatchers("BTCUSDT"))
}

func TestOnAlertCreatedSkipsInactive(t *testing.T) {
	m, f := newTestManager(t, newFakeRepo())

	alert := btcAlert()
	alert.Active = false

	m.OnAlertCreated(alert)

	assert.Equal(t, 0, f.OpenCount())
	assert.Equal(t, 0, m.Service("binance").CountWatchers("BTCUSDT"))
}

func TestOnAlertActivatedOrEditedRefreshesCache(t *testing.T) {
	m, f := newTestManager(t, newFakeRepo())
	m.OnAlertCreated(btcAlert())

	edited := btcAlert()
	edited.ThresholdPrice = decimal.RequireFromString("60000")
	m.OnAlertActivatedOrEdited(edited)

	assert.Equal(t, []string{"BTCUSDT"}, f.opens, "an edit must not reopen the connection")
	snap, ok := m.Service("binance").cache.Snapshot(1)
	require.True(t, ok)
	assert.True(t, snap.ThresholdPrice.Equal(decimal.RequireFromString("60000")))
}

func TestOnAlertActivatedOrEditedActivates(t *testing.T) {
	m, f := newTestManager(t, newFakeRepo())

	m.OnAlertActivatedOrEdited(btcAlert())

	assert.Equal(t, 1, f.OpenCount())
	assert.Equal(t, 1, m.Service("binance").CountWatchers("BTCUSDT"))
}

func TestOnAlertActivatedOrEditedRemovesDeactivated(t *testing.T) {
	m, f := newTestManager(t, newFakeRepo())
	m.OnAlertCreated(btcAlert())
	require.Equal(t, 1, f.OpenCount())

	deactivated := btcAlert()
	deactivated.Active = false
	m.OnAlertActivatedOrEdited(deactivated)

	assert.Equal(t, 0, f.OpenCount(), "deactivation must evict and close")
	assert.Equal(t, 0, m.Service("binance").CountWatchers("BTCUSDT"))
}

func TestOnAlertDeactivatedOrTriggeredEvicts(t *testing.T) {
	m, f := newTestManager(t, newFakeRepo())
	m.OnAlertCreated(btcAlert())

	m.OnAlertDeactivatedOrTriggered(btcAlert())

	assert.Equal(t, 0, f.OpenCount())
	assert.Equal(t, 0, m.Service("binance").CountWatchers("BTCUSDT"))
}

func TestOnAlertDestroyedEvicts(t *testing.T) {
	m, f := newTestManager(t, newFakeRepo())
	m.OnAlertCreated(btcAlert())

	m.OnAlertDestroyed(1, "BTCUSDT")

	assert.Equal(t, 0, f.OpenCount())
	assert.Equal(t, 0, m.Service("binance").CountWatchers("BTCUSDT"))
}

func TestManagerStartStopFanOut(t *testing.T) {
	repo := newFakeRepo(btcAlert())
	m, f := newTestManager(t, repo)

	m.Start()
	assert.True(t, m.Running())
	assert.Equal(t, 1, f.OpenCount())

	m.Stop()
	assert.False(t, m.Running())
	assert.Equal(t, 0, f.OpenCount())
}

func TestManagerStatus(t *testing.T) {
	repo := newFakeRepo(btcAlert())
	m, _ := newTestManager(t, repo)
	m.Start()

	status := m.Status()
	assert.Equal(t, []string{"binance"}, status.EnabledExchanges)
	assert.Equal(t, []string{"binance"}, status.RunningServices)
	assert.Equal(t, 1, status.TotalServices)
	require.Len(t, status.Services, 1)
	assert.Equal(t, "binance", status.Services[0].Name)
	assert.True(t, status.Services[0].Running)
	assert.Equal(t, []string{"BTCUSDT"}, status.Services[0].ConnectedSymbols)
}
