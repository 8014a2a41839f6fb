package exchange

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"pricewatch/common"
	"pricewatch/feed"
	"pricewatch/store"
)

// feedFactories binds an exchange name to its feed transport. Adding an
// exchange means implementing feed.Client and registering it here.
var feedFactories = map[string]feed.Factory{
	"binance": feed.NewBinance,
}

// Deps are the collaborators shared by every per-exchange service.
type Deps struct {
	Repo     AlertRepo
	Sink     Broadcaster
	Notifier Notifier
}

// Manager is the composition root for the per-exchange services: it builds
// one Service per enabled exchange and fans every control-plane call out to
// all of them.
type Manager struct {
	enabled  []string
	services map[string]*Service
}

func NewManager(enabled []string, deps Deps) (*Manager, error) {
	m := &Manager{
		enabled:  enabled,
		services: make(map[string]*Service),
	}
	for _, name := range enabled {
		factory, ok := feedFactories[name]
		if !ok {
			return nil, fmt.Errorf("unknown exchange %q", name)
		}
		m.services[name] = NewService(name, deps.Repo, store.New(), deps.Sink, deps.Notifier, factory)
	}
	return m, nil
}

func (m *Manager) Start() {
	for name, service := range m.services {
		if err := service.Start(); err != nil {
			log.Printf("❌ error starting %s exchange service: %v", name, err)
		}
	}
}

func (m *Manager) Stop() {
	for _, service := range m.services {
		service.Stop()
	}
}

func (m *Manager) AddAlert(alert *common.Alert) {
	for _, service := range m.services {
		service.AddAlert(alert)
	}
}

func (m *Manager) RemoveAlert(alertID int64, symbol string) {
	for _, service := range m.services {
		service.RemoveAlert(alertID, symbol)
	}
}

func (m *Manager) UpdateAlert(alert *common.Alert) {
	for _, service := range m.services {
		service.UpdateAlert(alert)
	}
}

func (m *Manager) SubscribeSymbol(symbol string) {
	for _, service := range m.services {
		service.SubscribeSymbol(symbol)
	}
}

func (m *Manager) UnsubscribeSymbol(symbol string) {
	for _, service := range m.services {
		service.UnsubscribeSymbol(symbol)
	}
}

func (m *Manager) Running() bool {
	for _, service := range m.services {
		if service.Running() {
			return true
		}
	}
	return false
}

func (m *Manager) Service(name string) *Service {
	return m.services[name]
}

type ServiceStatus struct {
	Name             string   `json:"name"`
	Running          bool     `json:"running"`
	ConnectedSymbols []string `json:"connected_symbols"`
}

type Status struct {
	EnabledExchanges []string        `json:"enabled_exchanges"`
	RunningServices  []string        `json:"running_services"`
	TotalServices    int             `json:"total_services"`
	Services         []ServiceStatus `json:"services"`
}

func (m *Manager) Status() Status {
	status := Status{
		EnabledExchanges: m.enabled,
		TotalServices:    len(m.services),
	}
	for _, name := range m.enabled {
		service := m.services[name]
		if service.Running() {
			status.RunningServices = append(status.RunningServices, name)
		}
		status.Services = append(status.Services, ServiceStatus{
			Name:             name,
			Running:          service.Running(),
			ConnectedSymbols: service.ConnectedSymbols(),
		})
	}
	return status
}

// Lifecycle entry points, called by the admin layer when an alert record
// changes. They mirror the persistence lifecycle onto the runtime cache.

// OnAlertCreated subscribes a freshly created alert when it is eligible.
func (m *Manager) OnAlertCreated(alert *common.Alert) {
	if !alert.Active || alert.Triggered() {
		return
	}
	m.AddAlert(alert)
}

// OnAlertActivatedOrEdited covers both an alert becoming active and an
// in-place edit of threshold/direction/channels: AddAlert is idempotent and
// UpdateAlert refreshes the cached fields without touching price history.
func (m *Manager) OnAlertActivatedOrEdited(alert *common.Alert) {
	if !alert.Active || alert.Triggered() {
		m.RemoveAlert(alert.ID, alert.Symbol)
		return
	}
	m.AddAlert(alert)
	m.UpdateAlert(alert)
}

// OnAlertDeactivatedOrTriggered evicts the alert from every runtime cache.
func (m *Manager) OnAlertDeactivatedOrTriggered(alert *common.Alert) {
	m.RemoveAlert(alert.ID, alert.Symbol)
}

// OnAlertDestroyed evicts a deleted alert from every runtime cache.
func (m *Manager) OnAlertDestroyed(alertID int64, symbol string) {
	m.RemoveAlert(alertID, symbol)
}
