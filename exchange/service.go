package exchange

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"pricewatch/common"
	"pricewatch/feed"
	"pricewatch/sse"
	"pricewatch/store"
)

// AlertRepo is the persistence collaborator the runtime needs.
type AlertRepo interface {
	ActiveUntriggeredAlerts() ([]*common.Alert, error)
	GetAlert(id int64) (*common.Alert, error)
	MarkTriggered(id int64, at time.Time) (bool, error)
}

// Broadcaster publishes runtime events to connected clients.
type Broadcaster interface {
	Publish(topic string, payload any)
}

// Notifier fans a triggered alert out to its configured channels.
type Notifier interface {
	Dispatch(alert *common.Alert, price decimal.Decimal) []error
}

type symbolState int

const (
	stateConnecting symbolState = iota
	stateConnected
)

// Service owns one exchange's live subscriptions: the runtime cache of
// watching alerts, one feed connection per watched symbol, and the
// crossing-detection and trigger path for inbound ticks.
type Service struct {
	name     string
	repo     AlertRepo
	cache    *store.Store
	sink     Broadcaster
	notifier Notifier
	client   feed.Client

	mu      sync.Mutex
	states  map[string]symbolState
	running bool
}

func NewService(name string, repo AlertRepo, cache *store.Store, sink Broadcaster, notifier Notifier, factory feed.Factory) *Service {
	s := &Service{
		name:     name,
		repo:     repo,
		cache:    cache,
		sink:     sink,
		notifier: notifier,
		states:   make(map[string]symbolState),
	}
	s.client = factory(feed.Events{
		Tick:   s.handleTick,
		Closed: s.handleClosed,
	})
	return s
}

func (s *Service) Name() string { return s.name }

// Start bulk-loads every active, untriggered alert and subscribes once per
// distinct symbol.
func (s *Service) Start() error {
	log.Printf("🚀 starting %s exchange service ...", s.name)

	alertsList, err := s.repo.ActiveUntriggeredAlerts()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	symbols := make([]string, 0)
	seen := make(map[string]struct{})
	for _, alert := range alertsList {
		s.cache.Add(alert)
		if _, ok := seen[alert.Symbol]; !ok {
			seen[alert.Symbol] = struct{}{}
			symbols = append(symbols, alert.Symbol)
		}
	}

	log.Printf("📊 %s: loaded %d alerts across %d symbols", s.name, len(alertsList), len(symbols))
	for _, symbol := range symbols {
		s.SubscribeSymbol(symbol)
	}
	return nil
}

// Stop closes every live connection and clears the runtime cache.
func (s *Service) Stop() {
	s.client.CloseAll()
	s.cache.Clear()

	s.mu.Lock()
	s.states = make(map[string]symbolState)
	s.running = false
	s.mu.Unlock()

	log.Printf("🛑 %s exchange service stopped", s.name)
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// AddAlert registers the alert in the runtime cache and opens the symbol's
// connection when it is the first watcher. Duplicate adds are no-ops.
func (s *Service) AddAlert(alert *common.Alert) {
	if !alert.Active || alert.Triggered() {
		return
	}

	first, added := s.cache.Add(alert)
	if !added {
		log.Debugf("alert #%d (%s) already cached on %s", alert.ID, alert.Symbol, s.name)
		return
	}
	log.Printf("📥 alert #%d (%s) added to %s cache", alert.ID, alert.Symbol, s.name)

	if first {
		s.SubscribeSymbol(alert.Symbol)
	}
}

// RemoveAlert drops the alert from the cache and closes the symbol's
// connection when it was the last watcher.
func (s *Service) RemoveAlert(alertID int64, symbol string) {
	last := s.cache.Remove(alertID, symbol)
	log.Printf("📤 alert #%d (%s) removed from %s cache", alertID, symbol, s.name)
	if last {
		s.UnsubscribeSymbol(symbol)
	}
}

// UpdateAlert refreshes threshold, direction and channels in the cache.
// Subscription state does not change; price history survives the edit.
func (s *Service) UpdateAlert(alert *common.Alert) {
	s.cache.Update(alert)
	log.Printf("🔄 alert #%d (%s) updated in %s cache", alert.ID, alert.Symbol, s.name)
}

func (s *Service) CountWatchers(symbol string) int {
	return s.cache.CountWatchers(symbol)
}

// SubscribeSymbol opens a feed connection for the symbol unless one is
// already connecting or connected. A failed open leaves the symbol
// unsubscribed.
func (s *Service) SubscribeSymbol(symbol string) {
	s.mu.Lock()
	if _, ok := s.states[symbol]; ok {
		s.mu.Unlock()
		return
	}
	s.states[symbol] = stateConnecting
	s.mu.Unlock()

	if err := s.client.Open(symbol); err != nil {
		log.Printf("❌ %s: error subscribing to %s: %v", s.name, symbol, err)
		s.mu.Lock()
		delete(s.states, symbol)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	_, ok := s.states[symbol]
	if ok {
		s.states[symbol] = stateConnected
	}
	s.mu.Unlock()

	if !ok {
		// A concurrent unsubscribe removed the symbol while the dial was in
		// flight. The fresh connection has no watchers; close it.
		s.client.Close(symbol)
		return
	}
	log.Printf("✅ %s subscribed to %s", s.name, symbol)
}

// UnsubscribeSymbol closes the symbol's connection regardless of its current
// state.
func (s *Service) UnsubscribeSymbol(symbol string) {
	s.client.Close(symbol)
	s.mu.Lock()
	delete(s.states, symbol)
	s.mu.Unlock()
	log.Printf("🔌 %s unsubscribed from %s", s.name, symbol)
}

// ConnectedSymbols reports the symbols with a live connection.
func (s *Service) ConnectedSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbols := make([]string, 0, len(s.states))
	for symbol, state := range s.states {
		if state == stateConnected {
			symbols = append(symbols, symbol)
		}
	}
	return symbols
}

// handleClosed runs when a connection drops unexpectedly. The symbol is
// returned to unsubscribed and the loss is published so an operator can
// resubscribe; there is no automatic retry.
func (s *Service) handleClosed(symbol string) {
	s.mu.Lock()
	delete(s.states, symbol)
	s.mu.Unlock()

	log.Printf("⚠️ %s: feed connection lost for %s", s.name, symbol)
	s.sink.Publish(sse.TopicPrices, map[string]any{
		"type":     "feed_closed",
		"symbol":   symbol,
		"exchange": s.name,
	})
}

// handleTick is the crossing evaluator: it runs on the feed's reader
// goroutine for every normalized (symbol, price) event. Nothing on this path
// may panic through to the reader.
func (s *Service) handleTick(symbol string, price decimal.Decimal) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("🔥 %s: panic processing tick for %s: %v", s.name, symbol, r)
		}
	}()

	for _, alertID := range s.cache.Watchers(symbol) {
		obs, snap := s.cache.Observe(alertID, price)
		switch obs {
		case store.ObserveInit:
			s.publishPriceUpdate(alertID, symbol, price, price)
		case store.ObserveUpdate:
			s.publishPriceUpdate(alertID, symbol, price, snap.LastPrice)
		case store.ObserveCross:
			s.triggerAlert(alertID, price)
		}
	}
}

func (s *Service) publishPriceUpdate(alertID int64, symbol string, current, last decimal.Decimal) {
	s.sink.Publish(sse.TopicAlerts, map[string]any{
		"type":          "price_update",
		"alert_id":      alertID,
		"symbol":        symbol,
		"current_price": current.InexactFloat64(),
		"last_price":    last.InexactFloat64(),
		"exchange":      s.name,
	})
}

// triggerAlert is the trigger coordinator. It re-fetches the authoritative
// record and aborts silently when the alert is gone, inactive or already
// triggered; the conditional UPDATE guarantees only one of two concurrent
// triggers wins. A persistence failure leaves the alert subscribed so a
// later tick retries.
func (s *Service) triggerAlert(alertID int64, price decimal.Decimal) {
	alert, err := s.repo.GetAlert(alertID)
	if err != nil {
		log.Printf("❌ %s: error fetching alert #%d for trigger: %v", s.name, alertID, err)
		return
	}
	if alert == nil || !alert.Active || alert.Triggered() {
		return
	}

	now := time.Now().UTC()
	won, err := s.repo.MarkTriggered(alertID, now)
	if err != nil {
		log.Printf("❌ %s: error persisting trigger for alert #%d: %v", s.name, alertID, err)
		return
	}
	if !won {
		return
	}
	alert.TriggeredAt = &now
	alert.Active = false

	s.RemoveAlert(alertID, alert.Symbol)

	s.sink.Publish(sse.TopicAlerts, map[string]any{
		"type":          "triggered",
		"alert_id":      alertID,
		"symbol":        alert.Symbol,
		"current_price": price.InexactFloat64(),
		"triggered_at":  now.Format(time.RFC3339),
	})

	log.Printf("🔔 %s: alert #%d (%s) triggered at $%s", s.name, alertID, alert.Symbol, price.String())

	if errs := s.notifier.Dispatch(alert, price); len(errs) > 0 {
		log.Printf("⚠️ %s: %d notification channel(s) failed for alert #%d", s.name, len(errs), alertID)
	}
}
