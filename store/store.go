package store

import (
	"sync"

	"github.com/shopspring/decimal"

	"pricewatch/common"
)

// Snapshot is the ephemeral last-known state of one watched alert. It lives
// only while the alert is active and subscribed; it is rebuilt from the
// database on restart.
type Snapshot struct {
	AlertID        int64
	Symbol         string
	ThresholdPrice decimal.Decimal
	Direction      string
	ChannelIDs     []int64
	LastPrice      decimal.Decimal
	Initialized    bool
}

// Observation classifies what a price tick did to a snapshot.
type Observation int

const (
	// ObserveMiss: no snapshot for that alert.
	ObserveMiss Observation = iota
	// ObserveInit: first observation, baseline recorded, never a trigger.
	ObserveInit
	// ObserveUpdate: price moved without crossing the threshold.
	ObserveUpdate
	// ObserveCross: price crossed the threshold since the last observation.
	ObserveCross
)

// Store is the runtime cache for one exchange: which alerts watch which
// symbols, and each alert's snapshot. A single lock guards both maps; tick
// readers and control-plane writers for the same exchange serialize here.
type Store struct {
	mu        sync.RWMutex
	snapshots map[int64]*Snapshot
	watchers  map[string]map[int64]struct{}
}

func New() *Store {
	return &Store{
		snapshots: make(map[int64]*Snapshot),
		watchers:  make(map[string]map[int64]struct{}),
	}
}

// Add inserts a snapshot for the alert and registers it under its symbol.
// Duplicate adds are no-ops. Returns true when this is the first watcher for
// the symbol, i.e. the caller should open a connection.
func (s *Store) Add(alert *common.Alert) (firstWatcher bool, added bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.snapshots[alert.ID]; exists {
		return false, false
	}

	s.snapshots[alert.ID] = &Snapshot{
		AlertID:        alert.ID,
		Symbol:         alert.Symbol,
		ThresholdPrice: alert.ThresholdPrice,
		Direction:      alert.Direction,
		ChannelIDs:     append([]int64(nil), alert.ChannelIDs...),
	}

	set, ok := s.watchers[alert.Symbol]
	if !ok {
		set = make(map[int64]struct{})
		s.watchers[alert.Symbol] = set
	}
	set[alert.ID] = struct{}{}
	return len(set) == 1, true
}

// Remove deletes the snapshot and the watcher entry. Returns true when the
// symbol's watcher set became empty, i.e. the caller should close the
// connection.
func (s *Store) Remove(alertID int64, symbol string) (lastWatcher bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, alertID)
	set, ok := s.watchers[symbol]
	if !ok {
		return false
	}
	delete(set, alertID)
	if len(set) == 0 {
		delete(s.watchers, symbol)
		return true
	}
	return false
}

// Update replaces threshold, direction and channel ids in place. Price
// history survives a threshold edit: LastPrice and Initialized are kept.
func (s *Store) Update(alert *common.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[alert.ID]
	if !ok {
		return
	}
	snap.ThresholdPrice = alert.ThresholdPrice
	snap.Direction = alert.Direction
	snap.ChannelIDs = append([]int64(nil), alert.ChannelIDs...)
}

// Watchers returns the alert ids currently watching a symbol.
func (s *Store) Watchers(symbol string) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.watchers[symbol]
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) CountWatchers(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers[symbol])
}

// Snapshot returns a copy of the alert's snapshot.
func (s *Store) Snapshot(alertID int64) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[alertID]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// Symbols returns every symbol with at least one watcher.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.watchers))
	for symbol := range s.watchers {
		symbols = append(symbols, symbol)
	}
	return symbols
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = make(map[int64]*Snapshot)
	s.watchers = make(map[string]map[int64]struct{})
}

// Observe applies a price tick to an alert's snapshot and reports what
// happened. The read-then-write runs under the write lock so two concurrent
// ticks for the same alert serialize: only one of them can see the crossing.
//
// The crossing test compares the previous observation against the new one —
// a price already past the threshold at first observation does not fire
// until it leaves and re-crosses. LastPrice advances even on a cross, so an
// at-least-once redelivery of the same tick cannot cross twice.
//
// The returned snapshot carries the state as of the previous observation
// (its LastPrice is the value the tick was compared against).
func (s *Store) Observe(alertID int64, price decimal.Decimal) (Observation, Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[alertID]
	if !ok {
		return ObserveMiss, Snapshot{}
	}

	if !snap.Initialized {
		snap.LastPrice = price
		snap.Initialized = true
		return ObserveInit, *snap
	}

	crossed := false
	switch snap.Direction {
	case common.DirectionAbove:
		crossed = snap.LastPrice.LessThan(snap.ThresholdPrice) &&
			price.GreaterThanOrEqual(snap.ThresholdPrice)
	case common.DirectionBelow:
		crossed = snap.LastPrice.GreaterThan(snap.ThresholdPrice) &&
			price.LessThanOrEqual(snap.ThresholdPrice)
	}

	prev := *snap
	snap.LastPrice = price
	if crossed {
		return ObserveCross, prev
	}
	return ObserveUpdate, prev
}
