package feed

import (
	"github.com/shopspring/decimal"
)

// Events are the callbacks a feed client delivers into. Tick carries a
// normalized (symbol, price) event; Closed fires when a connection drops for
// any reason other than an explicit Close, so the owner can mark the symbol
// no longer connected.
type Events struct {
	Tick   func(symbol string, price decimal.Decimal)
	Closed func(symbol string)
}

// Client maintains one logical streaming subscription per symbol on one
// exchange. Exchange-specific wire decoding stays behind this contract so
// other exchanges can be added by implementing it.
type Client interface {
	// Open starts streaming ticks for the symbol. A failed open returns the
	// error and leaves the symbol unconnected.
	Open(symbol string) error
	// Close tears down the symbol's connection. No Closed event is emitted
	// for an explicit close.
	Close(symbol string)
	// CloseAll tears down every open connection.
	CloseAll()
	// OpenCount reports the number of live connections.
	OpenCount() int
}

// Factory builds a client wired to the given callbacks. The exchange service
// stays transport-agnostic behind it and tests inject fakes.
type Factory func(events Events) Client
