package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const binanceWSBase = "wss://stream.binance.com:9443/ws"

// Binance streams the 24h ticker for each opened symbol over one websocket
// connection per symbol.
type Binance struct {
	events Events

	mu    sync.Mutex
	conns map[string]*binanceConn
}

type binanceConn struct {
	id      string
	ws      *websocket.Conn
	closing bool
}

func NewBinance(events Events) Client {
	return &Binance{
		events: events,
		conns:  make(map[string]*binanceConn),
	}
}

func binanceStreamURL(symbol string) string {
	return fmt.Sprintf("%s/%s@ticker", binanceWSBase, strings.ToLower(symbol))
}

func (b *Binance) Open(symbol string) error {
	b.mu.Lock()
	if _, exists := b.conns[symbol]; exists {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	url := binanceStreamURL(symbol)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dialing binance stream for %s: %w", symbol, err)
	}

	conn := &binanceConn{id: uuid.NewString()[:8], ws: ws}

	b.mu.Lock()
	if _, exists := b.conns[symbol]; exists {
		// Lost the race to a concurrent Open for the same symbol.
		b.mu.Unlock()
		ws.Close()
		return nil
	}
	b.conns[symbol] = conn
	b.mu.Unlock()

	log.Printf("🌐 binance websocket connected for %s [conn %s]", symbol, conn.id)
	go b.readLoop(symbol, conn)
	return nil
}

func (b *Binance) readLoop(symbol string, conn *binanceConn) {
	for {
		_, msg, err := conn.ws.ReadMessage()
		if err != nil {
			b.mu.Lock()
			closing := conn.closing
			if b.conns[symbol] == conn {
				delete(b.conns, symbol)
			}
			b.mu.Unlock()

			if !closing {
				log.Printf("❌ binance websocket closed for %s [conn %s]: %v", symbol, conn.id, err)
				if b.events.Closed != nil {
					b.events.Closed(symbol)
				}
			}
			return
		}

		price, err := parseTickerPrice(msg)
		if err != nil {
			// Drop the single message, keep the stream.
			log.Printf("binance: dropping unparseable ticker message for %s: %v", symbol, err)
			continue
		}

		if b.events.Tick != nil {
			b.events.Tick(symbol, price)
		}
	}
}

// parseTickerPrice extracts the close price ("c") from a binance 24h ticker
// payload.
func parseTickerPrice(msg []byte) (decimal.Decimal, error) {
	var ticker struct {
		Close string `json:"c"`
	}
	if err := json.Unmarshal(msg, &ticker); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decoding ticker payload: %w", err)
	}
	if ticker.Close == "" {
		return decimal.Decimal{}, fmt.Errorf("ticker payload has no close price")
	}
	price, err := decimal.NewFromString(ticker.Close)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing close price %q: %w", ticker.Close, err)
	}
	return price, nil
}

func (b *Binance) Close(symbol string) {
	b.mu.Lock()
	conn, ok := b.conns[symbol]
	if ok {
		conn.closing = true
		delete(b.conns, symbol)
	}
	b.mu.Unlock()

	if ok {
		conn.ws.Close()
		log.Printf("🔌 binance websocket closed for %s [conn %s]", symbol, conn.id)
	}
}

func (b *Binance) CloseAll() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[string]*binanceConn)
	for _, conn := range conns {
		conn.closing = true
	}
	b.mu.Unlock()

	for symbol, conn := range conns {
		conn.ws.Close()
		log.Printf("🔌 binance websocket closed for %s [conn %s]", symbol, conn.id)
	}
}

func (b *Binance) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}
