package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTickerPrice(t *testing.T) {
	msg := []byte(`{"e":"24hrTicker","s":"BTCUSDT","c":"50123.45","v":"1234","P":"2.1","h":"51000","l":"49000"}`)

	price, err := parseTickerPrice(msg)
	require.NoError(t, err)
	assert.Equal(t, "50123.45", price.String())
}

func TestParseTickerPriceErrors(t *testing.T) {
	cases := []struct {
		name string
		msg  string
	}{
		{"not json", `{{{`},
		{"missing close field", `{"e":"24hrTicker","s":"BTCUSDT"}`},
		{"non-numeric close", `{"c":"abc"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseTickerPrice([]byte(tc.msg))
			assert.Error(t, err)
		})
	}
}

func TestBinanceStreamURL(t *testing.T) {
	assert.Equal(t, "wss://stream.binance.com:9443/ws/btcusdt@ticker", binanceStreamURL("BTCUSDT"))
}
