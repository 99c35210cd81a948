package binance

import (
	"testing"

	"keel/internal/exchange"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", cleanSymbol("BTC-USDT"))
	assert.Equal(t, "BTCUSDT", cleanSymbol("btc/usdt"))
	assert.Equal(t, "BTCUSDT", cleanSymbol("  BTCUSDT  "))
}

func TestMapOrderType(t *testing.T) {
	assert.Equal(t, futures.OrderTypeMarket, mapOrderType(exchange.OrderTypeMarket))
	assert.Equal(t, futures.OrderTypeLimit, mapOrderType(exchange.OrderTypeLimit))
	assert.Equal(t, futures.OrderTypeStopMarket, mapOrderType(exchange.OrderTypeStopLoss))
	assert.Equal(t, futures.OrderTypeTakeProfitMarket, mapOrderType(exchange.OrderTypeTakeProfit))
	assert.Equal(t, futures.OrderTypeStop, mapOrderType(exchange.OrderTypeStopLimit))
	assert.Equal(t, futures.SideTypeSell, mapSide(exchange.SideSell))
	assert.Equal(t, futures.SideTypeBuy, mapSide(exchange.SideBuy))
}

func TestApplyFilters(t *testing.T) {
	filters := []map[string]interface{}{
		{"filterType": "PRICE_FILTER", "tickSize": "0.10"},
		{"filterType": "LOT_SIZE", "minQty": "0.001", "maxQty": "1000", "stepSize": "0.001"},
		{"filterType": "MIN_NOTIONAL", "notional": "5"},
	}
	var limits exchange.SymbolLimits
	applyFilters(&limits, filters)
	assert.Equal(t, 0.001, limits.MinAmount)
	assert.Equal(t, 1000.0, limits.MaxAmount)
	assert.Equal(t, 0.001, limits.StepSize)
	assert.Equal(t, 5.0, limits.MinNotional)
}

func TestFloatHelpers(t *testing.T) {
	assert.Equal(t, "0.001", formatFloat(0.001))
	assert.Equal(t, 0.001, parseFloat(" 0.001 "))
	assert.Equal(t, 0.0, parseFloat("not-a-number"))
}

func TestNewAppliesDefaults(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "binance-futures", c.Name())
	assert.Equal(t, defaultRESTBaseURL, c.cfg.RESTBaseURL)
}
