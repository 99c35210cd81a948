// Package binance implements the exchange.Client contract on top of the
// go-binance USD-M futures SDK.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"keel/internal/exchange"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/tidwall/gjson"
)

type Client struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	fc := futures.NewClient(final.APIKey, final.APISecret)
	fc.BaseURL = final.RESTBaseURL
	fc.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Client{cfg: final, client: fc}, nil
}

func (c *Client) Name() string { return "binance-futures" }

// cleanSymbol strips the separator: the engine tracks "BTC-USDT" or
// "BTC/USDT", Binance wants "BTCUSDT".
func cleanSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	symbol = strings.ReplaceAll(symbol, "/", "")
	return strings.ReplaceAll(symbol, "-", "")
}

func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	if strings.TrimSpace(req.Symbol) == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	svc := c.client.NewCreateOrderService().
		Symbol(cleanSymbol(req.Symbol)).
		Side(mapSide(req.Side)).
		Type(mapOrderType(req.Type)).
		Quantity(formatFloat(req.Amount))
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}
	if req.Price > 0 {
		svc = svc.Price(formatFloat(req.Price)).TimeInForce(futures.TimeInForceTypeGTC)
	}
	if req.StopPrice > 0 {
		svc = svc.StopPrice(formatFloat(req.StopPrice))
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance place order %s: %w", req.Symbol, err)
	}
	return &exchange.OrderAck{
		ExchangeID:   strconv.FormatInt(res.OrderID, 10),
		Status:       string(res.Status),
		FilledAmount: parseFloat(res.ExecutedQuantity),
		AvgFillPrice: parseFloat(res.AvgPrice),
		AckedAt:      time.UnixMilli(res.UpdateTime),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeID string) error {
	orderID, err := strconv.ParseInt(strings.TrimSpace(exchangeID), 10, 64)
	if err != nil {
		return fmt.Errorf("binance cancel: invalid exchange id %q", exchangeID)
	}
	_, err = c.client.NewCancelOrderService().
		Symbol(cleanSymbol(symbol)).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("binance cancel order %s/%s: %w", symbol, exchangeID, err)
	}
	return nil
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	prices, err := c.client.NewListPricesService().Symbol(cleanSymbol(symbol)).Do(ctx)
	if err != nil {
		return exchange.Ticker{}, fmt.Errorf("binance ticker %s: %w", symbol, err)
	}
	if len(prices) == 0 || prices[0] == nil {
		return exchange.Ticker{}, fmt.Errorf("binance ticker %s: empty response", symbol)
	}
	return exchange.Ticker{
		Symbol:    symbol,
		Price:     parseFloat(prices[0].Price),
		UpdatedAt: time.Now(),
	}, nil
}

func (c *Client) BatchTickers(ctx context.Context, symbols []string) (map[string]exchange.Ticker, error) {
	prices, err := c.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance batch tickers: %w", err)
	}
	byClean := make(map[string]float64, len(prices))
	for _, p := range prices {
		if p == nil {
			continue
		}
		byClean[p.Symbol] = parseFloat(p.Price)
	}
	now := time.Now()
	out := make(map[string]exchange.Ticker, len(symbols))
	for _, sym := range symbols {
		if price, ok := byClean[cleanSymbol(sym)]; ok {
			out[sym] = exchange.Ticker{Symbol: sym, Price: price, UpdatedAt: now}
		}
	}
	return out, nil
}

func (c *Client) GetOpenPositions(ctx context.Context) ([]exchange.OpenPosition, error) {
	risks, err := c.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance open positions: %w", err)
	}
	var out []exchange.OpenPosition
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := exchange.SideBuy
		if amt < 0 {
			side = exchange.SideSell
			amt = -amt
		}
		out = append(out, exchange.OpenPosition{
			Symbol:     r.Symbol,
			Side:       side,
			Amount:     amt,
			EntryPrice: parseFloat(r.EntryPrice),
			Leverage:   parseFloat(r.Leverage),
		})
	}
	return out, nil
}

func (c *Client) GetSymbolLimits(ctx context.Context, symbol string) (exchange.SymbolLimits, error) {
	info, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return exchange.SymbolLimits{}, fmt.Errorf("binance exchange info: %w", err)
	}
	clean := cleanSymbol(symbol)
	for _, s := range info.Symbols {
		if s.Symbol != clean {
			continue
		}
		limits := exchange.SymbolLimits{
			Symbol:          symbol,
			PricePrecision:  s.PricePrecision,
			AmountPrecision: s.QuantityPrecision,
			FetchedAt:       time.Now(),
		}
		applyFilters(&limits, s.Filters)
		return limits, nil
	}
	return exchange.SymbolLimits{}, fmt.Errorf("binance exchange info: symbol %s not listed", symbol)
}

// applyFilters extracts LOT_SIZE / MIN_NOTIONAL constraints. The SDK exposes
// filters as loose maps, so they are re-marshaled once and read with gjson.
func applyFilters(limits *exchange.SymbolLimits, filters []map[string]interface{}) {
	raw, err := json.Marshal(filters)
	if err != nil {
		return
	}
	doc := gjson.ParseBytes(raw)
	for _, f := range doc.Array() {
		switch f.Get("filterType").String() {
		case "LOT_SIZE":
			limits.MinAmount = f.Get("minQty").Float()
			limits.MaxAmount = f.Get("maxQty").Float()
			limits.StepSize = f.Get("stepSize").Float()
		case "MIN_NOTIONAL":
			limits.MinNotional = f.Get("notional").Float()
		}
	}
}

func mapSide(side exchange.Side) futures.SideType {
	if side == exchange.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func mapOrderType(t exchange.OrderType) futures.OrderType {
	switch t {
	case exchange.OrderTypeLimit:
		return futures.OrderTypeLimit
	case exchange.OrderTypeStopLoss:
		return futures.OrderTypeStopMarket
	case exchange.OrderTypeTakeProfit:
		return futures.OrderTypeTakeProfitMarket
	case exchange.OrderTypeStopLimit:
		return futures.OrderTypeStop
	default:
		return futures.OrderTypeMarket
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
