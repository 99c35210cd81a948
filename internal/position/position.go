// Package position tracks per-symbol open exposure and runs the per-cycle
// exit evaluation over every open position.
package position

import (
	"fmt"
	"strings"
	"time"

	"keel/internal/exchange"
)

// PriceMove is the signed, side-aware fractional price movement relative to
// entry, with no leverage applied. Strategy and analytics consumers take
// this type.
type PriceMove float64

// LeveragedROI is PriceMove multiplied by position leverage. Risk sizing and
// the emergency-stop tiers take this type. The two are deliberately distinct
// so a call site cannot hand one where the other is expected; Leveraged is
// the only bridge.
type LeveragedROI float64

func (m PriceMove) Leveraged(leverage float64) LeveragedROI {
	if leverage < 1 {
		leverage = 1
	}
	return LeveragedROI(float64(m) * leverage)
}

// Emergency-stop tiers on leveraged ROI. Hard floors, independent of the
// configured price-based stop loss, evaluated before every other exit
// condition.
const (
	emergencyLiquidationROI = -0.50
	emergencySevereROI      = -0.35
	emergencyExcessiveROI   = -0.20

	ReasonEmergencyLiquidationRisk = "emergency_stop_liquidation_risk"
	ReasonEmergencySevereLoss      = "emergency_stop_severe_loss"
	ReasonEmergencyExcessiveLoss   = "emergency_stop_excessive_loss"

	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
)

// EmergencyStopReason returns the tier hit by the given leveraged ROI, if
// any. Tiers are checked worst first.
func EmergencyStopReason(roi LeveragedROI) (string, bool) {
	switch {
	case roi <= emergencyLiquidationROI:
		return ReasonEmergencyLiquidationRisk, true
	case roi <= emergencySevereROI:
		return ReasonEmergencySevereLoss, true
	case roi <= emergencyExcessiveROI:
		return ReasonEmergencyExcessiveLoss, true
	default:
		return "", false
	}
}

// Position is one symbol's open exposure. Created on first confirmed fill,
// mutated every monitor cycle by the Manager under its lock, removed when
// flat. version increments on every mutation and guards close calls against
// concurrent actors.
type Position struct {
	Symbol     string
	Side       exchange.Side
	EntryPrice float64
	Amount     float64
	Leverage   float64
	StopLoss   float64
	TakeProfit float64

	HighestPrice          float64
	LowestPrice           float64
	MaxFavorableExcursion PriceMove

	EntryTime         time.Time
	BreakevenMoved    bool
	PartialExitsTaken int

	version uint64
}

func New(symbol string, side exchange.Side, entryPrice, amount, leverage, stopLoss, takeProfit float64) (*Position, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if entryPrice <= 0 {
		return nil, fmt.Errorf("entry price must be positive, got %v", entryPrice)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %v", amount)
	}
	if leverage < 1 {
		leverage = 1
	}
	return &Position{
		Symbol:       symbol,
		Side:         side,
		EntryPrice:   entryPrice,
		Amount:       amount,
		Leverage:     leverage,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		HighestPrice: entryPrice,
		LowestPrice:  entryPrice,
		EntryTime:    time.Now(),
	}, nil
}

// Move is the unleveraged pnl: directional price movement relative to entry.
func (p *Position) Move(price float64) PriceMove {
	if p.EntryPrice <= 0 {
		return 0
	}
	if p.Side == exchange.SideSell {
		return PriceMove((p.EntryPrice - price) / p.EntryPrice)
	}
	return PriceMove((price - p.EntryPrice) / p.EntryPrice)
}

// ROI is the leveraged pnl consumed by risk logic.
func (p *Position) ROI(price float64) LeveragedROI {
	return p.Move(price).Leveraged(p.Leverage)
}

// StopLossHit reports a side-aware breach of the configured stop.
func (p *Position) StopLossHit(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == exchange.SideSell {
		return price >= p.StopLoss
	}
	return price <= p.StopLoss
}

// TakeProfitHit reports a side-aware breach of the configured target.
func (p *Position) TakeProfitHit(price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Side == exchange.SideSell {
		return price <= p.TakeProfit
	}
	return price >= p.TakeProfit
}

// trackExcursion updates the price extremes and the running maximum of
// unrealized gain since entry.
func (p *Position) trackExcursion(price float64) {
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
	if price < p.LowestPrice || p.LowestPrice <= 0 {
		p.LowestPrice = price
	}
	if move := p.Move(price); move > p.MaxFavorableExcursion {
		p.MaxFavorableExcursion = move
	}
}

// ApplyTrailing adapts the stop loss and take profit to the latest price
// given realized volatility and momentum. Both levels only ever move in the
// position's favorable direction: the stop ratchets toward price, the target
// extends away from entry, and neither ever loosens, even transiently.
func (p *Position) ApplyTrailing(price, volatility, momentum float64) {
	p.trackExcursion(price)

	trail := clamp(volatility*2, 0.005, 0.05)
	favorable := momentum
	if p.Side == exchange.SideSell {
		favorable = -momentum
	}
	if favorable > 0 {
		// Strong favorable momentum: give the position room.
		trail *= 1.25
	} else if favorable < 0 {
		trail *= 0.75
	}

	if p.Side == exchange.SideSell {
		candidate := p.LowestPrice * (1 + trail)
		if p.StopLoss <= 0 || candidate < p.StopLoss {
			p.StopLoss = candidate
		}
		if p.TakeProfit > 0 {
			if target := p.LowestPrice * (1 - trail); target < p.TakeProfit {
				p.TakeProfit = target
			}
		}
		if !p.BreakevenMoved && p.Move(price) >= PriceMove(2*trail) {
			if p.StopLoss <= 0 || p.EntryPrice < p.StopLoss {
				p.StopLoss = p.EntryPrice
			}
			p.BreakevenMoved = true
		}
		return
	}

	candidate := p.HighestPrice * (1 - trail)
	if candidate > p.StopLoss {
		p.StopLoss = candidate
	}
	if p.TakeProfit > 0 {
		if target := p.HighestPrice * (1 + trail); target > p.TakeProfit {
			p.TakeProfit = target
		}
	}
	if !p.BreakevenMoved && p.Move(price) >= PriceMove(2*trail) {
		if p.EntryPrice > p.StopLoss {
			p.StopLoss = p.EntryPrice
		}
		p.BreakevenMoved = true
	}
}

// Version is the close-race guard captured by exit paths.
func (p *Position) Version() uint64 { return p.version }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func oppositeSide(side exchange.Side) exchange.Side {
	if side == exchange.SideSell {
		return exchange.SideBuy
	}
	return exchange.SideSell
}
