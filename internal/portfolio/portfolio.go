// Package portfolio tracks cash and open positions for one engine.
package portfolio

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/tradecore/internal/core"
)

// Portfolio holds cash and at most one position per symbol.
// Equity and drawdown are always derived from cash and positions.
type Portfolio struct {
	mu        sync.RWMutex
	cash      float64
	peak      float64
	realized  float64
	positions map[string]*Position
}

// Snapshot is a point-in-time copy of the portfolio.
type Snapshot struct {
	Cash        float64    `json:"cash"`
	Equity      float64    `json:"equity"`
	PeakEquity  float64    `json:"peak_equity"`
	Drawdown    float64    `json:"drawdown"` // percent below peak
	Exposure    float64    `json:"exposure"`
	RealizedPnL float64    `json:"realized_pnl"`
	Positions   []Position `json:"positions"`
}

// New creates a portfolio funded with cash.
func New(cash float64) *Portfolio {
	return &Portfolio{
		cash:      cash,
		peak:      cash,
		positions: make(map[string]*Position),
	}
}

// Open adds a position filled at price. Longs pay quantity*price plus
// commission; shorts receive the proceeds less commission.
func (p *Portfolio) Open(pos Position) (Position, error) {
	if pos.Quantity <= 0 || pos.EntryPrice <= 0 {
		return Position{}, fmt.Errorf("open %s: quantity and price must be positive", pos.Symbol)
	}
	if pos.Side != core.SideLong && pos.Side != core.SideShort {
		return Position{}, fmt.Errorf("open %s: invalid side %q", pos.Symbol, pos.Side)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.positions[pos.Symbol]; exists {
		return Position{}, core.WrapError(core.ErrPositionExists, fmt.Errorf("%s", pos.Symbol))
	}

	notional := pos.Quantity * pos.EntryPrice
	switch pos.Side {
	case core.SideLong:
		if notional+pos.EntryCommission > p.cash {
			return Position{}, core.WrapError(core.ErrInsufficientFunds,
				fmt.Errorf("%s: need %.2f, have %.2f", pos.Symbol, notional+pos.EntryCommission, p.cash))
		}
		p.cash -= notional + pos.EntryCommission
	case core.SideShort:
		if notional+pos.EntryCommission > p.equityLocked() {
			return Position{}, core.WrapError(core.ErrInsufficientFunds,
				fmt.Errorf("%s: short notional %.2f exceeds equity", pos.Symbol, notional))
		}
		p.cash += notional - pos.EntryCommission
	}

	pos.CurrentPrice = pos.EntryPrice
	stored := pos
	p.positions[pos.Symbol] = &stored
	p.updatePeakLocked()
	return stored, nil
}

// Close exits the symbol's position at price.
func (p *Portfolio) Close(symbol string, price, commission float64, at time.Time) (Closed, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return Closed{}, core.WrapError(core.ErrPositionNotFound, fmt.Errorf("%s", symbol))
	}

	proceeds := pos.Quantity * price
	switch pos.Side {
	case core.SideLong:
		p.cash += proceeds - commission
	case core.SideShort:
		p.cash -= proceeds + commission
	}

	pos.CurrentPrice = price
	realized := pos.Side.Sign()*(price-pos.EntryPrice)*pos.Quantity - pos.EntryCommission - commission
	closed := Closed{
		Position:       *pos,
		ExitPrice:      price,
		ExitCommission: commission,
		RealizedPnL:    realized,
		ClosedAt:       at,
	}
	if basis := pos.CostBasis(); basis > 0 {
		closed.PnLPercent = realized / basis * 100
	}

	delete(p.positions, symbol)
	p.realized += realized
	p.updatePeakLocked()
	return closed, nil
}

// Mark updates the current price of the symbol's position, if any.
func (p *Portfolio) Mark(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		pos.CurrentPrice = price
		p.updatePeakLocked()
	}
}

// SetStops records protective levels on an open position.
func (p *Portfolio) SetStops(symbol string, stopLoss, takeProfit float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		pos.StopLoss = stopLoss
		pos.TakeProfit = takeProfit
	}
}

func (p *Portfolio) equityLocked() float64 {
	eq := p.cash
	for _, pos := range p.positions {
		eq += pos.Value()
	}
	return eq
}

func (p *Portfolio) updatePeakLocked() {
	p.peak = math.Max(p.peak, p.equityLocked())
}

// Cash returns the cash balance.
func (p *Portfolio) Cash() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Equity returns cash plus the signed value of all positions.
func (p *Portfolio) Equity() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.equityLocked()
}

// PeakEquity returns the highest equity seen.
func (p *Portfolio) PeakEquity() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.peak
}

// Drawdown returns the percent decline of equity from its peak.
func (p *Portfolio) Drawdown() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return drawdown(p.peak, p.equityLocked())
}

func drawdown(peak, equity float64) float64 {
	if peak <= 0 || equity >= peak {
		return 0
	}
	return (peak - equity) / peak * 100
}

// Exposure returns the absolute market value of all positions.
func (p *Portfolio) Exposure() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var total float64
	for _, pos := range p.positions {
		total += pos.Notional()
	}
	return total
}

// RealizedPnL returns the total realized P&L of closed positions.
func (p *Portfolio) RealizedPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realized
}

// Position returns a copy of the symbol's position.
func (p *Portfolio) Position(symbol string) (Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// HasPosition reports whether symbol has an open position.
func (p *Portfolio) HasPosition(symbol string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.positions[symbol]
	return ok
}

// Positions returns copies of all positions sorted by symbol.
func (p *Portfolio) Positions() []Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positionsLocked()
}

func (p *Portfolio) positionsLocked() []Position {
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Snapshot returns a consistent copy of the whole portfolio.
func (p *Portfolio) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	positions := p.positionsLocked()
	var exposure float64
	for _, pos := range positions {
		exposure += pos.Notional()
	}
	equity := p.equityLocked()
	return Snapshot{
		Cash:        p.cash,
		Equity:      equity,
		PeakEquity:  p.peak,
		Drawdown:    drawdown(p.peak, equity),
		Exposure:    exposure,
		RealizedPnL: p.realized,
		Positions:   positions,
	}
}
