package portfolio

import (
	"encoding/json"
	"time"

	"github.com/newthinker/tradecore/internal/core"
)

// Position is an open holding in one symbol. Quantity is always positive;
// Side gives the direction.
type Position struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	Side            core.Side `json:"side"`
	Quantity        float64   `json:"quantity"`
	EntryPrice      float64   `json:"entry_price"`
	CurrentPrice    float64   `json:"current_price"`
	StopLoss        float64   `json:"stop_loss,omitempty"`
	TakeProfit      float64   `json:"take_profit,omitempty"`
	EntryCommission float64   `json:"entry_commission"`
	OpenedAt        time.Time `json:"opened_at"`
}

// Value is the signed market value: positive for longs, negative for shorts.
func (p Position) Value() float64 {
	return p.Side.Sign() * p.Quantity * p.CurrentPrice
}

// Notional is the absolute market value.
func (p Position) Notional() float64 {
	return p.Quantity * p.CurrentPrice
}

// CostBasis is quantity times entry price.
func (p Position) CostBasis() float64 {
	return p.Quantity * p.EntryPrice
}

// UnrealizedPnL is the price P&L before exit commission.
func (p Position) UnrealizedPnL() float64 {
	return p.Side.Sign() * (p.CurrentPrice - p.EntryPrice) * p.Quantity
}

// PnLPercent is the price move in the position's favor, in percent of entry.
func (p Position) PnLPercent() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return p.Side.Sign() * (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
}

// MarshalJSON adds the derived fields.
func (p Position) MarshalJSON() ([]byte, error) {
	type plain Position
	return json.Marshal(struct {
		plain
		MarketValue   float64 `json:"market_value"`
		UnrealizedPnL float64 `json:"unrealized_pnl"`
		PnLPercent    float64 `json:"pnl_percent"`
	}{
		plain:         plain(p),
		MarketValue:   p.Value(),
		UnrealizedPnL: p.UnrealizedPnL(),
		PnLPercent:    p.PnLPercent(),
	})
}

// Closed is a position after exit with its realized result.
type Closed struct {
	Position
	ExitPrice      float64   `json:"exit_price"`
	ExitCommission float64   `json:"exit_commission"`
	RealizedPnL    float64   `json:"realized_pnl"`
	PnLPercent     float64   `json:"pnl_percent"`
	ClosedAt       time.Time `json:"closed_at"`
}

// Commission is the total paid on entry and exit.
func (c Closed) Commission() float64 {
	return c.EntryCommission + c.ExitCommission
}

// IsWin reports whether the trade made money after costs.
func (c Closed) IsWin() bool {
	return c.RealizedPnL > 0
}

// MarshalJSON flattens the position fields alongside the exit fields.
func (c Closed) MarshalJSON() ([]byte, error) {
	type plain Position
	return json.Marshal(struct {
		plain
		ExitPrice      float64   `json:"exit_price"`
		ExitCommission float64   `json:"exit_commission"`
		RealizedPnL    float64   `json:"realized_pnl"`
		PnLPercent     float64   `json:"pnl_percent"`
		ClosedAt       time.Time `json:"closed_at"`
	}{
		plain:          plain(c.Position),
		ExitPrice:      c.ExitPrice,
		ExitCommission: c.ExitCommission,
		RealizedPnL:    c.RealizedPnL,
		PnLPercent:     c.PnLPercent,
		ClosedAt:       c.ClosedAt,
	})
}
