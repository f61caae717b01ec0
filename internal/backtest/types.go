package backtest

import (
	"fmt"
	"time"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/performance"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/signal"
	"github.com/newthinker/tradecore/internal/strategy"
)

// MinCandles is the fewest usable candles a run accepts.
const MinCandles = 50

// Config describes one simulation.
type Config struct {
	Symbol         string              `json:"symbol"`
	Interval       string              `json:"interval"`
	Start          time.Time           `json:"start"`
	End            time.Time           `json:"end"`
	InitialBalance float64             `json:"initial_balance"`
	CommissionRate float64             `json:"commission_rate"`
	SlippageRate   float64             `json:"slippage_rate"`
	SizeImpact     float64             `json:"size_impact"`
	RiskFreeRate   float64             `json:"risk_free_rate"`
	Warmup         int                 `json:"warmup"`
	Strategy       strategy.Definition `json:"strategy"`
	Limits         risk.Limits         `json:"limits"`
	Aggregator     signal.Config       `json:"-"`
}

// DefaultConfig returns a config for symbol using the balanced preset and
// default limits.
func DefaultConfig(symbol string) Config {
	def, _ := strategy.Preset("balanced")
	return Config{
		Symbol:         symbol,
		Interval:       "1h",
		InitialBalance: 10000,
		CommissionRate: 0.001,
		SlippageRate:   0.0005,
		SizeImpact:     0.1,
		RiskFreeRate:   0.02,
		Warmup:         MinCandles,
		Strategy:       def,
		Limits:         risk.DefaultLimits(),
		Aggregator:     signal.DefaultConfig(),
	}
}

// Validate checks the config before a run.
func (c Config) Validate() error {
	fail := func(format string, args ...any) error {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("backtest: "+format, args...))
	}
	switch {
	case c.Symbol == "":
		return fail("symbol is required")
	case c.InitialBalance <= 0:
		return fail("initial balance must be > 0")
	case c.CommissionRate < 0 || c.CommissionRate >= 0.1:
		return fail("commission rate %v out of range [0, 0.1)", c.CommissionRate)
	case c.SlippageRate < 0 || c.SlippageRate >= 0.1:
		return fail("slippage rate %v out of range [0, 0.1)", c.SlippageRate)
	case c.SizeImpact < 0:
		return fail("size impact must be >= 0")
	case c.Warmup < 0:
		return fail("warmup must be >= 0")
	case !c.End.IsZero() && c.End.Before(c.Start):
		return fail("end %s before start %s", c.End, c.Start)
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	return c.Aggregator.Validate()
}

// TradeStatus is where a trade record is in its life.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// TradeRecord is one round trip. It is created open when the entry fills
// and finalized when the position closes. StopLoss is the risk manager's
// recommended stop, kept for reporting; exits follow the strategy's rules.
type TradeRecord struct {
	ID              string              `json:"id"`
	Status          TradeStatus         `json:"status"`
	Symbol          string              `json:"symbol"`
	Side            core.Side           `json:"side"`
	Quantity        float64             `json:"quantity"`
	EntryTime       time.Time           `json:"entry_time"`
	EntryPrice      float64             `json:"entry_price"`
	ExitTime        time.Time           `json:"exit_time"`
	ExitPrice       float64             `json:"exit_price"`
	StopLoss        float64             `json:"stop_loss"`
	Commission      float64             `json:"commission"`
	Slippage        float64             `json:"slippage"` // cost versus the candle close
	PnL             float64             `json:"pnl"`
	PnLPercent      float64             `json:"pnl_percent"`
	ExitReason      strategy.ExitReason `json:"exit_reason,omitempty"`
	EntryConfidence float64             `json:"entry_confidence"`
	RiskScore       float64             `json:"risk_score"`
}

// IsWin returns true if the trade was profitable after costs.
func (t TradeRecord) IsWin() bool {
	return t.PnL > 0
}

// Holding returns how long the position was open.
func (t TradeRecord) Holding() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// EquityPoint is the portfolio state after one candle.
type EquityPoint struct {
	Time     time.Time `json:"time"`
	Equity   float64   `json:"equity"`
	Cash     float64   `json:"cash"`
	Drawdown float64   `json:"drawdown"` // percent below peak
}

// Result holds the complete backtest output. Identical inputs produce an
// identical Result, including its JSON encoding.
type Result struct {
	Config       Config            `json:"config"`
	Candles      int               `json:"candles"`
	Signals      int               `json:"signals"`
	Rejected     int               `json:"rejected"`
	FinalBalance float64           `json:"final_balance"`
	Trades       []TradeRecord     `json:"trades"`
	EquityCurve  []EquityPoint     `json:"equity_curve"`
	Stats        performance.Stats `json:"stats"`
}

// ReturnPercent is the total return over the run.
func (r *Result) ReturnPercent() float64 {
	return r.Stats.TotalReturn
}
