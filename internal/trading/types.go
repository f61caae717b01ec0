package trading

import (
	"fmt"
	"time"

	"github.com/newthinker/tradecore/internal/advisor"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/performance"
	"github.com/newthinker/tradecore/internal/portfolio"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/signal"
	"github.com/newthinker/tradecore/internal/strategy"
)

// Config controls the live trading loop.
type Config struct {
	// MinConfidence is the blended confidence required to open a trade.
	MinConfidence       float64         `json:"min_confidence"`
	Weights             advisor.Weights `json:"weights"`
	MaxDailyTrades      int             `json:"max_daily_trades"`
	MaxDailyLossPercent float64         `json:"max_daily_loss_percent"`
	// QuantityStep is the venue lot size; zero disables rounding.
	QuantityStep   float64 `json:"quantity_step"`
	CommissionRate float64 `json:"commission_rate"`
	RiskFreeRate   float64 `json:"risk_free_rate"`
	// HistorySize bounds the candles kept per symbol for the advisor.
	HistorySize int `json:"history_size"`
	// OrderExpiryCandles is how many candles of its symbol an unfilled
	// order may rest before the engine cancels it.
	OrderExpiryCandles int `json:"order_expiry_candles"`
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		MinConfidence:       60,
		Weights:             advisor.DefaultWeights(),
		MaxDailyTrades:      10,
		MaxDailyLossPercent: 5,
		CommissionRate:      0.001,
		RiskFreeRate:        0.02,
		HistorySize:         100,
		OrderExpiryCandles:  3,
	}
}

// Validate checks the config at startup.
func (c Config) Validate() error {
	fail := func(format string, args ...any) error {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("trading: "+format, args...))
	}
	switch {
	case c.MinConfidence < 0 || c.MinConfidence > 100:
		return fail("min confidence %v out of range [0,100]", c.MinConfidence)
	case c.MaxDailyTrades <= 0:
		return fail("max daily trades must be > 0")
	case c.MaxDailyLossPercent <= 0 || c.MaxDailyLossPercent > 100:
		return fail("max daily loss percent must be in (0,100]")
	case c.QuantityStep < 0:
		return fail("quantity step must be >= 0")
	case c.CommissionRate < 0 || c.CommissionRate >= 0.1:
		return fail("commission rate %v out of range [0, 0.1)", c.CommissionRate)
	case c.HistorySize < 0:
		return fail("history size must be >= 0")
	case c.OrderExpiryCandles <= 0:
		return fail("order expiry candles must be > 0")
	}
	return c.Weights.Validate()
}

// Action is what the engine did with one candle.
type Action string

const (
	ActionNone            Action = "none"
	ActionOpened          Action = "opened"
	ActionClosed          Action = "closed"
	ActionRejected        Action = "rejected"
	ActionSkipped         Action = "skipped"
	ActionExecutionFailed Action = "execution_failed"
)

// Decision records the outcome of one OnCandle pass.
type Decision struct {
	Symbol     string           `json:"symbol"`
	Time       time.Time        `json:"time"`
	Action     Action           `json:"action"`
	Reason     string           `json:"reason,omitempty"`
	Signal     *signal.Signal   `json:"signal,omitempty"`
	Advice     *advisor.Advice  `json:"advice,omitempty"`
	Validation *risk.Validation `json:"validation,omitempty"`
	Trade      *Trade           `json:"trade,omitempty"`
	Err        error            `json:"-"`
}

// TradeStatus is where a trade is in its life.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// Trade is a live round trip. It is recorded when the entry fills and
// finalized when the exit fills; open trades have a zero ExitTime.
// StopLoss is the risk manager's recommended stop, kept for reporting.
type Trade struct {
	ID           string              `json:"id"`
	Status       TradeStatus         `json:"status"`
	Symbol       string              `json:"symbol"`
	Side         core.Side           `json:"side"`
	Quantity     float64             `json:"quantity"`
	EntryTime    time.Time           `json:"entry_time"`
	EntryPrice   float64             `json:"entry_price"`
	ExitTime     time.Time           `json:"exit_time,omitempty"`
	ExitPrice    float64             `json:"exit_price,omitempty"`
	StopLoss     float64             `json:"stop_loss,omitempty"`
	Commission   float64             `json:"commission"`
	PnL          float64             `json:"pnl"`
	PnLPercent   float64             `json:"pnl_percent"`
	ExitReason   strategy.ExitReason `json:"exit_reason,omitempty"`
	Strategy     string              `json:"strategy"`
	Confidence   float64             `json:"confidence"`
	EntryOrderID string              `json:"entry_order_id"`
	ExitOrderID  string              `json:"exit_order_id,omitempty"`
}

// DailyCounters are the engine's per-day trade caps. They reset when the
// UTC date changes.
type DailyCounters struct {
	Date        string  `json:"date"`
	StartEquity float64 `json:"start_equity"`
	Trades      int     `json:"trades"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// LossPercent is the day's realized loss as a positive percent.
func (d DailyCounters) LossPercent() float64 {
	if d.StartEquity <= 0 || d.RealizedPnL >= 0 {
		return 0
	}
	return -d.RealizedPnL / d.StartEquity * 100
}

// PerformanceReport summarizes live results so far.
type PerformanceReport struct {
	Time          time.Time            `json:"time"`
	Equity        float64              `json:"equity"`
	Cash          float64              `json:"cash"`
	RealizedPnL   float64              `json:"realized_pnl"`
	OpenPositions []portfolio.Position `json:"open_positions"`
	ClosedTrades  int                  `json:"closed_trades"`
	Daily         DailyCounters        `json:"daily"`
	Stats         performance.Stats    `json:"stats"`
}
