// Package strategy defines declarative trading strategies: which indicators
// to score, when a combined signal warrants a trade, and when to exit.
package strategy

import (
	"fmt"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/indicator"
	"github.com/newthinker/tradecore/internal/portfolio"
	"github.com/newthinker/tradecore/internal/signal"
)

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitStopLoss       ExitReason = "stop_loss"
	ExitTakeProfit     ExitReason = "take_profit"
	ExitSignalReversal ExitReason = "signal_reversal"
	ExitEndOfData      ExitReason = "end_of_data"
	ExitEmergencyStop  ExitReason = "emergency_stop"
)

// Rules decide when a combined signal is acted on.
type Rules struct {
	MinConfidence    float64 `json:"min_confidence"`
	ExitConfidence   float64 `json:"exit_confidence"`
	MinConfirmations int     `json:"min_confirmations"`
	AllowShort       bool    `json:"allow_short"`
}

// RiskParams are per-strategy exit levels and sizing inputs, in percent.
type RiskParams struct {
	StopLossPercent     float64 `json:"stop_loss_percent"`
	TakeProfitPercent   float64 `json:"take_profit_percent"`
	RiskPerTradePercent float64 `json:"risk_per_trade_percent"`
	AssumedStopPercent  float64 `json:"assumed_stop_percent"`
	MaxPositionPercent  float64 `json:"max_position_percent"`
}

// Definition is a named strategy. An empty Indicators list scores all.
type Definition struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Indicators  []indicator.Name           `json:"indicators"`
	Weights     map[indicator.Name]float64 `json:"weights,omitempty"`
	Rules       Rules                      `json:"rules"`
	Risk        RiskParams                 `json:"risk"`
}

// DefaultRules returns the entry and exit thresholds shared by the presets.
func DefaultRules() Rules {
	return Rules{MinConfidence: 60, ExitConfidence: 70, MinConfirmations: 1}
}

// DefaultRiskParams returns 2% risk per trade against an assumed 5% stop,
// capped at 10% of equity.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		StopLossPercent:     5,
		TakeProfitPercent:   10,
		RiskPerTradePercent: 2,
		AssumedStopPercent:  5,
		MaxPositionPercent:  10,
	}
}

// Validate checks the definition for startup errors.
func (d Definition) Validate() error {
	fail := func(format string, args ...any) error {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("strategy %q: "+format, append([]any{d.Name}, args...)...))
	}
	if d.Name == "" {
		return fail("name is required")
	}
	for _, n := range d.Indicators {
		if !n.Valid() {
			return fail("unknown indicator %d", int(n))
		}
	}
	for n, w := range d.Weights {
		if !n.Valid() || w < 0 {
			return fail("invalid weight %v for %s", w, n)
		}
	}
	if d.Rules.MinConfidence < 0 || d.Rules.MinConfidence > 100 {
		return fail("min confidence must be in [0,100]")
	}
	if d.Rules.ExitConfidence < 0 || d.Rules.ExitConfidence > 100 {
		return fail("exit confidence must be in [0,100]")
	}
	if d.Rules.MinConfirmations < 0 || d.Rules.MinConfirmations > len(d.scored()) {
		return fail("min confirmations %d exceeds %d scored indicators", d.Rules.MinConfirmations, len(d.scored()))
	}
	r := d.Risk
	if r.StopLossPercent < 0 || r.TakeProfitPercent < 0 {
		return fail("stop loss and take profit must be >= 0")
	}
	if r.RiskPerTradePercent <= 0 || r.AssumedStopPercent <= 0 {
		return fail("risk per trade and assumed stop must be > 0")
	}
	if r.MaxPositionPercent <= 0 || r.MaxPositionPercent > 100 {
		return fail("max position percent must be in (0,100]")
	}
	return nil
}

// scored returns the indicators this strategy scores.
func (d Definition) scored() []indicator.Name {
	if len(d.Indicators) == 0 {
		return indicator.All()
	}
	return d.Indicators
}

// Apply narrows an aggregator config to this strategy.
func (d Definition) Apply(cfg signal.Config) signal.Config {
	return cfg.Restrict(d.Indicators).WithWeights(d.Weights)
}

// Warrants reports whether sig is strong enough to open a position.
func (d Definition) Warrants(sig signal.Signal) bool {
	switch sig.Type {
	case core.SignalBuy:
	case core.SignalSell:
		if !d.Rules.AllowShort {
			return false
		}
	default:
		return false
	}
	if sig.Confidence < d.Rules.MinConfidence {
		return false
	}
	return sig.AgreeingAmong(sig.Type, d.scored()) >= d.Rules.MinConfirmations
}

// ShouldExit checks the open position against stop-loss, take-profit and
// signal reversal, in that order. sig may be nil when no signal is ready.
func (d Definition) ShouldExit(pos portfolio.Position, price float64, sig *signal.Signal) (ExitReason, bool) {
	if pos.EntryPrice <= 0 {
		return "", false
	}
	move := pos.Side.Sign() * (price - pos.EntryPrice) / pos.EntryPrice * 100

	if d.Risk.StopLossPercent > 0 && move <= -d.Risk.StopLossPercent {
		return ExitStopLoss, true
	}
	if pos.StopLoss > 0 && pos.Side.Sign()*(price-pos.StopLoss) <= 0 {
		return ExitStopLoss, true
	}
	if d.Risk.TakeProfitPercent > 0 && move >= d.Risk.TakeProfitPercent {
		return ExitTakeProfit, true
	}
	if pos.TakeProfit > 0 && pos.Side.Sign()*(price-pos.TakeProfit) >= 0 {
		return ExitTakeProfit, true
	}
	if sig != nil && sig.Type == pos.Side.ExitSignal() && sig.Confidence > d.Rules.ExitConfidence {
		return ExitSignalReversal, true
	}
	return "", false
}
