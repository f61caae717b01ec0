package risk

import (
	"strings"
	"time"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/portfolio"
)

// State is the circuit breaker state.
type State string

const (
	StateNormal        State = "NORMAL"
	StateCircuitBroken State = "CIRCUIT_BROKEN"
)

// Severity grades a failed check or alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// CheckName identifies a validation step.
type CheckName string

// Checks run in this order.
const (
	CheckPositionSize   CheckName = "Position Size Limit"
	CheckPortfolioHeat  CheckName = "Portfolio Heat"
	CheckDailyLoss      CheckName = "Daily Loss Limit"
	CheckCorrelation    CheckName = "Correlation Risk"
	CheckVolatilitySize CheckName = "Volatility Adjusted Size"
	CheckCircuitBreaker CheckName = "Circuit Breaker"
	CheckDrawdown       CheckName = "Drawdown Limit"
	CheckLeverage       CheckName = "Leverage Limit"
)

// CheckStatus is the outcome of one check.
type CheckStatus string

const (
	StatusPassed  CheckStatus = "passed"
	StatusFailed  CheckStatus = "failed"
	StatusSkipped CheckStatus = "skipped"
)

// Check is one step of a validation.
type Check struct {
	Name     CheckName   `json:"name"`
	Status   CheckStatus `json:"status"`
	Reason   string      `json:"reason,omitempty"`
	Severity Severity    `json:"severity"`
	Value    float64     `json:"value"`
	Limit    float64     `json:"limit"`
}

// Passed reports whether the check did not fail.
func (c Check) Passed() bool { return c.Status != StatusFailed }

// TradeRequest is a proposed entry.
type TradeRequest struct {
	Symbol   string
	Side     core.Side
	Quantity float64
	Price    float64
	// StopLoss is the intended stop; zero means use the recommended stop.
	StopLoss float64
	// ATR of the symbol, zero when unknown.
	ATR float64
	// Volatility is per-period return volatility in percent.
	Volatility float64
	// MaxQuantity is an exchange or caller cap; zero means none.
	MaxQuantity float64
}

// Notional returns quantity times price.
func (r TradeRequest) Notional() float64 { return r.Quantity * r.Price }

// Validation is the full result of ValidateTrade.
type Validation struct {
	Approved            bool    `json:"approved"`
	Checks              []Check `json:"checks"`
	RiskScore           float64 `json:"risk_score"`
	RecommendedSize     float64 `json:"recommended_size"`
	RecommendedStopLoss float64 `json:"recommended_stop_loss"`
}

// Check returns the named check.
func (v Validation) Check(name CheckName) (Check, bool) {
	for _, c := range v.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// Failed returns the failed checks in order.
func (v Validation) Failed() []Check {
	var out []Check
	for _, c := range v.Checks {
		if c.Status == StatusFailed {
			out = append(out, c)
		}
	}
	return out
}

// FailedNames returns the names of failed checks.
func (v Validation) FailedNames() []string {
	failed := v.Failed()
	out := make([]string, len(failed))
	for i, c := range failed {
		out[i] = string(c.Name)
	}
	return out
}

// Reason joins the reasons of failed checks.
func (v Validation) Reason() string {
	failed := v.Failed()
	reasons := make([]string, len(failed))
	for i, c := range failed {
		reasons[i] = c.Reason
	}
	return strings.Join(reasons, "; ")
}

// Alert warns that a metric is approaching or past its limit.
type Alert struct {
	Time     time.Time `json:"time"`
	Metric   string    `json:"metric"`
	Severity Severity  `json:"severity"`
	Value    float64   `json:"value"`
	Limit    float64   `json:"limit"`
	Message  string    `json:"message"`
}

// DailyStats are counters for one trading day.
type DailyStats struct {
	Date        string  `json:"date"` // YYYY-MM-DD in UTC
	StartEquity float64 `json:"start_equity"`
	RealizedPnL float64 `json:"realized_pnl"`
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
}

// LossPercent is the day's realized loss as a positive percent of the
// starting equity.
func (d DailyStats) LossPercent() float64 {
	if d.StartEquity <= 0 || d.RealizedPnL >= 0 {
		return 0
	}
	return -d.RealizedPnL / d.StartEquity * 100
}

// Report is a read-only risk snapshot.
type Report struct {
	Time               time.Time          `json:"time"`
	State              State              `json:"state"`
	CircuitBrokenUntil *time.Time         `json:"circuit_broken_until,omitempty"`
	ConsecutiveLosses  int                `json:"consecutive_losses"`
	Limits             Limits             `json:"limits"`
	Daily              DailyStats         `json:"daily"`
	Portfolio          portfolio.Snapshot `json:"portfolio"`
	Leverage           float64            `json:"leverage"`
	PortfolioHeat      float64            `json:"portfolio_heat"`
	VaR95              float64            `json:"var_95"`
	VaR99              float64            `json:"var_99"`
	WinRate            float64            `json:"win_rate"`
	WinLossRatio       float64            `json:"win_loss_ratio"`
	KellyFraction      float64            `json:"kelly_fraction"`
	Alerts             []Alert            `json:"alerts"`
}
