// Package risk validates proposed trades against portfolio limits, sizes
// positions and runs the loss circuit breaker.
package risk

import (
	"fmt"
	"time"

	"github.com/newthinker/tradecore/internal/core"
)

// Limits defines risk management parameters. Percentages are of equity.
type Limits struct {
	// MaxPositionSizePercent is the largest single position, by notional.
	MaxPositionSizePercent float64 `json:"max_position_size_percent"`
	// MaxDailyLossPercent caps realized plus projected loss for the day.
	MaxDailyLossPercent float64 `json:"max_daily_loss_percent"`
	// MaxDrawdownPercent halts new trades below this distance from peak.
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`
	// MaxLeverage is gross exposure divided by equity.
	MaxLeverage float64 `json:"max_leverage"`
	// MaxConsecutiveLosses trips the circuit breaker.
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`
	// MaxCorrelationExposure caps exposure to symbols correlated with the new one.
	MaxCorrelationExposure float64 `json:"max_correlation_exposure"`
	// MaxPortfolioHeat caps the total amount at risk to stops.
	MaxPortfolioHeat float64 `json:"max_portfolio_heat"`
	// CircuitBreakerCooldown is how long trading stays halted after a trip.
	CircuitBreakerCooldown time.Duration `json:"circuit_breaker_cooldown"`
	// MaxVolatility rejects trades when per-period return volatility exceeds it.
	MaxVolatility float64 `json:"max_volatility"`
	// CorrelationThreshold is the |rho| above which two symbols count as correlated.
	CorrelationThreshold float64 `json:"correlation_threshold"`
	// AlertThreshold is the fraction of a limit at which alerts start.
	AlertThreshold float64 `json:"alert_threshold"`
}

// DefaultLimits returns Limits with sensible default values.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSizePercent: 10,
		MaxDailyLossPercent:    5,
		MaxDrawdownPercent:     20,
		MaxLeverage:            3,
		MaxConsecutiveLosses:   5,
		MaxCorrelationExposure: 30,
		MaxPortfolioHeat:       20,
		CircuitBreakerCooldown: time.Hour,
		MaxVolatility:          10,
		CorrelationThreshold:   0.7,
		AlertThreshold:         0.7,
	}
}

// Validate rejects missing or inconsistent limits.
func (l Limits) Validate() error {
	fail := func(msg string) error {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("risk limits: %s", msg))
	}
	switch {
	case l.MaxPositionSizePercent <= 0 || l.MaxPositionSizePercent > 100:
		return fail("max position size percent must be in (0,100]")
	case l.MaxDailyLossPercent <= 0 || l.MaxDailyLossPercent > 100:
		return fail("max daily loss percent must be in (0,100]")
	case l.MaxDrawdownPercent <= 0 || l.MaxDrawdownPercent > 100:
		return fail("max drawdown percent must be in (0,100]")
	case l.MaxLeverage <= 0:
		return fail("max leverage must be > 0")
	case l.MaxConsecutiveLosses <= 0:
		return fail("max consecutive losses must be > 0")
	case l.MaxCorrelationExposure <= 0:
		return fail("max correlation exposure must be > 0")
	case l.MaxPortfolioHeat <= 0:
		return fail("max portfolio heat must be > 0")
	case l.CircuitBreakerCooldown < 0:
		return fail("circuit breaker cooldown must be >= 0")
	case l.MaxVolatility <= 0:
		return fail("max volatility must be > 0")
	case l.CorrelationThreshold <= 0 || l.CorrelationThreshold > 1:
		return fail("correlation threshold must be in (0,1]")
	case l.AlertThreshold <= 0 || l.AlertThreshold >= 1:
		return fail("alert threshold must be in (0,1)")
	}
	return nil
}
