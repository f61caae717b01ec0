package risk

import "math"

const (
	// kellyMinTrades is the sample size below which default odds are used.
	kellyMinTrades      = 10
	defaultWinRate      = 0.5
	defaultWinLossRatio = 1.5
	kellyScale          = 0.25
	kellyMin            = 0.01
	kellyMax            = 0.10
	// defaultStopPercent is the stop distance used without ATR.
	defaultStopPercent = 2.0
	atrStopMultiple    = 2.0
)

// KellyFraction returns the conservative Kelly fraction: a quarter of the
// raw Kelly value clamped to [0.01, 0.10].
func KellyFraction(winRate, winLossRatio float64) float64 {
	if winLossRatio <= 0 {
		return kellyMin
	}
	kelly := winRate - (1-winRate)/winLossRatio
	return math.Max(kellyMin, math.Min(kellyMax, kelly*kellyScale))
}

// VolatilityAdjustment scales size down with volatility, never below half.
func VolatilityAdjustment(volatility float64) float64 {
	return math.Max(0.5, 1-volatility/100)
}

// RecommendStopLoss places the stop 2 ATR from entry, or 2% away without ATR.
func RecommendStopLoss(long bool, price, atr float64) float64 {
	distance := price * defaultStopPercent / 100
	if atr > 0 && atrStopMultiple*atr < price {
		distance = atrStopMultiple * atr
	}
	if long {
		return price - distance
	}
	return price + distance
}

// TargetNotional sizes an entry so that hitting an assumed stop loses
// riskPct of equity, scaled by signal confidence (0-100) and capped at
// maxPct of equity and at available cash.
func TargetNotional(equity, cash, confidence, riskPct, assumedStopPct, maxPct float64) float64 {
	if equity <= 0 || assumedStopPct <= 0 {
		return 0
	}
	notional := equity * riskPct / assumedStopPct
	notional *= math.Max(0, math.Min(confidence, 100)) / 100
	notional = math.Min(notional, equity*maxPct/100)
	return math.Max(0, math.Min(notional, cash))
}
