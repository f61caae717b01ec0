package strategy

import "github.com/newthinker/tradecore/internal/indicator"

// Preset names.
const (
	TrendFollowing = "trend_following"
	MeanReversion  = "mean_reversion"
	Momentum       = "momentum"
	Balanced       = "balanced"
)

// Presets returns the built-in strategies.
func Presets() []Definition {
	trendRules := DefaultRules()
	trendRules.MinConfirmations = 3
	trendRisk := DefaultRiskParams()
	trendRisk.TakeProfitPercent = 15

	revRules := DefaultRules()
	revRules.MinConfirmations = 2
	revRules.AllowShort = true
	revRisk := DefaultRiskParams()
	revRisk.StopLossPercent = 3
	revRisk.TakeProfitPercent = 6

	momRules := DefaultRules()
	momRules.MinConfirmations = 3
	momRules.AllowShort = true
	momRisk := DefaultRiskParams()
	momRisk.StopLossPercent = 4

	balRules := DefaultRules()
	balRules.MinConfirmations = 4
	balRules.AllowShort = true

	return []Definition{
		{
			Name:        TrendFollowing,
			Description: "Rides sustained moves confirmed by moving averages, MACD, ADX and volume",
			Indicators: []indicator.Name{
				indicator.NameSMA, indicator.NameEMA, indicator.NameMACD, indicator.NameADX, indicator.NameOBV,
			},
			Rules: trendRules,
			Risk:  trendRisk,
		},
		{
			Name:        MeanReversion,
			Description: "Fades stretched prices using band and oscillator extremes",
			Indicators: []indicator.Name{
				indicator.NameRSI, indicator.NameBollinger, indicator.NameStochastic,
				indicator.NameWilliamsR, indicator.NameCCI, indicator.NameMFI,
			},
			Rules: revRules,
			Risk:  revRisk,
		},
		{
			Name:        Momentum,
			Description: "Trades accelerating moves with MACD, RSI, MFI, ADX and OBV",
			Indicators: []indicator.Name{
				indicator.NameMACD, indicator.NameRSI, indicator.NameMFI, indicator.NameADX, indicator.NameOBV,
			},
			Weights: map[indicator.Name]float64{indicator.NameMACD: 0.2},
			Rules:   momRules,
			Risk:    momRisk,
		},
		{
			Name:        Balanced,
			Description: "Scores every indicator with the default weights",
			Rules:       balRules,
			Risk:        DefaultRiskParams(),
		},
	}
}

// Preset returns the built-in strategy with the given name.
func Preset(name string) (Definition, bool) {
	for _, d := range Presets() {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}
