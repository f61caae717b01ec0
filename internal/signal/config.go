package signal

import (
	"fmt"
	"math"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/indicator"
)

// Regime is the detected market state used to re-weight indicators.
type Regime string

const (
	RegimeTrending Regime = "trending"
	RegimeRanging  Regime = "ranging"
	RegimeVolatile Regime = "volatile"
)

type category int

const (
	categoryTrend category = iota
	categoryOscillator
	categoryVolatility
	categoryVolume
)

func categoryOf(n indicator.Name) category {
	switch n {
	case indicator.NameSMA, indicator.NameEMA, indicator.NameMACD, indicator.NameADX:
		return categoryTrend
	case indicator.NameBollinger, indicator.NameATR:
		return categoryVolatility
	case indicator.NameOBV:
		return categoryVolume
	default:
		return categoryOscillator
	}
}

// Config controls how indicator readings are combined.
type Config struct {
	Weights indicator.Weights
	Enabled [indicator.Count]bool

	// MinConfluence is the minimum normalized margin of the winning score
	// over the losing one for a directional signal.
	MinConfluence float64

	// Bollinger bandwidth above VolatileBandwidth is volatile, below
	// RangingBandwidth is ranging, anything between is trending.
	VolatileBandwidth float64
	RangingBandwidth  float64

	// Adjustments multiplies each weight per regime.
	Adjustments map[Regime]indicator.Weights
}

// DefaultConfig enables every indicator with the default weight table.
func DefaultConfig() Config {
	cfg := Config{
		Weights:           indicator.DefaultWeights(),
		MinConfluence:     0.15,
		VolatileBandwidth: 0.05,
		RangingBandwidth:  0.02,
		Adjustments:       DefaultAdjustments(),
	}
	for i := range cfg.Enabled {
		cfg.Enabled[i] = true
	}
	return cfg
}

// DefaultAdjustments returns the per-regime weight multipliers.
//
// trending: trend x1.3, oscillators x0.7
// ranging:  trend x0.7, oscillators x1.3, Bollinger x1.2
// volatile: ATR and Bollinger x1.2, trend x0.9, oscillators x0.8
func DefaultAdjustments() map[Regime]indicator.Weights {
	adj := map[Regime]indicator.Weights{}
	for _, regime := range []Regime{RegimeTrending, RegimeRanging, RegimeVolatile} {
		var w indicator.Weights
		for _, n := range indicator.All() {
			w[n] = regimeFactor(regime, n)
		}
		adj[regime] = w
	}
	return adj
}

func regimeFactor(r Regime, n indicator.Name) float64 {
	cat := categoryOf(n)
	switch r {
	case RegimeTrending:
		switch cat {
		case categoryTrend:
			return 1.3
		case categoryOscillator:
			return 0.7
		}
	case RegimeRanging:
		switch {
		case cat == categoryTrend:
			return 0.7
		case cat == categoryOscillator:
			return 1.3
		case n == indicator.NameBollinger:
			return 1.2
		}
	case RegimeVolatile:
		switch cat {
		case categoryVolatility:
			return 1.2
		case categoryTrend:
			return 0.9
		case categoryOscillator:
			return 0.8
		}
	}
	return 1
}

// Validate checks weights and thresholds.
func (c Config) Validate() error {
	var active float64
	for _, n := range indicator.All() {
		w := c.Weights[n]
		if w < 0 || math.IsNaN(w) {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("aggregator: weight for %s must be >= 0", n))
		}
		if c.Enabled[n] {
			active += w
		}
	}
	if active <= 0 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("aggregator: no enabled indicator carries weight"))
	}
	if c.MinConfluence < 0 || c.MinConfluence >= 1 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("aggregator: min confluence must be in [0,1)"))
	}
	if c.RangingBandwidth <= 0 || c.VolatileBandwidth <= c.RangingBandwidth {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("aggregator: need 0 < ranging bandwidth < volatile bandwidth"))
	}
	return nil
}

// Restrict returns a copy that only scores the named indicators.
// An empty list leaves the enabled set unchanged.
func (c Config) Restrict(names []indicator.Name) Config {
	if len(names) == 0 {
		return c
	}
	out := c.clone()
	out.Enabled = [indicator.Count]bool{}
	for _, n := range names {
		if n.Valid() {
			out.Enabled[n] = true
		}
	}
	return out
}

// WithWeights returns a copy with the given weights overridden.
func (c Config) WithWeights(overrides map[indicator.Name]float64) Config {
	out := c.clone()
	for n, w := range overrides {
		if n.Valid() {
			out.Weights[n] = w
		}
	}
	return out
}

func (c Config) clone() Config {
	out := c
	out.Adjustments = make(map[Regime]indicator.Weights, len(c.Adjustments))
	for r, w := range c.Adjustments {
		out.Adjustments[r] = w
	}
	return out
}

// adjusted returns the effective weight of n in regime r.
func (c Config) adjusted(r Regime, n indicator.Name) float64 {
	w := c.Weights[n]
	if adj, ok := c.Adjustments[r]; ok {
		w *= adj[n]
	}
	return w
}

// DetectRegime classifies the market from Bollinger bandwidth.
// When bandwidth is unknown the ATR-to-price ratio stands in for it, and
// with neither the market is treated as trending.
func (c Config) DetectRegime(bandwidth float64, hasBandwidth bool, atrRatio float64, hasATR bool) Regime {
	v := bandwidth
	switch {
	case hasBandwidth:
	case hasATR:
		v = atrRatio
	default:
		return RegimeTrending
	}
	switch {
	case v > c.VolatileBandwidth:
		return RegimeVolatile
	case v < c.RangingBandwidth:
		return RegimeRanging
	default:
		return RegimeTrending
	}
}
