package indicator

import (
	"math"

	"github.com/newthinker/tradecore/internal/core"
)

// CCI is the Commodity Channel Index of typical price.
// Below -100 buys, above +100 sells.
type CCI struct {
	period int
	hist   history
}

// NewCCI creates a CCI over period candles.
func NewCCI(period int) *CCI {
	return &CCI{period: period, hist: newHistory(period)}
}

func (c *CCI) Name() Name               { return NameCCI }
func (c *CCI) AddCandle(cd core.Candle) { c.hist.add(cd) }
func (c *CCI) Reset()                   { c.hist.reset() }
func (c *CCI) Len() int                 { return c.hist.len() }

func (c *CCI) Calculate() (Result, bool) {
	if c.hist.len() < c.period {
		return Result{}, false
	}
	window := c.hist.tail(c.period)
	tps := make([]float64, len(window))
	for i, cd := range window {
		tps[i] = cd.TypicalPrice()
	}
	mean := Mean(tps)
	var md float64
	for _, tp := range tps {
		md += math.Abs(tp - mean)
	}
	md /= float64(len(tps))

	cci := 0.0
	if md > epsilon*mean {
		cci = (tps[len(tps)-1] - mean) / (0.015 * md)
	}
	sig, strength := classifyOscillator(cci, -100, 100, 200)
	return Result{
		Name:     NameCCI,
		Value:    Scalar(cci),
		Signal:   sig,
		Strength: strength,
		Params:   map[string]float64{"period": float64(c.period)},
	}, true
}
