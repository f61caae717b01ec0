package indicator

import (
	"math"

	"github.com/newthinker/tradecore/internal/core"
)

// ATR is the Wilder-smoothed average true range.
// A close-to-close move larger than one ATR signals in its direction.
type ATR struct {
	period    int
	hist      history
	avg       wilder
	prevClose float64
	lastMove  float64
	seen      bool
}

// NewATR creates an ATR over period candles.
func NewATR(period int) *ATR {
	return &ATR{period: period, hist: newHistory(period), avg: newWilder(period)}
}

func (a *ATR) Name() Name { return NameATR }
func (a *ATR) Len() int   { return a.hist.len() }

func (a *ATR) AddCandle(c core.Candle) {
	a.hist.add(c)
	a.avg.add(trueRange(c, a.prevClose, a.seen))
	if a.seen {
		a.lastMove = c.Close - a.prevClose
	}
	a.prevClose = c.Close
	a.seen = true
}

func (a *ATR) Reset() {
	a.hist.reset()
	a.avg.reset()
	a.prevClose, a.lastMove = 0, 0
	a.seen = false
}

// Value returns the current ATR, or false before warm-up.
func (a *ATR) Value() (float64, bool) {
	return a.avg.value, a.avg.ready
}

func (a *ATR) Calculate() (Result, bool) {
	if !a.avg.ready {
		return Result{}, false
	}
	atr := a.avg.value
	price := a.hist.last().Close

	sig, strength := core.SignalNeutral, 0.0
	if atr > epsilon*price && math.Abs(a.lastMove) > atr {
		strength = clampStrength(math.Abs(a.lastMove) / atr * 50)
		if a.lastMove > 0 {
			sig = core.SignalBuy
		} else {
			sig = core.SignalSell
		}
	}

	return Result{
		Name:     NameATR,
		Value:    Scalar(atr),
		Signal:   sig,
		Strength: strength,
		Params: map[string]float64{
			"period":      float64(a.period),
			"atr_percent": atr / price * 100,
		},
	}, true
}

func trueRange(c core.Candle, prevClose float64, hasPrev bool) float64 {
	tr := c.High - c.Low
	if hasPrev {
		tr = math.Max(tr, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}
	return tr
}
