package indicator

import (
	"math"

	"github.com/newthinker/tradecore/internal/core"
)

// ADX is the Average Directional Index with +DI/-DI.
// At 25 or above the dominant directional index sets the signal and ADX is
// the strength.
type ADX struct {
	period int
	hist   history

	tr, plusDM, minusDM wilder
	adx                 wilder

	prev core.Candle
	seen bool
}

// NewADX creates an ADX over period candles.
func NewADX(period int) *ADX {
	return &ADX{
		period:  period,
		hist:    newHistory(2 * period),
		tr:      newWilder(period),
		plusDM:  newWilder(period),
		minusDM: newWilder(period),
		adx:     newWilder(period),
	}
}

func (a *ADX) Name() Name { return NameADX }
func (a *ADX) Len() int   { return a.hist.len() }

func (a *ADX) AddCandle(c core.Candle) {
	a.hist.add(c)
	if a.seen {
		up := c.High - a.prev.High
		down := a.prev.Low - c.Low
		var pdm, mdm float64
		if up > down && up > 0 {
			pdm = up
		}
		if down > up && down > 0 {
			mdm = down
		}
		a.tr.add(trueRange(c, a.prev.Close, true))
		a.plusDM.add(pdm)
		a.minusDM.add(mdm)
		if a.tr.ready {
			plus, minus := a.directional()
			dx := 0.0
			if sum := plus + minus; sum > 0 {
				dx = math.Abs(plus-minus) / sum * 100
			}
			a.adx.add(dx)
		}
	}
	a.prev = c
	a.seen = true
}

func (a *ADX) directional() (plus, minus float64) {
	if a.tr.value <= 0 {
		return 0, 0
	}
	return a.plusDM.value / a.tr.value * 100, a.minusDM.value / a.tr.value * 100
}

func (a *ADX) Reset() {
	a.hist.reset()
	a.tr.reset()
	a.plusDM.reset()
	a.minusDM.reset()
	a.adx.reset()
	a.prev = core.Candle{}
	a.seen = false
}

func (a *ADX) Calculate() (Result, bool) {
	if !a.adx.ready {
		return Result{}, false
	}
	adx := clamp(a.adx.value, 0, 100)
	plus, minus := a.directional()

	sig, strength := core.SignalNeutral, 0.0
	if adx >= 25 && plus != minus {
		strength = clampStrength(adx)
		if plus > minus {
			sig = core.SignalBuy
		} else {
			sig = core.SignalSell
		}
	}

	return Result{
		Name:     NameADX,
		Value:    Tuple(adx, plus, minus),
		Signal:   sig,
		Strength: strength,
		Params:   map[string]float64{"period": float64(a.period)},
	}, true
}
