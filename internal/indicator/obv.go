package indicator

import (
	"math"

	"github.com/newthinker/tradecore/internal/core"
)

// OBV is On-Balance Volume. Direction comes from the OBV change over the
// window relative to the volume traded in it.
type OBV struct {
	period    int
	hist      history
	obv       []float64
	prevClose float64
}

// NewOBV creates an OBV whose slope is measured over period candles.
func NewOBV(period int) *OBV {
	return &OBV{period: period, hist: newHistory(period)}
}

func (o *OBV) Name() Name { return NameOBV }
func (o *OBV) Len() int   { return o.hist.len() }

func (o *OBV) AddCandle(c core.Candle) {
	var cur float64
	if n := len(o.obv); n > 0 {
		cur = o.obv[n-1]
		switch {
		case c.Close > o.prevClose:
			cur += c.Volume
		case c.Close < o.prevClose:
			cur -= c.Volume
		}
	}
	o.hist.add(c)
	o.obv = append(o.obv, cur)
	if over := len(o.obv) - o.hist.limit; over > 0 {
		o.obv = append(o.obv[:0], o.obv[over:]...)
	}
	o.prevClose = c.Close
}

func (o *OBV) Reset() {
	o.hist.reset()
	o.obv = o.obv[:0]
	o.prevClose = 0
}

func (o *OBV) Calculate() (Result, bool) {
	n := len(o.obv)
	if n < o.period {
		return Result{}, false
	}
	slope := o.obv[n-1] - o.obv[n-o.period]
	var volume float64
	for _, c := range o.hist.tail(o.period - 1) {
		volume += c.Volume
	}

	ratio := 0.0
	if volume > 0 {
		ratio = slope / volume
	}
	sig, strength := core.SignalNeutral, 0.0
	switch {
	case ratio > 0.1:
		sig, strength = core.SignalBuy, clampStrength(ratio*100)
	case ratio < -0.1:
		sig, strength = core.SignalSell, clampStrength(math.Abs(ratio)*100)
	}

	return Result{
		Name:     NameOBV,
		Value:    Scalar(o.obv[n-1]),
		Signal:   sig,
		Strength: strength,
		Params:   map[string]float64{"period": float64(o.period), "flow_ratio": ratio},
	}, true
}
