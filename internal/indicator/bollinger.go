package indicator

import "github.com/newthinker/tradecore/internal/core"

// Bollinger bands around a simple average of close.
// %B at or beyond a band gives full strength. Inside the bands, the outer
// 20% of the channel scales strength linearly.
type Bollinger struct {
	period int
	k      float64
	hist   history
}

// NewBollinger creates bands of k standard deviations over period closes.
func NewBollinger(period int, k float64) *Bollinger {
	return &Bollinger{period: period, k: k, hist: newHistory(period)}
}

func (b *Bollinger) Name() Name              { return NameBollinger }
func (b *Bollinger) AddCandle(c core.Candle) { b.hist.add(c) }
func (b *Bollinger) Reset()                  { b.hist.reset() }
func (b *Bollinger) Len() int                { return b.hist.len() }

func (b *Bollinger) Calculate() (Result, bool) {
	if b.hist.len() < b.period {
		return Result{}, false
	}
	closes := b.hist.closes(b.period)
	middle := Mean(closes)
	sd := StdDev(closes)
	upper := middle + b.k*sd
	lower := middle - b.k*sd
	price := b.hist.last().Close

	percentB, bandwidth := 0.5, 0.0
	if sd > epsilon*middle {
		percentB = (price - lower) / (upper - lower)
		bandwidth = (upper - lower) / middle
	}

	var sig core.SignalType
	var strength float64
	switch {
	case sd <= epsilon*middle:
		sig = core.SignalNeutral
	case percentB <= 0:
		sig, strength = core.SignalBuy, 100
	case percentB >= 1:
		sig, strength = core.SignalSell, 100
	default:
		sig, strength = classifyOscillator(percentB, 0.2, 0.8, 0.2)
	}

	return Result{
		Name:     NameBollinger,
		Value:    Tuple(upper, middle, lower),
		Signal:   sig,
		Strength: strength,
		Params: map[string]float64{
			"period":    float64(b.period),
			"k":         b.k,
			"percent_b": percentB,
			"bandwidth": bandwidth,
		},
	}, true
}
