package indicator

import "github.com/newthinker/tradecore/internal/core"

// WilliamsR is Williams %R in [-100, 0]. Below -80 buys, above -20 sells.
type WilliamsR struct {
	period int
	hist   history
}

// NewWilliamsR creates a %R over period candles.
func NewWilliamsR(period int) *WilliamsR {
	return &WilliamsR{period: period, hist: newHistory(period)}
}

func (w *WilliamsR) Name() Name              { return NameWilliamsR }
func (w *WilliamsR) AddCandle(c core.Candle) { w.hist.add(c) }
func (w *WilliamsR) Reset()                  { w.hist.reset() }
func (w *WilliamsR) Len() int                { return w.hist.len() }

func (w *WilliamsR) Calculate() (Result, bool) {
	if w.hist.len() < w.period {
		return Result{}, false
	}
	window := w.hist.tail(w.period)
	hh, ll := extremes(window)
	wr := -50.0
	if hh-ll > epsilon*hh {
		wr = clamp((hh-w.hist.last().Close)/(hh-ll)*-100, -100, 0)
	}
	sig, strength := classifyOscillator(wr, -80, -20, 20)
	return Result{
		Name:     NameWilliamsR,
		Value:    Scalar(wr),
		Signal:   sig,
		Strength: strength,
		Params:   map[string]float64{"period": float64(w.period)},
	}, true
}
