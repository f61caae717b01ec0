package indicator

import "github.com/newthinker/tradecore/internal/core"

// RSI is the Relative Strength Index with Wilder-smoothed gains and losses.
// Below 30 is oversold (buy), above 70 overbought (sell).
type RSI struct {
	period    int
	hist      history
	gains     wilder
	losses    wilder
	prevClose float64
	seen      bool
}

// NewRSI creates an RSI over period price changes.
func NewRSI(period int) *RSI {
	return &RSI{
		period: period,
		hist:   newHistory(period),
		gains:  newWilder(period),
		losses: newWilder(period),
	}
}

func (r *RSI) Name() Name { return NameRSI }
func (r *RSI) Len() int   { return r.hist.len() }

func (r *RSI) AddCandle(c core.Candle) {
	r.hist.add(c)
	if r.seen {
		change := c.Close - r.prevClose
		r.gains.add(max(change, 0))
		r.losses.add(max(-change, 0))
	}
	r.prevClose = c.Close
	r.seen = true
}

func (r *RSI) Reset() {
	r.hist.reset()
	r.gains.reset()
	r.losses.reset()
	r.prevClose = 0
	r.seen = false
}

func (r *RSI) Calculate() (Result, bool) {
	if r.hist.len() < r.period || !r.losses.ready {
		return Result{}, false
	}
	rsi := rsiValue(r.gains.value, r.losses.value)
	sig, strength := classifyOscillator(rsi, 30, 70, 30)
	return Result{
		Name:     NameRSI,
		Value:    Scalar(rsi),
		Signal:   sig,
		Strength: strength,
		Params:   map[string]float64{"period": float64(r.period)},
	}, true
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return clamp(100-100/(1+rs), 0, 100)
}
