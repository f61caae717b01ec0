package indicator

import "github.com/newthinker/tradecore/internal/core"

// Stochastic oscillator. %K locates close within the period's range and %D
// averages the last dPeriod %K readings. Buys under 20, sells over 80.
type Stochastic struct {
	period  int
	dPeriod int
	hist    history
}

// NewStochastic creates a %K over period candles with a dPeriod %D.
func NewStochastic(period, dPeriod int) *Stochastic {
	return &Stochastic{period: period, dPeriod: dPeriod, hist: newHistory(period + dPeriod)}
}

func (s *Stochastic) Name() Name              { return NameStochastic }
func (s *Stochastic) AddCandle(c core.Candle) { s.hist.add(c) }
func (s *Stochastic) Reset()                  { s.hist.reset() }
func (s *Stochastic) Len() int                { return s.hist.len() }

func (s *Stochastic) Calculate() (Result, bool) {
	n := s.hist.len()
	if n < s.period {
		return Result{}, false
	}

	var ks []float64
	for offset := 0; offset < s.dPeriod && n-offset >= s.period; offset++ {
		window := s.hist.candles[n-offset-s.period : n-offset]
		ks = append(ks, percentK(window))
	}
	k := ks[0]
	d := Mean(ks)

	sig, strength := classifyOscillator(k, 20, 80, 20)
	return Result{
		Name:     NameStochastic,
		Value:    Tuple(k, d),
		Signal:   sig,
		Strength: strength,
		Params:   map[string]float64{"period": float64(s.period), "d_period": float64(s.dPeriod)},
	}, true
}

func percentK(window []core.Candle) float64 {
	hh, ll := extremes(window)
	if hh-ll <= epsilon*hh {
		return 50
	}
	return clamp((window[len(window)-1].Close-ll)/(hh-ll)*100, 0, 100)
}
