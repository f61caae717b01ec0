package indicator

import (
	"math"

	"github.com/newthinker/tradecore/internal/core"
)

// SMA calculates Simple Moving Average
// Returns slice of length: len(prices) - period + 1
func SMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return []float64{}
	}

	result := make([]float64, 0, len(prices)-period+1)
	for i := period; i <= len(prices); i++ {
		result = append(result, Mean(prices[i-period:i]))
	}

	return result
}

// EMA calculates the Wilder-smoothed moving average used by the streaming
// indicators, seeded by the SMA of the first period prices.
func EMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return []float64{}
	}

	result := make([]float64, 0, len(prices)-period+1)
	w := newWilder(period)
	for _, p := range prices {
		w.add(p)
		if w.ready {
			result = append(result, w.value)
		}
	}

	return result
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
// Deviations are summed around the first element so a run of identical
// values averages to exactly that value.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	base := values[0]
	var sum float64
	for _, v := range values[1:] {
		sum += v - base
	}
	return base + sum/float64(len(values))
}

// StdDev returns the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(values)))
}

// SimpleMA is a streaming simple moving average of closes.
// Signals follow the close's deviation from the average.
type SimpleMA struct {
	period int
	hist   history
}

// NewSMA creates a simple moving average over period closes.
func NewSMA(period int) *SimpleMA {
	return &SimpleMA{period: period, hist: newHistory(period)}
}

func (s *SimpleMA) Name() Name              { return NameSMA }
func (s *SimpleMA) AddCandle(c core.Candle) { s.hist.add(c) }
func (s *SimpleMA) Reset()                  { s.hist.reset() }
func (s *SimpleMA) Len() int                { return s.hist.len() }

func (s *SimpleMA) Calculate() (Result, bool) {
	if s.hist.len() < s.period {
		return Result{}, false
	}
	sma := Mean(s.hist.closes(s.period))
	price := s.hist.last().Close
	dev := (price - sma) / sma * 100
	sig, strength := classifyDeviation(dev)
	return Result{
		Name:     NameSMA,
		Value:    Scalar(sma),
		Signal:   sig,
		Strength: strength,
		Params:   map[string]float64{"period": float64(s.period), "deviation_pct": dev},
	}, true
}

// ExponentialMA is a streaming Wilder-smoothed moving average of closes.
type ExponentialMA struct {
	period int
	hist   history
	avg    wilder
}

// NewEMA creates a smoothed moving average over period closes.
func NewEMA(period int) *ExponentialMA {
	return &ExponentialMA{period: period, hist: newHistory(period), avg: newWilder(period)}
}

func (e *ExponentialMA) Name() Name { return NameEMA }
func (e *ExponentialMA) Len() int   { return e.hist.len() }

func (e *ExponentialMA) AddCandle(c core.Candle) {
	e.hist.add(c)
	e.avg.add(c.Close)
}

func (e *ExponentialMA) Reset() {
	e.hist.reset()
	e.avg.reset()
}

func (e *ExponentialMA) Calculate() (Result, bool) {
	if !e.avg.ready {
		return Result{}, false
	}
	ema := e.avg.value
	price := e.hist.last().Close
	dev := (price - ema) / ema * 100
	sig, strength := classifyDeviation(dev)
	return Result{
		Name:     NameEMA,
		Value:    Scalar(ema),
		Signal:   sig,
		Strength: strength,
		Params:   map[string]float64{"period": float64(e.period), "deviation_pct": dev},
	}, true
}
