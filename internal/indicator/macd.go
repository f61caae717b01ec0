package indicator

import (
	"math"

	"github.com/newthinker/tradecore/internal/core"
)

// MACD tracks fast and slow smoothed averages of close, their difference and
// a signal line over that difference. The histogram sign sets direction.
type MACD struct {
	fastPeriod, slowPeriod, signalPeriod int

	hist   history
	fast   wilder
	slow   wilder
	signal wilder
	line   float64
}

// NewMACD creates a MACD with the given periods (12, 26, 9 by convention).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fastPeriod:   fast,
		slowPeriod:   slow,
		signalPeriod: signal,
		hist:         newHistory(slow + signal),
		fast:         newWilder(fast),
		slow:         newWilder(slow),
		signal:       newWilder(signal),
	}
}

func (m *MACD) Name() Name { return NameMACD }
func (m *MACD) Len() int   { return m.hist.len() }

func (m *MACD) AddCandle(c core.Candle) {
	m.hist.add(c)
	m.fast.add(c.Close)
	m.slow.add(c.Close)
	if m.fast.ready && m.slow.ready {
		m.line = m.fast.value - m.slow.value
		m.signal.add(m.line)
	}
}

func (m *MACD) Reset() {
	m.hist.reset()
	m.fast.reset()
	m.slow.reset()
	m.signal.reset()
	m.line = 0
}

func (m *MACD) Calculate() (Result, bool) {
	if !m.signal.ready {
		return Result{}, false
	}
	price := m.hist.last().Close
	histogram := m.line - m.signal.value

	sig, strength := core.SignalNeutral, 0.0
	rel := math.Abs(histogram) / price
	if rel > epsilon {
		strength = clampStrength(rel * 10000)
		if histogram > 0 {
			sig = core.SignalBuy
		} else {
			sig = core.SignalSell
		}
	}

	return Result{
		Name:     NameMACD,
		Value:    Tuple(m.line, m.signal.value, histogram),
		Signal:   sig,
		Strength: strength,
		Params: map[string]float64{
			"fast":   float64(m.fastPeriod),
			"slow":   float64(m.slowPeriod),
			"signal": float64(m.signalPeriod),
		},
	}, true
}
