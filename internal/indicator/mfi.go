package indicator

import "github.com/newthinker/tradecore/internal/core"

// MFI is the Money Flow Index, a volume-weighted RSI of typical price.
// Below 20 buys, above 80 sells.
type MFI struct {
	period int
	hist   history
}

// NewMFI creates an MFI over period money flows.
func NewMFI(period int) *MFI {
	return &MFI{period: period, hist: newHistory(period + 1)}
}

func (m *MFI) Name() Name              { return NameMFI }
func (m *MFI) AddCandle(c core.Candle) { m.hist.add(c) }
func (m *MFI) Reset()                  { m.hist.reset() }
func (m *MFI) Len() int                { return m.hist.len() }

func (m *MFI) Calculate() (Result, bool) {
	if m.hist.len() < m.period+1 {
		return Result{}, false
	}
	window := m.hist.tail(m.period + 1)
	var pos, neg float64
	for i := 1; i < len(window); i++ {
		tp := window[i].TypicalPrice()
		prev := window[i-1].TypicalPrice()
		flow := tp * window[i].Volume
		switch {
		case tp > prev:
			pos += flow
		case tp < prev:
			neg += flow
		}
	}

	mfi := rsiValue(pos, neg)
	sig, strength := classifyOscillator(mfi, 20, 80, 20)
	return Result{
		Name:     NameMFI,
		Value:    Scalar(mfi),
		Signal:   sig,
		Strength: strength,
		Params:   map[string]float64{"period": float64(m.period)},
	}, true
}
