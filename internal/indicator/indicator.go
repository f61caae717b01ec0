// Package indicator implements streaming technical indicators.
//
// Each indicator keeps only the rolling window or recurrence state it needs.
// Calculate reports false until enough candles have been seen.
package indicator

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/newthinker/tradecore/internal/core"
)

// Name identifies an indicator type.
type Name int

const (
	NameRSI Name = iota
	NameMACD
	NameBollinger
	NameEMA
	NameSMA
	NameStochastic
	NameATR
	NameWilliamsR
	NameMFI
	NameOBV
	NameADX
	NameCCI

	// Count is the number of indicator types.
	Count = int(NameCCI) + 1
)

var names = [Count]string{
	NameRSI:        "rsi",
	NameMACD:       "macd",
	NameBollinger:  "bollinger",
	NameEMA:        "ema",
	NameSMA:        "sma",
	NameStochastic: "stochastic",
	NameATR:        "atr",
	NameWilliamsR:  "williams_r",
	NameMFI:        "mfi",
	NameOBV:        "obv",
	NameADX:        "adx",
	NameCCI:        "cci",
}

// All returns every indicator name in table order.
func All() []Name {
	out := make([]Name, Count)
	for i := range out {
		out[i] = Name(i)
	}
	return out
}

func (n Name) String() string {
	if !n.Valid() {
		return fmt.Sprintf("indicator(%d)", int(n))
	}
	return names[n]
}

// Valid reports whether n is a known indicator.
func (n Name) Valid() bool {
	return n >= 0 && int(n) < Count
}

// ParseName resolves a case-insensitive indicator name.
func ParseName(s string) (Name, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range names {
		if name == s {
			return Name(i), nil
		}
	}
	return 0, fmt.Errorf("unknown indicator %q", s)
}

// MarshalText implements encoding.TextMarshaler so names work as JSON map keys.
func (n Name) MarshalText() ([]byte, error) {
	if !n.Valid() {
		return nil, fmt.Errorf("invalid indicator %d", int(n))
	}
	return []byte(names[n]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Name) UnmarshalText(b []byte) error {
	parsed, err := ParseName(string(b))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Weights is a fixed table indexed by indicator name.
type Weights [Count]float64

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}

// DefaultWeights returns the default aggregation weights. They sum to 1.0.
func DefaultWeights() Weights {
	return Weights{
		NameRSI:        0.12,
		NameMACD:       0.14,
		NameBollinger:  0.10,
		NameEMA:        0.10,
		NameSMA:        0.08,
		NameStochastic: 0.08,
		NameATR:        0.04,
		NameWilliamsR:  0.06,
		NameMFI:        0.08,
		NameOBV:        0.06,
		NameADX:        0.08,
		NameCCI:        0.06,
	}
}

// Value is either a single number or a fixed tuple of numbers.
type Value struct {
	tuple  bool
	values []float64
}

// Scalar wraps a single value.
func Scalar(v float64) Value {
	return Value{values: []float64{v}}
}

// Tuple wraps an ordered set of values.
func Tuple(vs ...float64) Value {
	cp := make([]float64, len(vs))
	copy(cp, vs)
	return Value{tuple: true, values: cp}
}

// IsTuple reports whether the value is a tuple.
func (v Value) IsTuple() bool { return v.tuple }

// Float returns the scalar, or the first tuple element.
func (v Value) Float() float64 {
	if len(v.values) == 0 {
		return 0
	}
	return v.values[0]
}

// At returns the i-th tuple element.
func (v Value) At(i int) float64 {
	if i < 0 || i >= len(v.values) {
		return 0
	}
	return v.values[i]
}

// Values returns a copy of all elements.
func (v Value) Values() []float64 {
	cp := make([]float64, len(v.values))
	copy(cp, v.values)
	return cp
}

// MarshalJSON encodes scalars as numbers and tuples as arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.tuple {
		return json.Marshal(v.values)
	}
	return json.Marshal(v.Float())
}

// UnmarshalJSON accepts a number or an array.
func (v *Value) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*v = Scalar(f)
		return nil
	}
	var vs []float64
	if err := json.Unmarshal(b, &vs); err != nil {
		return fmt.Errorf("indicator value: %w", err)
	}
	*v = Tuple(vs...)
	return nil
}

// Result is one indicator reading. Results are never mutated after creation.
type Result struct {
	Name     Name               `json:"name"`
	Value    Value              `json:"value"`
	Signal   core.SignalType    `json:"signal"`
	Strength float64            `json:"strength"` // 0-100
	Params   map[string]float64 `json:"params,omitempty"`
}

// MACDValue holds the three MACD lines.
type MACDValue struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD returns the MACD lines when r is a MACD result.
func (r Result) MACD() (MACDValue, bool) {
	if r.Name != NameMACD || !r.Value.IsTuple() {
		return MACDValue{}, false
	}
	return MACDValue{MACD: r.Value.At(0), Signal: r.Value.At(1), Histogram: r.Value.At(2)}, true
}

// BollingerValue holds the band levels.
type BollingerValue struct {
	Upper     float64
	Middle    float64
	Lower     float64
	PercentB  float64
	Bandwidth float64
}

// Bollinger returns the bands when r is a Bollinger result.
func (r Result) Bollinger() (BollingerValue, bool) {
	if r.Name != NameBollinger || !r.Value.IsTuple() {
		return BollingerValue{}, false
	}
	return BollingerValue{
		Upper:     r.Value.At(0),
		Middle:    r.Value.At(1),
		Lower:     r.Value.At(2),
		PercentB:  r.Params["percent_b"],
		Bandwidth: r.Params["bandwidth"],
	}, true
}

// StochasticValue holds %K and %D.
type StochasticValue struct {
	K float64
	D float64
}

// Stochastic returns %K and %D when r is a Stochastic result.
func (r Result) Stochastic() (StochasticValue, bool) {
	if r.Name != NameStochastic || !r.Value.IsTuple() {
		return StochasticValue{}, false
	}
	return StochasticValue{K: r.Value.At(0), D: r.Value.At(1)}, true
}

// ADXValue holds trend strength and directional indexes.
type ADXValue struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// ADX returns the directional values when r is an ADX result.
func (r Result) ADX() (ADXValue, bool) {
	if r.Name != NameADX || !r.Value.IsTuple() {
		return ADXValue{}, false
	}
	return ADXValue{ADX: r.Value.At(0), PlusDI: r.Value.At(1), MinusDI: r.Value.At(2)}, true
}

// Indicator is a stateful calculator fed one candle at a time.
type Indicator interface {
	Name() Name
	AddCandle(c core.Candle)
	// Calculate returns false until enough data has been seen.
	Calculate() (Result, bool)
	Reset()
	Len() int
}

// Set holds one instance of every indicator, indexed by name.
type Set [Count]Indicator

// NewSet builds every indicator with its default parameters.
func NewSet() Set {
	return Set{
		NameRSI:        NewRSI(14),
		NameMACD:       NewMACD(12, 26, 9),
		NameBollinger:  NewBollinger(20, 2),
		NameEMA:        NewEMA(20),
		NameSMA:        NewSMA(20),
		NameStochastic: NewStochastic(14, 3),
		NameATR:        NewATR(14),
		NameWilliamsR:  NewWilliamsR(14),
		NameMFI:        NewMFI(14),
		NameOBV:        NewOBV(20),
		NameADX:        NewADX(14),
		NameCCI:        NewCCI(20),
	}
}

// AddCandle feeds c to every indicator.
func (s *Set) AddCandle(c core.Candle) {
	for _, ind := range s {
		ind.AddCandle(c)
	}
}

// Reset clears every indicator.
func (s *Set) Reset() {
	for _, ind := range s {
		ind.Reset()
	}
}

// history is a bounded candle window.
type history struct {
	limit   int
	candles []core.Candle
}

func newHistory(period int) history {
	return history{limit: max(200, 2*period)}
}

func (h *history) add(c core.Candle) {
	h.candles = append(h.candles, c)
	if over := len(h.candles) - h.limit; over > 0 {
		h.candles = append(h.candles[:0], h.candles[over:]...)
	}
}

func (h *history) reset() { h.candles = h.candles[:0] }

func (h *history) len() int { return len(h.candles) }

func (h *history) last() core.Candle { return h.candles[len(h.candles)-1] }

// tail returns the last n candles.
func (h *history) tail(n int) []core.Candle {
	if n > len(h.candles) {
		n = len(h.candles)
	}
	return h.candles[len(h.candles)-n:]
}

// closes returns the last n close prices.
func (h *history) closes(n int) []float64 {
	window := h.tail(n)
	out := make([]float64, len(window))
	for i, c := range window {
		out[i] = c.Close
	}
	return out
}

// extremes returns the highest high and lowest low over the window.
func extremes(window []core.Candle) (hh, ll float64) {
	hh, ll = math.Inf(-1), math.Inf(1)
	for _, c := range window {
		hh = math.Max(hh, c.High)
		ll = math.Min(ll, c.Low)
	}
	return hh, ll
}

// epsilon treats relative differences below it as zero.
const epsilon = 1e-9

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampStrength(v float64) float64 {
	return clamp(v, 0, 100)
}

// classifyDeviation maps a percent deviation of price from a reference
// level onto a signal. Deviations under 0.1% are neutral.
func classifyDeviation(devPct float64) (core.SignalType, float64) {
	switch {
	case devPct >= 0.1:
		return core.SignalBuy, clampStrength(devPct * 20)
	case devPct <= -0.1:
		return core.SignalSell, clampStrength(-devPct * 20)
	default:
		return core.SignalNeutral, 0
	}
}

// classifyOscillator buys below low and sells above high, scaling strength
// by the distance into the extreme zone.
func classifyOscillator(v, low, high, span float64) (core.SignalType, float64) {
	switch {
	case v < low:
		return core.SignalBuy, clampStrength((low - v) / span * 100)
	case v > high:
		return core.SignalSell, clampStrength((v - high) / span * 100)
	default:
		return core.SignalNeutral, 0
	}
}
