package core

import (
	"fmt"
	"math"
	"time"
)

// Candle represents an OHLCV bar for one symbol and interval.
// Candles are immutable once produced.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"` // "1m", "1h", "1d"
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
}

// Time returns the close time, falling back to the open time.
func (c Candle) Time() time.Time {
	if !c.CloseTime.IsZero() {
		return c.CloseTime
	}
	return c.OpenTime
}

// TypicalPrice returns (high + low + close) / 3.
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// Validate checks that the candle is internally consistent.
func (c Candle) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return WrapError(ErrInvalidCandle, fmt.Errorf("%s: non-finite value", c.Symbol))
		}
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return WrapError(ErrInvalidCandle, fmt.Errorf("%s: prices must be positive", c.Symbol))
	}
	if c.High < math.Max(c.Open, c.Close) || c.Low > math.Min(c.Open, c.Close) {
		return WrapError(ErrInvalidCandle, fmt.Errorf("%s: high/low do not bound open/close", c.Symbol))
	}
	if c.Volume < 0 {
		return WrapError(ErrInvalidCandle, fmt.Errorf("%s: negative volume", c.Symbol))
	}
	return nil
}

// SignalType represents a trade direction classification
type SignalType string

const (
	SignalBuy     SignalType = "BUY"
	SignalSell    SignalType = "SELL"
	SignalNeutral SignalType = "NEUTRAL"
)

// Direction returns +1 for buy, -1 for sell and 0 otherwise.
func (s SignalType) Direction() float64 {
	switch s {
	case SignalBuy:
		return 1
	case SignalSell:
		return -1
	default:
		return 0
	}
}

// Opposite returns the reverse direction. Neutral stays neutral.
func (s SignalType) Opposite() SignalType {
	switch s {
	case SignalBuy:
		return SignalSell
	case SignalSell:
		return SignalBuy
	default:
		return SignalNeutral
	}
}

// Side is the direction of an open position
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// SideFor maps an entry signal to the position side it opens.
func SideFor(s SignalType) (Side, bool) {
	switch s {
	case SignalBuy:
		return SideLong, true
	case SignalSell:
		return SideShort, true
	default:
		return "", false
	}
}

// Sign returns +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// ExitSignal returns the signal that reverses a position on this side.
func (s Side) ExitSignal() SignalType {
	if s == SideShort {
		return SignalBuy
	}
	return SignalSell
}
