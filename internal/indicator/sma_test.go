package indicator

import (
	"math"
	"testing"

	"github.com/newthinker/tradecore/internal/core"
)

func TestSMA_Calculate(t *testing.T) {
	prices := []float64{10, 11, 12, 13, 14, 15}

	sma := SMA(prices, 3)

	// SMA(3) for [10,11,12,13,14,15]:
	// [0] = (10+11+12)/3 = 11
	// [1] = (11+12+13)/3 = 12
	// [2] = (12+13+14)/3 = 13
	// [3] = (13+14+15)/3 = 14

	expected := []float64{11, 12, 13, 14}

	if len(sma) != len(expected) {
		t.Fatalf("expected %d values, got %d", len(expected), len(sma))
	}

	for i, v := range expected {
		if sma[i] != v {
			t.Errorf("sma[%d] = %f, want %f", i, sma[i], v)
		}
	}
}

func TestSMA_NotEnoughData(t *testing.T) {
	prices := []float64{10, 11}
	sma := SMA(prices, 5)

	if len(sma) != 0 {
		t.Errorf("expected empty slice, got %d values", len(sma))
	}
}

func TestSMA_IdenticalValues(t *testing.T) {
	values := []float64{0.1, 1, 42.37, 100, 65432.123456, 1e-7}
	for _, v := range values {
		for period := 1; period <= 50; period++ {
			prices := make([]float64, period)
			for i := range prices {
				prices[i] = v
			}
			got := SMA(prices, period)
			if len(got) != 1 || got[0] != v {
				t.Fatalf("SMA(%d) over %v = %v, want exactly %v", period, v, got, v)
			}
		}
	}
}

func TestEMA_Calculate(t *testing.T) {
	prices := []float64{10, 11, 12, 13, 14, 15}
	ema := EMA(prices, 3)

	if len(ema) != 4 {
		t.Fatalf("expected 4 values, got %d", len(ema))
	}

	// Seed is SMA(10,11,12) = 11, then (old*2 + x)/3
	expected := []float64{11, 35.0 / 3, (35.0/3*2 + 14) / 3}
	for i, want := range expected {
		if math.Abs(ema[i]-want) > 1e-9 {
			t.Errorf("ema[%d] = %f, want %f", i, ema[i], want)
		}
	}
}

func TestStdDev(t *testing.T) {
	if got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}); got != 2 {
		t.Errorf("StdDev = %f, want 2", got)
	}
	if got := StdDev(nil); got != 0 {
		t.Errorf("StdDev(nil) = %f, want 0", got)
	}
}

func TestSimpleMA_Streaming(t *testing.T) {
	sma := NewSMA(5)
	for i, c := range flatCandles(4, 100) {
		sma.AddCandle(c)
		if _, ok := sma.Calculate(); ok {
			t.Fatalf("ready after %d candles", i+1)
		}
	}
	sma.AddCandle(flatCandles(1, 100)[0])
	res, ok := sma.Calculate()
	if !ok {
		t.Fatal("expected result after period candles")
	}
	if res.Value.Float() != 100 {
		t.Errorf("value = %f, want 100", res.Value.Float())
	}
	if res.Signal != core.SignalNeutral {
		t.Errorf("signal = %s, want NEUTRAL", res.Signal)
	}
}

func TestExponentialMA_FollowsTrend(t *testing.T) {
	ema := NewEMA(10)
	for _, c := range risingCandles(40, 100, 1) {
		ema.AddCandle(c)
	}
	res, ok := ema.Calculate()
	if !ok {
		t.Fatal("expected result")
	}
	if res.Signal != core.SignalBuy {
		t.Errorf("signal = %s, want BUY", res.Signal)
	}
	if res.Value.Float() >= 139 {
		t.Errorf("smoothed value %f should lag the close", res.Value.Float())
	}
}

func TestWilder_Recurrence(t *testing.T) {
	samples := []float64{0.1, 0.7, 0.3, 1.9, 0.23, 5.17, 0.61, 2.2, 0.05, 3.33}
	w := newWilder(3)
	var want float64
	for i, x := range samples {
		w.add(x)
		switch {
		case i == 2:
			want = w.value
		case i > 2:
			want = (want*2 + x) / 3
			if w.value != want {
				t.Fatalf("sample %d: value = %v, want exactly %v", i, w.value, want)
			}
		}
	}
}
