package performance

import (
	"math"
	"testing"
)

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name   string
		equity []float64
		want   float64
	}{
		{"rise then fall", []float64{100, 120, 90}, 25},
		{"monotonic", []float64{100, 110, 120}, 0},
		{"two troughs", []float64{100, 80, 150, 120, 160}, 20},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaxDrawdown(tt.equity); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("MaxDrawdown() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestTradeStats(t *testing.T) {
	s := TradeStats([]float64{100, -50, 200, -25, -25, 0})

	if s.TotalTrades != 6 || s.WinningTrades != 2 || s.LosingTrades != 3 {
		t.Fatalf("counts = %d/%d/%d", s.TotalTrades, s.WinningTrades, s.LosingTrades)
	}
	if math.Abs(s.WinRate-100.0/3) > 1e-9 {
		t.Errorf("win rate = %f", s.WinRate)
	}
	if s.GrossProfit != 300 || s.GrossLoss != 100 || s.ProfitFactor != 3 {
		t.Errorf("gross = %f/%f pf %f", s.GrossProfit, s.GrossLoss, s.ProfitFactor)
	}
	if s.LargestWin != 200 || s.LargestLoss != -50 {
		t.Errorf("largest = %f/%f", s.LargestWin, s.LargestLoss)
	}
	if s.MaxConsecutiveLosses != 2 || s.MaxConsecutiveWins != 1 {
		t.Errorf("streaks = %d/%d", s.MaxConsecutiveWins, s.MaxConsecutiveLosses)
	}
	if math.Abs(s.Expectancy-200.0/6) > 1e-9 {
		t.Errorf("expectancy = %f", s.Expectancy)
	}
}

func TestTradeStats_NoLosses(t *testing.T) {
	s := TradeStats([]float64{10, 20})
	if s.ProfitFactor != 0 {
		t.Errorf("profit factor = %f, want 0 without losses", s.ProfitFactor)
	}
	if s.WinRate != 100 {
		t.Errorf("win rate = %f", s.WinRate)
	}
}

func TestSharpe(t *testing.T) {
	if got := Sharpe([]float64{0.01, 0.01, 0.01}, 0); got != 0 {
		t.Errorf("constant returns should give 0, got %f", got)
	}

	returns := []float64{0.02, -0.01, 0.03, 0.00}
	// mean 0.01, sample std sqrt(((0.01)^2+(0.02)^2+(0.02)^2+(0.01)^2)/3)
	std := math.Sqrt((0.0001 + 0.0004 + 0.0004 + 0.0001) / 3)
	want := (0.01 - 0.0365/365) / std
	if got := Sharpe(returns, 0.0365); math.Abs(got-want) > 1e-9 {
		t.Errorf("Sharpe() = %f, want %f", got, want)
	}
}

func TestSortino_IgnoresUpside(t *testing.T) {
	if got := Sortino([]float64{0.01, 0.02, 0.03}, 0); got != 0 {
		t.Errorf("no downside should give 0, got %f", got)
	}
	if got := Sortino([]float64{0.05, -0.01, 0.04, -0.02}, 0); got <= 0 {
		t.Errorf("positive mean should give positive Sortino, got %f", got)
	}
}

func TestValueAtRisk(t *testing.T) {
	returns := make([]float64, 100)
	for i := range returns {
		returns[i] = float64(i-50) / 1000 // -5% .. +4.9%
	}
	if got := ValueAtRisk(returns, 0.95); math.Abs(got-4.5) > 1e-9 {
		t.Errorf("VaR95 = %f, want 4.5", got)
	}
	if got := ValueAtRisk(returns, 0.99); math.Abs(got-4.9) > 1e-9 {
		t.Errorf("VaR99 = %f, want 4.9", got)
	}
	if got := ValueAtRisk(returns[:5], 0.95); got != 0 {
		t.Errorf("short series VaR = %f, want 0", got)
	}
}

func TestCompute(t *testing.T) {
	s := Compute([]float64{20, -10}, []float64{100, 120, 90, 110}, 0)
	if math.Abs(s.TotalReturn-10) > 1e-9 {
		t.Errorf("total return = %f", s.TotalReturn)
	}
	if math.Abs(s.MaxDrawdown-25) > 1e-9 {
		t.Errorf("max drawdown = %f", s.MaxDrawdown)
	}
	if s.ProfitFactor != 2 {
		t.Errorf("profit factor = %f", s.ProfitFactor)
	}
	if math.IsNaN(s.SharpeRatio) || math.IsInf(s.SharpeRatio, 0) {
		t.Errorf("sharpe = %f", s.SharpeRatio)
	}
}
