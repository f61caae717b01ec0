// Package performance computes trade and equity-curve statistics shared by
// backtests and live reports.
package performance

import (
	"math"
	"sort"
)

// Stats holds performance statistics
type Stats struct {
	TotalTrades          int     `json:"total_trades"`
	WinningTrades        int     `json:"winning_trades"`
	LosingTrades         int     `json:"losing_trades"`
	WinRate              float64 `json:"win_rate"` // percent of closed trades with P&L > 0
	GrossProfit          float64 `json:"gross_profit"`
	GrossLoss            float64 `json:"gross_loss"`
	NetProfit            float64 `json:"net_profit"`
	ProfitFactor         float64 `json:"profit_factor"` // 0 when there are no losses
	AverageWin           float64 `json:"average_win"`
	AverageLoss          float64 `json:"average_loss"`
	LargestWin           float64 `json:"largest_win"`
	LargestLoss          float64 `json:"largest_loss"`
	Expectancy           float64 `json:"expectancy"`
	MaxConsecutiveWins   int     `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	TotalReturn          float64 `json:"total_return"` // percent
	MaxDrawdown          float64 `json:"max_drawdown"` // percent
	SharpeRatio          float64 `json:"sharpe_ratio"`
	SortinoRatio         float64 `json:"sortino_ratio"`
	VaR95                float64 `json:"var_95"` // percent loss per period
	VaR99                float64 `json:"var_99"`
}

// Compute derives statistics from realized trade P&Ls and the equity curve.
// riskFreeRate is annual and is applied per period as riskFreeRate/365.
func Compute(pnls []float64, equity []float64, riskFreeRate float64) Stats {
	s := TradeStats(pnls)

	if len(equity) > 0 && equity[0] > 0 {
		s.TotalReturn = (equity[len(equity)-1] - equity[0]) / equity[0] * 100
	}
	returns := Returns(equity)
	s.MaxDrawdown = MaxDrawdown(equity)
	s.SharpeRatio = Sharpe(returns, riskFreeRate)
	s.SortinoRatio = Sortino(returns, riskFreeRate)
	s.VaR95 = ValueAtRisk(returns, 0.95)
	s.VaR99 = ValueAtRisk(returns, 0.99)
	return s
}

// TradeStats computes the trade-count based statistics.
func TradeStats(pnls []float64) Stats {
	var s Stats
	s.TotalTrades = len(pnls)
	if len(pnls) == 0 {
		return s
	}

	var winStreak, lossStreak int
	for _, p := range pnls {
		s.NetProfit += p
		switch {
		case p > 0:
			s.WinningTrades++
			s.GrossProfit += p
			s.LargestWin = math.Max(s.LargestWin, p)
			winStreak++
			lossStreak = 0
		case p < 0:
			s.LosingTrades++
			s.GrossLoss += -p
			s.LargestLoss = math.Min(s.LargestLoss, p)
			lossStreak++
			winStreak = 0
		default:
			winStreak, lossStreak = 0, 0
		}
		s.MaxConsecutiveWins = max(s.MaxConsecutiveWins, winStreak)
		s.MaxConsecutiveLosses = max(s.MaxConsecutiveLosses, lossStreak)
	}

	s.WinRate = float64(s.WinningTrades) / float64(len(pnls)) * 100
	if s.WinningTrades > 0 {
		s.AverageWin = s.GrossProfit / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AverageLoss = s.GrossLoss / float64(s.LosingTrades)
	}
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}
	s.Expectancy = s.NetProfit / float64(len(pnls))
	return s
}

// Returns converts an equity curve to periodic simple returns.
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (equity[i]-equity[i-1])/equity[i-1])
	}
	return out
}

// MaxDrawdown finds the largest peak-to-trough decline, in percent.
func MaxDrawdown(equity []float64) float64 {
	var maxDD, peak float64
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-e)/peak)
		}
	}
	return maxDD * 100
}

// Sharpe is mean(r - rf/365) / std(r). It is 0 when returns do not vary.
func Sharpe(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	daily := riskFreeRate / 365
	mean, std := meanStd(returns)
	if std == 0 {
		return 0
	}
	return (mean - daily) / std
}

// Sortino is Sharpe with only downside deviation in the denominator.
func Sortino(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	daily := riskFreeRate / 365
	mean, _ := meanStd(returns)
	var ss float64
	for _, r := range returns {
		if d := r - daily; d < 0 {
			ss += d * d
		}
	}
	downside := math.Sqrt(ss / float64(len(returns)))
	if downside == 0 {
		return 0
	}
	return (mean - daily) / downside
}

// ValueAtRisk is the historical loss not exceeded with the given
// confidence, as a positive percent. It is 0 with fewer than 10 returns.
func ValueAtRisk(returns []float64, confidence float64) float64 {
	if len(returns) < 10 {
		return 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)
	idx := int(math.Floor((1 - confidence) * float64(len(sorted))))
	idx = min(max(idx, 0), len(sorted)-1)
	return math.Max(0, -sorted[idx]*100)
}

func meanStd(values []float64) (mean, std float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(variance / float64(len(values)-1))
}
