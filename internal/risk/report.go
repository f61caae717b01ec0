package risk

import (
	"time"

	"github.com/newthinker/tradecore/internal/performance"
)

// GenerateReport returns a snapshot of risk state without changing it.
func (m *Manager) GenerateReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	snap := m.view.Snapshot()

	r := Report{
		Time:              now,
		ConsecutiveLosses: m.consecutiveLosses,
		Limits:            m.limits,
		Daily:             m.daily,
		Portfolio:         snap,
		VaR95:             performance.ValueAtRisk(m.equityReturn, 0.95),
		VaR99:             performance.ValueAtRisk(m.equityReturn, 0.99),
		Alerts:            append([]Alert(nil), m.alerts...),
	}
	r.State = m.stateAtLocked(now)
	if r.State == StateCircuitBroken {
		until := m.brokenUntil
		r.CircuitBrokenUntil = &until
	}
	if r.Daily.Date != now.UTC().Format(time.DateOnly) {
		r.Daily = DailyStats{Date: now.UTC().Format(time.DateOnly), StartEquity: snap.Equity}
	}
	if snap.Equity > 0 {
		r.Leverage = snap.Exposure / snap.Equity
		r.PortfolioHeat = portfolioRisk(snap.Positions) / snap.Equity * 100
	}

	winRate, ratio := m.oddsLocked()
	r.WinRate = winRate * 100
	r.WinLossRatio = ratio
	r.KellyFraction = KellyFraction(winRate, ratio)
	return r
}
