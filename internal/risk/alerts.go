package risk

import (
	"fmt"
	"math"

	"github.com/newthinker/tradecore/internal/events"
	"github.com/newthinker/tradecore/internal/portfolio"
	"go.uber.org/zap"
)

// RecordTradeClose updates loss counters and daily P&L from a closed
// position, trips the breaker on a long enough losing streak, and returns
// alerts for every metric at or past the early-warning threshold.
func (m *Manager) RecordTradeClose(closed portfolio.Closed) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	snap := m.view.Snapshot()
	m.rolloverLocked(now, snap.Equity-closed.RealizedPnL)

	pnl := closed.RealizedPnL
	m.daily.RealizedPnL += pnl
	m.daily.Trades++
	switch {
	case pnl < 0:
		m.daily.Losses++
		m.consecutiveLosses++
	case pnl > 0:
		m.daily.Wins++
		m.consecutiveLosses = 0
	}

	m.tradePnLs = append(m.tradePnLs, pnl)
	if over := len(m.tradePnLs) - maxTradeHistory; over > 0 {
		m.tradePnLs = append(m.tradePnLs[:0], m.tradePnLs[over:]...)
	}

	if m.state == StateNormal && m.consecutiveLosses >= m.limits.MaxConsecutiveLosses {
		m.tripLocked(now, fmt.Sprintf("%d consecutive losing trades", m.consecutiveLosses))
	}

	alerts := m.evaluateAlertsLocked(snap)
	for _, a := range alerts {
		m.publisher.Publish(events.RiskAlert{
			At:       a.Time,
			Metric:   a.Metric,
			Severity: string(a.Severity),
			Value:    a.Value,
			Limit:    a.Limit,
			Message:  a.Message,
		})
	}
	m.alerts = append(m.alerts, alerts...)
	if over := len(m.alerts) - maxAlerts; over > 0 {
		m.alerts = append(m.alerts[:0], m.alerts[over:]...)
	}
	return alerts
}

func (m *Manager) evaluateAlertsLocked(snap portfolio.Snapshot) []Alert {
	leverage := 0.0
	heat := 0.0
	if snap.Equity > 0 {
		leverage = snap.Exposure / snap.Equity
		heat = portfolioRisk(snap.Positions) / snap.Equity * 100
	}

	metrics := []struct {
		name  string
		value float64
		limit float64
	}{
		{"daily_loss", m.daily.LossPercent(), m.limits.MaxDailyLossPercent},
		{"drawdown", snap.Drawdown, m.limits.MaxDrawdownPercent},
		{"consecutive_losses", float64(m.consecutiveLosses), float64(m.limits.MaxConsecutiveLosses)},
		{"portfolio_heat", heat, m.limits.MaxPortfolioHeat},
		{"leverage", leverage, m.limits.MaxLeverage},
	}

	now := m.now()
	var alerts []Alert
	for _, mt := range metrics {
		sev, ok := m.alertSeverity(mt.value, mt.limit)
		if !ok {
			continue
		}
		a := Alert{
			Time:     now,
			Metric:   mt.name,
			Severity: sev,
			Value:    mt.value,
			Limit:    mt.limit,
			Message:  fmt.Sprintf("%s at %.0f%% of limit (%.2f / %.2f)", mt.name, mt.value/mt.limit*100, mt.value, mt.limit),
		}
		m.logger.Warn("risk alert",
			zap.String("metric", a.Metric),
			zap.String("severity", string(a.Severity)),
			zap.Float64("value", a.Value),
			zap.Float64("limit", a.Limit),
		)
		alerts = append(alerts, a)
	}
	return alerts
}

// alertSeverity grades value/limit: medium from the alert threshold,
// high from 80%, critical at or past the limit.
func (m *Manager) alertSeverity(value, limit float64) (Severity, bool) {
	if limit <= 0 || value <= 0 || math.IsNaN(value) {
		return "", false
	}
	ratio := value / limit
	switch {
	case ratio >= 1:
		return SeverityCritical, true
	case ratio >= math.Max(0.8, m.limits.AlertThreshold):
		return SeverityHigh, true
	case ratio >= m.limits.AlertThreshold:
		return SeverityMedium, true
	default:
		return "", false
	}
}
