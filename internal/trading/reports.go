package trading

import (
	"sort"

	"github.com/newthinker/tradecore/internal/performance"
	"github.com/newthinker/tradecore/internal/portfolio"
	"github.com/newthinker/tradecore/internal/risk"
)

// GenerateRiskReport returns the risk manager's current report.
func (e *Engine) GenerateRiskReport() risk.Report {
	return e.risk.GenerateReport()
}

// GeneratePerformanceReport summarizes closed trades and the equity
// observed so far.
func (e *Engine) GeneratePerformanceReport() PerformanceReport {
	snap := e.book.Snapshot()

	e.mu.Lock()
	pnls := make([]float64, len(e.trades))
	for i, t := range e.trades {
		pnls[i] = t.PnL
	}
	equity := make([]float64, len(e.equity))
	copy(equity, e.equity)
	daily := e.daily
	e.mu.Unlock()

	return PerformanceReport{
		Time:          e.clock(),
		Equity:        snap.Equity,
		Cash:          snap.Cash,
		RealizedPnL:   snap.RealizedPnL,
		OpenPositions: snap.Positions,
		ClosedTrades:  len(pnls),
		Daily:         daily,
		Stats:         performance.Compute(pnls, equity, e.cfg.RiskFreeRate),
	}
}

// GetActivePositions returns the open positions sorted by symbol.
func (e *Engine) GetActivePositions() []portfolio.Position {
	return e.book.Positions()
}

// Trades returns completed trades in close order.
func (e *Engine) Trades() []Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

// OpenTrades returns the trades whose positions are still open, sorted by
// symbol.
func (e *Engine) OpenTrades() []Trade {
	e.mu.Lock()
	out := make([]Trade, 0, len(e.open))
	for _, t := range e.open {
		out = append(out, *t)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Daily returns today's counters.
func (e *Engine) Daily() DailyCounters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.daily
}
