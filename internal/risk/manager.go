package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/events"
	"github.com/newthinker/tradecore/internal/performance"
	"github.com/newthinker/tradecore/internal/portfolio"
	"go.uber.org/zap"
)

const (
	// tolerance absorbs rounding when a size sits exactly on a limit.
	tolerance = 1e-9

	minCorrelationSamples = 20
	maxPriceReturns       = 100
	maxEquityReturns      = 500
	maxTradeHistory       = 100
	maxAlerts             = 50
)

// PortfolioView is the read access the manager needs.
type PortfolioView interface {
	Snapshot() portfolio.Snapshot
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source. Backtests pass the simulated candle time.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPublisher sets where alerts and breaker transitions are published.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager validates trades and tracks loss state. It is safe for
// concurrent use; all mutations happen under one lock.
type Manager struct {
	mu     sync.Mutex
	limits Limits
	view   PortfolioView

	state             State
	brokenUntil       time.Time
	consecutiveLosses int
	daily             DailyStats

	tradePnLs    []float64
	priceReturns map[string][]float64
	lastPrice    map[string]float64
	lastEquity   float64
	equityReturn []float64
	alerts       []Alert

	now       func() time.Time
	publisher events.Publisher
	logger    *zap.Logger
}

// NewManager creates a manager over view. Limits must be valid.
func NewManager(limits Limits, view PortfolioView, opts ...Option) (*Manager, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if view == nil {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("risk manager: portfolio view is required"))
	}
	m := &Manager{
		limits:       limits,
		view:         view,
		state:        StateNormal,
		priceReturns: make(map[string][]float64),
		lastPrice:    make(map[string]float64),
		now:          time.Now,
		publisher:    events.Discard,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Limits returns the configured limits.
func (m *Manager) Limits() Limits {
	return m.limits
}

// ValidateTrade runs every check in order. The trade is approved only if
// none fails. Validation is a normal outcome, not an error.
func (m *Manager) ValidateTrade(req TradeRequest) Validation {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	snap := m.view.Snapshot()
	m.rolloverLocked(now, snap.Equity)
	m.refreshBreakerLocked(now)

	equity := snap.Equity
	notional := req.Notional()
	long := req.Side != core.SideShort

	stop := req.StopLoss
	if stop <= 0 {
		stop = RecommendStopLoss(long, req.Price, req.ATR)
	}
	tradeRisk := req.Quantity * math.Abs(req.Price-stop)

	pct := func(v float64) float64 {
		if equity <= 0 {
			return math.Inf(1)
		}
		return v / equity * 100
	}

	positionPct := pct(notional)
	heatPct := pct(portfolioRisk(snap.Positions) + tradeRisk)
	projectedLoss := m.daily.LossPercent() + pct(tradeRisk)
	corrPct := pct(m.correlatedExposureLocked(req.Symbol, notional, snap.Positions))
	leverage := math.Inf(1)
	if equity > 0 {
		leverage = (snap.Exposure + notional) / equity
	}

	checks := make([]Check, 0, 8)
	add := func(name CheckName, value, limit float64, sev Severity, failMsg string) Check {
		c := Check{Name: name, Status: StatusPassed, Severity: sev, Value: value, Limit: limit}
		if value > limit+tolerance {
			c.Status = StatusFailed
			c.Reason = failMsg
		}
		checks = append(checks, c)
		return c
	}

	sizeCheck := add(CheckPositionSize, positionPct, m.limits.MaxPositionSizePercent, SeverityHigh,
		fmt.Sprintf("position %.2f%% of equity exceeds %.2f%%", positionPct, m.limits.MaxPositionSizePercent))
	add(CheckPortfolioHeat, heatPct, m.limits.MaxPortfolioHeat, SeverityMedium,
		fmt.Sprintf("portfolio heat %.2f%% exceeds %.2f%%", heatPct, m.limits.MaxPortfolioHeat))
	add(CheckDailyLoss, projectedLoss, m.limits.MaxDailyLossPercent, SeverityHigh,
		fmt.Sprintf("projected daily loss %.2f%% exceeds %.2f%%", projectedLoss, m.limits.MaxDailyLossPercent))
	add(CheckCorrelation, corrPct, m.limits.MaxCorrelationExposure, SeverityMedium,
		fmt.Sprintf("correlated exposure %.2f%% exceeds %.2f%%", corrPct, m.limits.MaxCorrelationExposure))

	volAdj := VolatilityAdjustment(req.Volatility)
	if !sizeCheck.Passed() {
		checks = append(checks, Check{
			Name:     CheckVolatilitySize,
			Status:   StatusSkipped,
			Reason:   "position size limit already exceeded",
			Severity: SeverityMedium,
		})
	} else {
		allowed := m.limits.MaxPositionSizePercent * volAdj
		c := add(CheckVolatilitySize, positionPct, allowed, SeverityMedium,
			fmt.Sprintf("position %.2f%% exceeds volatility-adjusted %.2f%%", positionPct, allowed))
		if c.Passed() && req.Volatility > m.limits.MaxVolatility {
			checks[len(checks)-1].Status = StatusFailed
			checks[len(checks)-1].Reason = fmt.Sprintf("volatility %.2f%% exceeds %.2f%%", req.Volatility, m.limits.MaxVolatility)
		}
	}

	cb := Check{Name: CheckCircuitBreaker, Status: StatusPassed, Severity: SeverityCritical,
		Value: float64(m.consecutiveLosses), Limit: float64(m.limits.MaxConsecutiveLosses)}
	if m.state == StateCircuitBroken {
		cb.Status = StatusFailed
		cb.Reason = fmt.Sprintf("circuit breaker active until %s", m.brokenUntil.Format(time.RFC3339))
	}
	checks = append(checks, cb)

	add(CheckDrawdown, snap.Drawdown, m.limits.MaxDrawdownPercent, SeverityCritical,
		fmt.Sprintf("drawdown %.2f%% exceeds %.2f%%", snap.Drawdown, m.limits.MaxDrawdownPercent))
	add(CheckLeverage, leverage, m.limits.MaxLeverage, SeverityHigh,
		fmt.Sprintf("leverage %.2fx exceeds %.2fx", leverage, m.limits.MaxLeverage))

	v := Validation{
		Approved:            true,
		Checks:              checks,
		RiskScore:           m.riskScore(positionPct, req.Volatility, corrPct, heatPct),
		RecommendedSize:     m.recommendSizeLocked(equity, req, volAdj),
		RecommendedStopLoss: stop,
	}
	for _, c := range checks {
		if c.Status == StatusFailed {
			v.Approved = false
			break
		}
	}

	m.logger.Debug("trade validated",
		zap.String("symbol", req.Symbol),
		zap.Bool("approved", v.Approved),
		zap.Float64("risk_score", v.RiskScore),
		zap.Strings("failed", v.FailedNames()),
	)
	return v
}

// riskScore weights position size 30%, volatility 25%, correlation 20%
// and heat 25%, each as a fraction of its limit, into 0-100.
func (m *Manager) riskScore(positionPct, volatility, corrPct, heatPct float64) float64 {
	component := func(v, limit float64) float64 {
		if limit <= 0 || math.IsInf(v, 0) {
			return 100
		}
		return math.Max(0, math.Min(100, v/limit*100))
	}
	return 0.30*component(positionPct, m.limits.MaxPositionSizePercent) +
		0.25*component(volatility, m.limits.MaxVolatility) +
		0.20*component(corrPct, m.limits.MaxCorrelationExposure) +
		0.25*component(heatPct, m.limits.MaxPortfolioHeat)
}

// RecommendSize returns the Kelly-based quantity for req.
func (m *Manager) RecommendSize(req TradeRequest) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recommendSizeLocked(m.view.Snapshot().Equity, req, VolatilityAdjustment(req.Volatility))
}

// recommendSizeLocked is equity*kelly*volAdj/price, bounded by the
// requested quantity, any exchange cap and the leverage limit.
func (m *Manager) recommendSizeLocked(equity float64, req TradeRequest, volAdj float64) float64 {
	if equity <= 0 || req.Price <= 0 {
		return 0
	}
	winRate, ratio := m.oddsLocked()
	size := equity * KellyFraction(winRate, ratio) * volAdj / req.Price
	if req.Quantity > 0 {
		size = math.Min(size, req.Quantity)
	}
	if req.MaxQuantity > 0 {
		size = math.Min(size, req.MaxQuantity)
	}
	return math.Min(size, equity*m.limits.MaxLeverage/req.Price)
}

// oddsLocked returns win rate and average win/loss ratio, falling back to
// defaults until enough trades have closed.
func (m *Manager) oddsLocked() (winRate, ratio float64) {
	if len(m.tradePnLs) < kellyMinTrades {
		return defaultWinRate, defaultWinLossRatio
	}
	s := performance.TradeStats(m.tradePnLs)
	if s.AverageLoss == 0 || s.AverageWin == 0 {
		return defaultWinRate, defaultWinLossRatio
	}
	return s.WinRate / 100, s.AverageWin / s.AverageLoss
}

func portfolioRisk(positions []portfolio.Position) float64 {
	var total float64
	for _, p := range positions {
		stop := p.StopLoss
		if stop <= 0 {
			stop = RecommendStopLoss(p.Side == core.SideLong, p.CurrentPrice, 0)
		}
		total += p.Quantity * math.Abs(p.CurrentPrice-stop)
	}
	return total
}

// correlatedExposureLocked sums the notional of open positions whose
// returns correlate with symbol above the threshold, plus the new trade
// when any such position exists.
func (m *Manager) correlatedExposureLocked(symbol string, notional float64, positions []portfolio.Position) float64 {
	var exposure float64
	for _, p := range positions {
		if p.Symbol == symbol {
			continue
		}
		rho := correlation(m.priceReturns[symbol], m.priceReturns[p.Symbol])
		if math.Abs(rho) >= m.limits.CorrelationThreshold {
			exposure += p.Notional()
		}
	}
	if exposure > 0 {
		exposure += notional
	}
	return exposure
}

// correlation is the Pearson coefficient over the most recent common
// samples, or 0 with too few.
func correlation(a, b []float64) float64 {
	n := min(len(a), len(b))
	if n < minCorrelationSamples {
		return 0
	}
	a, b = a[len(a)-n:], b[len(b)-n:]
	var ma, mb float64
	for i := 0; i < n; i++ {
		ma += a[i]
		mb += b[i]
	}
	ma /= float64(n)
	mb /= float64(n)
	var cov, va, vb float64
	for i := 0; i < n; i++ {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	return cov / math.Sqrt(va*vb)
}

// ObservePrice records a close for correlation tracking.
func (m *Manager) ObservePrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.lastPrice[symbol]; ok {
		r := append(m.priceReturns[symbol], (price-prev)/prev)
		if over := len(r) - maxPriceReturns; over > 0 {
			r = append(r[:0], r[over:]...)
		}
		m.priceReturns[symbol] = r
	}
	m.lastPrice[symbol] = price
}

// ObserveEquity records an equity sample for VaR.
func (m *Manager) ObserveEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastEquity > 0 {
		m.equityReturn = append(m.equityReturn, (equity-m.lastEquity)/m.lastEquity)
		if over := len(m.equityReturn) - maxEquityReturns; over > 0 {
			m.equityReturn = append(m.equityReturn[:0], m.equityReturn[over:]...)
		}
	}
	m.lastEquity = equity
}

// rolloverLocked starts a new day when the date changes.
func (m *Manager) rolloverLocked(now time.Time, equity float64) {
	date := now.UTC().Format(time.DateOnly)
	if m.daily.Date == date {
		return
	}
	if m.daily.Date != "" {
		m.logger.Info("daily risk counters reset",
			zap.String("previous", m.daily.Date),
			zap.Float64("realized_pnl", m.daily.RealizedPnL),
			zap.Int("trades", m.daily.Trades),
		)
	}
	m.daily = DailyStats{Date: date, StartEquity: equity}
}

// DailyStats returns the current day's counters.
func (m *Manager) DailyStats() DailyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.daily
}

// ConsecutiveLosses returns the current losing streak.
func (m *Manager) ConsecutiveLosses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveLosses
}
