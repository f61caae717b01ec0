// Package backtest replays historical candles through the signal, strategy
// and risk pipeline and reports the resulting trades and equity curve.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/marketdata"
	"github.com/newthinker/tradecore/internal/metrics"
	"github.com/newthinker/tradecore/internal/performance"
	"github.com/newthinker/tradecore/internal/portfolio"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/signal"
	"github.com/newthinker/tradecore/internal/strategy"
)

// tradeNamespace seeds deterministic trade IDs.
var tradeNamespace = uuid.MustParse("6f1c9a52-3d0e-4b8f-9c57-2a41e8d0b7c3")

// maxSizeImpact caps the extra slippage a large order can add.
const maxSizeImpact = 0.01

// Backtester runs strategy backtests against historical data.
type Backtester struct {
	provider marketdata.Provider
	metrics  *metrics.Registry
	logger   *zap.Logger
}

// Option configures a Backtester.
type Option func(*Backtester)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backtester) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics records run counts and durations.
func WithMetrics(m *metrics.Registry) Option {
	return func(b *Backtester) { b.metrics = m }
}

// New creates a Backtester reading candles from provider.
func New(provider marketdata.Provider, opts ...Option) *Backtester {
	b := &Backtester{provider: provider, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run fetches candles for cfg and simulates them.
func (b *Backtester) Run(ctx context.Context, cfg Config) (*Result, error) {
	if b.provider == nil {
		return nil, core.WrapError(core.ErrConfigMissing, errors.New("backtest: no market data provider"))
	}
	cfg = cfg.withDefaults()
	candles, err := b.provider.FetchHistory(ctx, cfg.Symbol, cfg.Start, cfg.End, cfg.Interval)
	if err != nil {
		b.record("error", 0, 0)
		return nil, fmt.Errorf("fetching %s history: %w", cfg.Symbol, err)
	}
	return b.Simulate(ctx, cfg, candles)
}

// RunMany runs independent configs concurrently, at most parallelism at a
// time. Results keep the order of cfgs; a failed run leaves a nil entry and
// contributes to the joined error.
func (b *Backtester) RunMany(ctx context.Context, cfgs []Config, parallelism int) ([]*Result, error) {
	results := make([]*Result, len(cfgs))
	errs := make([]error, len(cfgs))

	var g errgroup.Group
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, cfg := range cfgs {
		g.Go(func() error {
			res, err := b.Run(ctx, cfg)
			if err != nil {
				errs[i] = fmt.Errorf("%s/%s: %w", cfg.Symbol, cfg.Strategy.Name, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// Simulate runs cfg over candles. It uses only candle timestamps, so the
// same inputs always produce the same Result.
func (b *Backtester) Simulate(ctx context.Context, cfg Config, candles []core.Candle) (*Result, error) {
	started := time.Now()
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		b.record("error", 0, 0)
		return nil, err
	}

	usable := b.usable(cfg, candles)
	if len(usable) < MinCandles {
		b.record("error", 0, 0)
		return nil, core.WrapError(core.ErrInsufficientData,
			fmt.Errorf("%s: %d usable candles, need %d", cfg.Symbol, len(usable), MinCandles))
	}

	sim, err := newSimulation(cfg, b.logger)
	if err != nil {
		return nil, err
	}
	for i, c := range usable {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				b.record("cancelled", time.Since(started).Seconds(), i)
				return nil, err
			}
		}
		sim.step(i, c)
	}
	res := sim.finish(usable[len(usable)-1])

	b.logger.Info("backtest complete",
		zap.String("symbol", cfg.Symbol),
		zap.String("strategy", cfg.Strategy.Name),
		zap.Int("candles", res.Candles),
		zap.Int("trades", len(res.Trades)),
		zap.Float64("return_pct", res.Stats.TotalReturn),
		zap.Float64("max_drawdown", res.Stats.MaxDrawdown),
	)
	b.record("success", time.Since(started).Seconds(), res.Candles)
	return res, nil
}

func (b *Backtester) record(status string, seconds float64, candles int) {
	if b.metrics != nil {
		b.metrics.RecordBacktest(status, seconds, candles)
	}
}

// usable keeps valid candles for the symbol inside the configured range,
// ordered by time.
func (b *Backtester) usable(cfg Config, candles []core.Candle) []core.Candle {
	var out []core.Candle
	for _, c := range marketdata.Between(marketdata.Normalize(candles), cfg.Start, cfg.End) {
		if c.Symbol != "" && c.Symbol != cfg.Symbol {
			continue
		}
		if err := c.Validate(); err != nil {
			b.logger.Warn("skipping invalid candle",
				zap.String("symbol", cfg.Symbol),
				zap.Time("time", c.Time()),
				zap.Error(err),
			)
			continue
		}
		out = append(out, c)
	}
	return out
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Symbol)
	if c.Interval == "" {
		c.Interval = d.Interval
	}
	if c.Strategy.Name == "" {
		c.Strategy = d.Strategy
	}
	if c.Limits == (risk.Limits{}) {
		c.Limits = d.Limits
	}
	if c.Aggregator.Weights.Sum() == 0 {
		c.Aggregator = d.Aggregator
	}
	return c
}

// simulation is the state of one run. It is never shared.
type simulation struct {
	cfg      Config
	agg      *signal.Aggregator
	book     *portfolio.Portfolio
	risk     *risk.Manager
	now      time.Time
	seq      int
	trades   []TradeRecord
	open     *TradeRecord
	equity   []EquityPoint
	signals  int
	rejected int
	logger   *zap.Logger
}

func newSimulation(cfg Config, logger *zap.Logger) (*simulation, error) {
	s := &simulation{
		cfg:    cfg,
		agg:    signal.NewAggregator(cfg.Strategy.Apply(cfg.Aggregator)),
		book:   portfolio.New(cfg.InitialBalance),
		logger: logger,
	}
	rm, err := risk.NewManager(cfg.Limits, s.book, risk.WithClock(func() time.Time { return s.now }))
	if err != nil {
		return nil, err
	}
	s.risk = rm
	return s, nil
}

func (s *simulation) step(i int, c core.Candle) {
	s.now = c.Time()
	sig, ready := s.agg.Update(c)
	if ready && sig.Type != core.SignalNeutral {
		s.signals++
	}
	s.risk.ObservePrice(s.cfg.Symbol, c.Close)
	s.book.Mark(s.cfg.Symbol, c.Close)

	if pos, open := s.book.Position(s.cfg.Symbol); open {
		var sp *signal.Signal
		if ready {
			sp = &sig
		}
		if reason, exit := s.cfg.Strategy.ShouldExit(pos, c.Close, sp); exit {
			s.exit(c, reason)
		}
	} else if ready && i >= s.cfg.Warmup && s.cfg.Strategy.Warrants(sig) {
		s.enter(c, sig)
	}

	snap := s.book.Snapshot()
	s.risk.ObserveEquity(snap.Equity)
	s.equity = append(s.equity, EquityPoint{
		Time:     s.now,
		Equity:   snap.Equity,
		Cash:     snap.Cash,
		Drawdown: snap.Drawdown,
	})
}

// slippage returns the fractional price impact for an order of notional
// size: the base rate plus a share of the candle's traded value.
func (s *simulation) slippage(notional float64, c core.Candle) float64 {
	impact := maxSizeImpact
	if traded := c.Volume * c.Close; traded > 0 {
		impact = math.Min(maxSizeImpact, s.cfg.SizeImpact*notional/traded)
	}
	return s.cfg.SlippageRate + impact
}

func (s *simulation) enter(c core.Candle, sig signal.Signal) {
	side, ok := core.SideFor(sig.Type)
	if !ok {
		return
	}
	params := s.cfg.Strategy.Risk
	equity, cash := s.book.Equity(), s.book.Cash()

	budget := risk.TargetNotional(equity, cash, sig.Confidence,
		params.RiskPerTradePercent, params.AssumedStopPercent, params.MaxPositionPercent)
	budget *= risk.VolatilityAdjustment(sig.Volatility)
	budget = math.Min(budget, cash/(1+s.cfg.CommissionRate))
	if budget <= 0 {
		return
	}

	slip := s.slippage(budget, c)
	fill := c.Close * (1 + side.Sign()*slip)
	qty := budget / fill

	req := risk.TradeRequest{
		Symbol:     s.cfg.Symbol,
		Side:       side,
		Quantity:   qty,
		Price:      fill,
		ATR:        sig.ATR,
		Volatility: sig.Volatility,
	}
	v := s.risk.ValidateTrade(req)
	if !v.Approved {
		s.rejected++
		s.logger.Debug("entry rejected",
			zap.String("symbol", s.cfg.Symbol),
			zap.Time("time", s.now),
			zap.Strings("failed", v.FailedNames()),
		)
		return
	}

	commission := qty * fill * s.cfg.CommissionRate
	pos, err := s.book.Open(portfolio.Position{
		ID:              s.tradeID(),
		Symbol:          s.cfg.Symbol,
		Side:            side,
		Quantity:        qty,
		EntryPrice:      fill,
		EntryCommission: commission,
		OpenedAt:        s.now,
	})
	if err != nil {
		s.logger.Debug("entry not filled", zap.String("symbol", s.cfg.Symbol), zap.Error(err))
		return
	}
	s.open = &TradeRecord{
		ID:              pos.ID,
		Status:          TradeOpen,
		Symbol:          pos.Symbol,
		Side:            pos.Side,
		Quantity:        pos.Quantity,
		EntryTime:       pos.OpenedAt,
		EntryPrice:      pos.EntryPrice,
		StopLoss:        v.RecommendedStopLoss,
		Commission:      pos.EntryCommission,
		Slippage:        qty * math.Abs(fill-c.Close),
		EntryConfidence: sig.Confidence,
		RiskScore:       v.RiskScore,
	}
}

func (s *simulation) exit(c core.Candle, reason strategy.ExitReason) {
	pos, ok := s.book.Position(s.cfg.Symbol)
	if !ok {
		return
	}
	slip := s.slippage(pos.Quantity*c.Close, c)
	fill := c.Close * (1 - pos.Side.Sign()*slip)
	commission := pos.Quantity * fill * s.cfg.CommissionRate

	closed, err := s.book.Close(s.cfg.Symbol, fill, commission, s.now)
	if err != nil {
		return
	}
	s.risk.RecordTradeClose(closed)

	t := s.open
	if t == nil || t.ID != closed.ID {
		t = &TradeRecord{
			ID:         closed.ID,
			Symbol:     closed.Symbol,
			Side:       closed.Side,
			Quantity:   closed.Quantity,
			EntryTime:  closed.OpenedAt,
			EntryPrice: closed.EntryPrice,
		}
	}
	s.open = nil
	t.Status = TradeClosed
	t.ExitTime = closed.ClosedAt
	t.ExitPrice = closed.ExitPrice
	t.Commission = closed.Commission()
	t.Slippage += closed.Quantity * math.Abs(fill-c.Close)
	t.PnL = closed.RealizedPnL
	t.PnLPercent = closed.PnLPercent
	t.ExitReason = reason
	s.trades = append(s.trades, *t)
}

// finish closes anything still open at the last close and computes stats.
func (s *simulation) finish(last core.Candle) *Result {
	if s.book.HasPosition(s.cfg.Symbol) {
		s.exit(last, strategy.ExitEndOfData)
		snap := s.book.Snapshot()
		s.equity[len(s.equity)-1] = EquityPoint{
			Time:     s.now,
			Equity:   snap.Equity,
			Cash:     snap.Cash,
			Drawdown: snap.Drawdown,
		}
	}

	pnls := make([]float64, len(s.trades))
	for i, t := range s.trades {
		pnls[i] = t.PnL
	}
	curve := make([]float64, 0, len(s.equity)+1)
	curve = append(curve, s.cfg.InitialBalance)
	for _, p := range s.equity {
		curve = append(curve, p.Equity)
	}

	return &Result{
		Config:       s.cfg,
		Candles:      len(s.equity),
		Signals:      s.signals,
		Rejected:     s.rejected,
		FinalBalance: s.book.Equity(),
		Trades:       s.trades,
		EquityCurve:  s.equity,
		Stats:        performance.Compute(pnls, curve, s.cfg.RiskFreeRate),
	}
}

// tradeID derives a stable ID from the run and the entry sequence.
func (s *simulation) tradeID() string {
	s.seq++
	key := fmt.Sprintf("%s|%s|%d|%d", s.cfg.Symbol, s.cfg.Strategy.Name, s.now.UnixNano(), s.seq)
	return uuid.NewSHA1(tradeNamespace, []byte(key)).String()
}
