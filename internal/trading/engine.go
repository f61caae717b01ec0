// Package trading runs the live loop: each candle flows through the signal
// aggregator, an optional advisor, the strategy rules and the risk manager
// before an order reaches the executor.
package trading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/advisor"
	"github.com/newthinker/tradecore/internal/broker"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/events"
	"github.com/newthinker/tradecore/internal/metrics"
	"github.com/newthinker/tradecore/internal/portfolio"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/signal"
	"github.com/newthinker/tradecore/internal/strategy"
)

// maxEquityHistory bounds the equity samples kept for performance reports.
const maxEquityHistory = 10000

// priceSink is implemented by executors that fill against a local price.
type priceSink interface {
	SetPrice(symbol string, price float64)
}

// Engine is the live trading orchestrator. OnCandle may be called from
// several goroutines; candles for the same symbol are processed one at a
// time.
type Engine struct {
	cfg        Config
	exec       broker.Executor
	book       *portfolio.Portfolio
	risk       *risk.Manager
	strategies *strategy.Registry
	agg        *signal.Aggregator
	aggCfg     signal.Config
	advisor    advisor.Advisor
	publisher  events.Publisher
	metrics    *metrics.Registry
	clock      func() time.Time
	candles    *CandleClock
	logger     *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mu         sync.Mutex
	configured map[string]bool
	history    map[string][]core.Candle
	open       map[string]*Trade // by symbol
	trades     []Trade
	orders     map[string]*restingOrder // by order ID
	equity     []float64
	daily      DailyCounters
	stopped    bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrategies sets the strategy registry. The default registry holds
// the presets.
func WithStrategies(r *strategy.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.strategies = r
		}
	}
}

// WithAggregatorConfig sets the base aggregator config each strategy
// narrows.
func WithAggregatorConfig(cfg signal.Config) Option {
	return func(e *Engine) { e.aggCfg = cfg }
}

// WithAdvisor enables blending advisory signals.
func WithAdvisor(a advisor.Advisor) Option {
	return func(e *Engine) { e.advisor = a }
}

// WithPublisher sets where events go.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithMetrics updates portfolio gauges after each candle.
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.clock = now
		}
	}
}

// WithCandleClock drives the engine clock from candle times. Share cc
// with the risk manager and executor when replaying history.
func WithCandleClock(cc *CandleClock) Option {
	return func(e *Engine) {
		if cc != nil {
			e.candles = cc
			e.clock = cc.Now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an engine trading book through exec, gated by rm.
func New(cfg Config, exec broker.Executor, book *portfolio.Portfolio, rm *risk.Manager, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if exec == nil || book == nil || rm == nil {
		return nil, core.WrapError(core.ErrConfigMissing, errors.New("trading: executor, portfolio and risk manager are required"))
	}
	e := &Engine{
		cfg:        cfg,
		exec:       exec,
		book:       book,
		risk:       rm,
		aggCfg:     signal.DefaultConfig(),
		publisher:  events.Discard,
		clock:      time.Now,
		logger:     zap.NewNop(),
		locks:      make(map[string]*sync.Mutex),
		configured: make(map[string]bool),
		history:    make(map[string][]core.Candle),
		open:       make(map[string]*Trade),
		orders:     make(map[string]*restingOrder),
		equity:     []float64{book.Equity()},
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.aggCfg.Validate(); err != nil {
		return nil, err
	}
	if e.strategies == nil {
		e.strategies = strategy.NewDefaultRegistry(e.logger)
	}
	e.agg = signal.NewAggregator(e.aggCfg, e.logger)
	return e, nil
}

func (e *Engine) symbolLock(symbol string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.locks[symbol] = l
	}
	return l
}

// OnCandle runs one evaluation pass for c and reports what happened.
func (e *Engine) OnCandle(ctx context.Context, c core.Candle) Decision {
	l := e.symbolLock(c.Symbol)
	l.Lock()
	defer l.Unlock()

	if e.candles != nil && c.Validate() == nil {
		e.candles.Advance(c.Time())
	}
	now := e.clock()
	d := Decision{Symbol: c.Symbol, Time: now, Action: ActionNone}
	if err := c.Validate(); err != nil {
		d.Action, d.Reason, d.Err = ActionSkipped, "invalid candle", err
		return d
	}

	def, err := e.strategies.ForSymbol(c.Symbol)
	if err != nil {
		d.Action, d.Reason, d.Err = ActionSkipped, "no strategy", err
		return d
	}

	e.mu.Lock()
	stopped := e.stopped
	e.rolloverLocked(now)
	e.recordCandleLocked(c, def)
	e.mu.Unlock()

	if ps, ok := e.exec.(priceSink); ok {
		ps.SetPrice(c.Symbol, c.Close)
	}
	sig, ready := e.agg.Update(c)
	waiting := e.reconcile(ctx, c.Symbol)
	e.risk.ObservePrice(c.Symbol, c.Close)
	e.book.Mark(c.Symbol, c.Close)
	defer e.afterCandle()

	if stopped {
		d.Action, d.Reason, d.Err = ActionSkipped, "engine stopped", core.ErrEngineStopped
		return d
	}
	if !ready {
		d.Reason = "indicators warming up"
		return d
	}
	d.Signal = &sig
	if sig.Type != core.SignalNeutral {
		e.publisher.Publish(events.SignalGenerated{
			At:         now,
			Symbol:     c.Symbol,
			Signal:     string(sig.Type),
			Confidence: sig.Confidence,
			Price:      c.Close,
			Regime:     string(sig.Regime),
		})
	}
	if waiting != nil {
		d.Action, d.Reason = ActionSkipped, waiting.kind()+" order still resting"
		return d
	}

	if pos, ok := e.book.Position(c.Symbol); ok {
		reason, exit := def.ShouldExit(pos, c.Close, &sig)
		if !exit {
			d.Reason = "holding"
			return d
		}
		return e.closePosition(ctx, d, pos, reason)
	}
	return e.considerEntry(ctx, d, c, def, sig)
}

// recordCandleLocked configures new symbols and keeps recent history.
func (e *Engine) recordCandleLocked(c core.Candle, def strategy.Definition) {
	if !e.configured[c.Symbol] {
		e.agg.Configure(c.Symbol, def.Apply(e.aggCfg))
		e.configured[c.Symbol] = true
	}
	if e.cfg.HistorySize == 0 {
		return
	}
	h := append(e.history[c.Symbol], c)
	if over := len(h) - e.cfg.HistorySize; over > 0 {
		h = append(h[:0], h[over:]...)
	}
	e.history[c.Symbol] = h
}

func (e *Engine) rolloverLocked(now time.Time) {
	date := now.UTC().Format(time.DateOnly)
	if e.daily.Date == date {
		return
	}
	e.daily = DailyCounters{Date: date, StartEquity: e.book.Equity()}
}

func (e *Engine) afterCandle() {
	snap := e.book.Snapshot()
	e.risk.ObserveEquity(snap.Equity)

	e.mu.Lock()
	e.equity = append(e.equity, snap.Equity)
	if over := len(e.equity) - maxEquityHistory; over > 0 {
		e.equity = append(e.equity[:0], e.equity[over:]...)
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.SetPortfolio(snap.Equity, snap.Drawdown, len(snap.Positions))
	}
}

func (e *Engine) considerEntry(ctx context.Context, d Decision, c core.Candle, def strategy.Definition, sig signal.Signal) Decision {
	blended := sig
	if e.advisor != nil && sig.Type != core.SignalNeutral {
		advice, err := e.advisor.Advise(ctx, advisor.Request{Symbol: c.Symbol, Signal: sig, Candles: e.recentCandles(c.Symbol)})
		if err != nil {
			e.logger.Warn("advisor unavailable, using technical signal",
				zap.String("symbol", c.Symbol),
				zap.Error(err),
			)
		} else {
			d.Advice = advice
			blended = advisor.Blend(sig, advice, e.cfg.Weights)
		}
	}
	d.Signal = &blended

	if blended.Type == core.SignalNeutral || blended.Confidence < e.cfg.MinConfidence || !def.Warrants(blended) {
		d.Reason = "no entry signal"
		return d
	}
	side, _ := core.SideFor(blended.Type)

	day, full := e.reserveTrade()
	if full != "" {
		d.Action, d.Reason = ActionSkipped, full
		return d
	}
	reserved := true
	defer func() {
		if reserved {
			e.releaseTrade(day)
		}
	}()

	params := def.Risk
	equity, cash := e.book.Equity(), e.book.Cash()
	budget := risk.TargetNotional(equity, cash, blended.Confidence,
		params.RiskPerTradePercent, params.AssumedStopPercent, params.MaxPositionPercent)
	budget *= risk.VolatilityAdjustment(blended.Volatility)
	budget = math.Min(budget, cash/(1+e.cfg.CommissionRate))
	qty := broker.RoundQuantity(budget/c.Close, e.cfg.QuantityStep)
	if qty <= 0 {
		d.Action, d.Reason = ActionSkipped, "position size rounds to zero"
		return d
	}

	v := e.risk.ValidateTrade(risk.TradeRequest{
		Symbol:     c.Symbol,
		Side:       side,
		Quantity:   qty,
		Price:      c.Close,
		ATR:        blended.ATR,
		Volatility: blended.Volatility,
	})
	d.Validation = &v
	if !v.Approved {
		d.Action, d.Reason = ActionRejected, v.Reason()
		e.publisher.Publish(events.TradeRejected{
			At:           d.Time,
			Symbol:       c.Symbol,
			Signal:       string(blended.Type),
			Confidence:   blended.Confidence,
			Reason:       d.Reason,
			FailedChecks: v.FailedNames(),
		})
		e.logger.Info("trade rejected",
			zap.String("symbol", c.Symbol),
			zap.Strings("failed", v.FailedNames()),
		)
		return d
	}

	res, err := e.place(ctx, c.Symbol, broker.OpenSide(side), qty)
	if err != nil {
		return e.failed(d, err)
	}
	entry := pendingEntry{
		side:       side,
		strategy:   def.Name,
		confidence: blended.Confidence,
		stopLoss:   v.RecommendedStopLoss,
		riskScore:  v.RiskScore,
	}
	if !res.IsFilled() {
		if res.IsOpen() {
			// the slot stays taken until the order settles
			reserved = false
			e.track(&restingOrder{id: res.OrderID, symbol: c.Symbol, entry: &entry, day: day})
		}
		d.Action, d.Reason = ActionSkipped, fmt.Sprintf("order %s %s", res.OrderID, res.Status)
		return d
	}

	t, err := e.bookEntry(d.Time, c.Symbol, res, entry)
	if err != nil {
		return e.failed(d, err)
	}
	reserved = false
	d.Action, d.Trade = ActionOpened, t
	return d
}

// reserveTrade claims one of today's trade slots. When none is left it
// returns the reason instead.
func (e *Engine) reserveTrade() (day, full string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.daily.Trades >= e.cfg.MaxDailyTrades:
		return "", fmt.Sprintf("daily trade limit %d reached", e.cfg.MaxDailyTrades)
	case e.daily.LossPercent() >= e.cfg.MaxDailyLossPercent:
		return "", fmt.Sprintf("daily loss %.2f%% at limit %.2f%%", e.daily.LossPercent(), e.cfg.MaxDailyLossPercent)
	}
	e.daily.Trades++
	return e.daily.Date, ""
}

// releaseTrade gives back a slot taken by reserveTrade on day.
func (e *Engine) releaseTrade(day string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.daily.Date == day && e.daily.Trades > 0 {
		e.daily.Trades--
	}
}

// bookEntry opens the position for a filled entry order and records the
// trade as open.
func (e *Engine) bookEntry(at time.Time, symbol string, res *broker.OrderResult, entry pendingEntry) (*Trade, error) {
	pos, err := e.book.Open(portfolio.Position{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		Side:            entry.side,
		Quantity:        res.FilledQuantity,
		EntryPrice:      res.AveragePrice,
		EntryCommission: res.Commission,
		OpenedAt:        at,
	})
	if err != nil {
		e.logger.Error("filled order could not be booked",
			zap.String("symbol", symbol),
			zap.String("order_id", res.OrderID),
			zap.Error(err),
		)
		return nil, err
	}

	t := &Trade{
		ID:           pos.ID,
		Status:       TradeOpen,
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		Quantity:     pos.Quantity,
		EntryTime:    pos.OpenedAt,
		EntryPrice:   pos.EntryPrice,
		StopLoss:     entry.stopLoss,
		Commission:   pos.EntryCommission,
		Strategy:     entry.strategy,
		Confidence:   entry.confidence,
		EntryOrderID: res.OrderID,
	}
	e.mu.Lock()
	e.open[symbol] = t
	cp := *t
	e.mu.Unlock()

	e.publisher.Publish(events.TradeOpened{
		At:         at,
		TradeID:    cp.ID,
		Symbol:     cp.Symbol,
		Side:       string(cp.Side),
		Quantity:   cp.Quantity,
		Price:      cp.EntryPrice,
		Commission: cp.Commission,
		StopLoss:   cp.StopLoss,
	})
	e.logger.Info("position opened",
		zap.String("symbol", cp.Symbol),
		zap.String("side", string(cp.Side)),
		zap.Float64("quantity", cp.Quantity),
		zap.Float64("price", cp.EntryPrice),
		zap.Float64("confidence", cp.Confidence),
		zap.Float64("risk_score", entry.riskScore),
	)
	return &cp, nil
}

// place submits a market order.
func (e *Engine) place(ctx context.Context, symbol string, side broker.OrderSide, qty float64) (*broker.OrderResult, error) {
	res, err := e.exec.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          broker.OrderTypeMarket,
		Quantity:      qty,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		e.publisher.Publish(events.OrderFailed{
			At:       e.clock(),
			Symbol:   symbol,
			Side:     string(side),
			Quantity: qty,
			Error:    err.Error(),
		})
		return nil, core.WrapError(core.ErrOrderFailed, fmt.Errorf("%s %s %v: %w", side, symbol, qty, err))
	}
	return res, nil
}

func (e *Engine) failed(d Decision, err error) Decision {
	e.logger.Warn("trade not executed",
		zap.String("symbol", d.Symbol),
		zap.Error(err),
	)
	d.Action, d.Reason, d.Err = ActionExecutionFailed, err.Error(), err
	return d
}

func (e *Engine) closePosition(ctx context.Context, d Decision, pos portfolio.Position, reason strategy.ExitReason) Decision {
	t, err := e.exit(ctx, pos, reason)
	if errors.Is(err, errOrderResting) {
		d.Action, d.Reason = ActionSkipped, err.Error()
		return d
	}
	if err != nil {
		return e.failed(d, err)
	}
	d.Action, d.Reason, d.Trade = ActionClosed, string(reason), t
	return d
}

// exit flattens pos with a market order and books the result. An exit
// order that rests is tracked until it settles.
func (e *Engine) exit(ctx context.Context, pos portfolio.Position, reason strategy.ExitReason) (*Trade, error) {
	res, err := e.place(ctx, pos.Symbol, broker.CloseSide(pos.Side), pos.Quantity)
	if err != nil {
		return nil, err
	}
	if !res.IsFilled() {
		if res.IsOpen() {
			e.track(&restingOrder{id: res.OrderID, symbol: pos.Symbol, reason: reason})
			return nil, fmt.Errorf("exit order %s %s: %w", res.OrderID, res.Status, errOrderResting)
		}
		return nil, core.WrapError(core.ErrOrderFailed, fmt.Errorf("exit order %s %s", res.OrderID, res.Status))
	}
	return e.bookExit(pos.Symbol, res, reason)
}

// bookExit closes the symbol's position at the fill of res and finalizes
// its trade.
func (e *Engine) bookExit(symbol string, res *broker.OrderResult, reason strategy.ExitReason) (*Trade, error) {
	now := e.clock()
	closed, err := e.book.Close(symbol, res.AveragePrice, res.Commission, now)
	if err != nil {
		return nil, err
	}
	e.risk.RecordTradeClose(closed)

	e.mu.Lock()
	t, ok := e.open[symbol]
	if !ok {
		t = &Trade{ID: closed.ID, Symbol: closed.Symbol, Side: closed.Side, EntryTime: closed.OpenedAt, EntryPrice: closed.EntryPrice}
	}
	delete(e.open, symbol)
	t.Status = TradeClosed
	t.Quantity = closed.Quantity
	t.ExitTime = now
	t.ExitPrice = closed.ExitPrice
	t.Commission = closed.Commission()
	t.PnL = closed.RealizedPnL
	t.PnLPercent = closed.PnLPercent
	t.ExitReason = reason
	t.ExitOrderID = res.OrderID
	e.trades = append(e.trades, *t)
	e.daily.RealizedPnL += closed.RealizedPnL
	e.mu.Unlock()

	e.publisher.Publish(events.TradeClosed{
		At:         now,
		TradeID:    t.ID,
		Symbol:     t.Symbol,
		Side:       string(t.Side),
		Quantity:   t.Quantity,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		PnL:        t.PnL,
		PnLPercent: t.PnLPercent,
		Reason:     string(reason),
	})
	e.logger.Info("position closed",
		zap.String("symbol", t.Symbol),
		zap.String("reason", string(reason)),
		zap.Float64("pnl", t.PnL),
	)
	cp := *t
	return &cp, nil
}

func (e *Engine) recentCandles(symbol string) []core.Candle {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.history[symbol]
	out := make([]core.Candle, len(h))
	copy(out, h)
	return out
}

// Run feeds candles to OnCandle until feed closes or ctx is cancelled.
// Cancellation stops new orders and triggers an emergency stop.
func (e *Engine) Run(ctx context.Context, feed <-chan core.Candle) error {
	e.logger.Info("trading engine started")
	for {
		if err := ctx.Err(); err != nil {
			return e.shutdown(ctx)
		}
		select {
		case <-ctx.Done():
			return e.shutdown(ctx)
		case c, ok := <-feed:
			if !ok {
				e.logger.Info("feed closed, trading engine stopped")
				return nil
			}
			d := e.OnCandle(ctx, c)
			if d.Action != ActionNone {
				e.logger.Debug("decision",
					zap.String("symbol", d.Symbol),
					zap.String("action", string(d.Action)),
					zap.String("reason", d.Reason),
				)
			}
		}
	}
}

func (e *Engine) shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	stopErr := e.EmergencyStop(context.WithoutCancel(ctx), "run cancelled")
	return errors.Join(ctx.Err(), stopErr)
}
