package trading

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/broker"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/strategy"
)

// errOrderResting marks an exit whose order was accepted but not filled.
var errOrderResting = errors.New("order resting")

// pendingEntry is what an entry order needs to be booked once it fills.
type pendingEntry struct {
	side       core.Side
	strategy   string
	confidence float64
	stopLoss   float64
	riskScore  float64
}

// restingOrder is an order the executor accepted but has not finished.
// Entry orders hold a daily trade slot until they settle.
type restingOrder struct {
	id     string
	symbol string
	age    int // candles of symbol seen since placement
	entry  *pendingEntry
	day    string
	reason strategy.ExitReason
}

func (o *restingOrder) kind() string {
	if o.entry != nil {
		return "entry"
	}
	return "exit"
}

func (e *Engine) track(o *restingOrder) {
	e.mu.Lock()
	e.orders[o.id] = o
	e.mu.Unlock()
	e.logger.Info("order resting",
		zap.String("symbol", o.symbol),
		zap.String("order_id", o.id),
		zap.String("kind", o.kind()),
	)
}

// take removes id from the resting set and reports whether it was there.
func (e *Engine) take(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.orders[id]; !ok {
		return false
	}
	delete(e.orders, id)
	return true
}

func (e *Engine) resting() []*restingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*restingOrder, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// reconcile brings the symbol's resting orders up to date. Fills are
// booked, finished orders are dropped and orders older than
// OrderExpiryCandles are cancelled. It returns an order that is still
// resting, if any. The caller holds the symbol lock.
func (e *Engine) reconcile(ctx context.Context, symbol string) *restingOrder {
	var mine []*restingOrder
	for _, o := range e.resting() {
		if o.symbol == symbol {
			o.age++
			mine = append(mine, o)
		}
	}
	if len(mine) == 0 {
		return nil
	}

	q, canQuery := e.exec.(broker.OrderQuerier)
	var waiting *restingOrder
	for _, o := range mine {
		if canQuery {
			res, err := q.QueryOrder(ctx, symbol, o.id)
			switch {
			case err != nil:
				e.logger.Warn("order status unavailable",
					zap.String("symbol", symbol),
					zap.String("order_id", o.id),
					zap.Error(err),
				)
			case !res.IsOpen():
				e.settle(o, res)
				continue
			}
		}
		if o.age >= e.cfg.OrderExpiryCandles {
			err := e.cancelResting(ctx, o)
			if err == nil {
				continue
			}
			e.logger.Warn("expired order not cancelled",
				zap.String("symbol", symbol),
				zap.String("order_id", o.id),
				zap.Error(err),
			)
		}
		if waiting == nil {
			waiting = o
		}
	}
	return waiting
}

// cancelResting cancels o at the executor and books whatever part of it
// filled.
func (e *Engine) cancelResting(ctx context.Context, o *restingOrder) error {
	if err := e.exec.CancelOrder(ctx, o.symbol, o.id); err != nil {
		return err
	}
	res := &broker.OrderResult{OrderID: o.id, Symbol: o.symbol, Status: broker.OrderStatusCancelled}
	if q, ok := e.exec.(broker.OrderQuerier); ok {
		if got, err := q.QueryOrder(ctx, o.symbol, o.id); err == nil {
			res = got
		}
	}
	e.settle(o, res)
	return nil
}

// settle books the final state of a resting order and forgets it.
func (e *Engine) settle(o *restingOrder, res *broker.OrderResult) {
	if !e.take(o.id) {
		return
	}
	switch {
	case res.FilledQuantity <= 0:
		if o.entry != nil {
			e.releaseTrade(o.day)
		}
		e.logger.Info("order ended unfilled",
			zap.String("symbol", o.symbol),
			zap.String("order_id", o.id),
			zap.String("status", string(res.Status)),
		)
	case o.entry != nil:
		if _, err := e.bookEntry(e.clock(), o.symbol, res, *o.entry); err != nil {
			e.releaseTrade(o.day)
		}
	case res.IsFilled():
		if _, err := e.bookExit(o.symbol, res, o.reason); err != nil {
			e.logger.Error("exit fill could not be booked",
				zap.String("symbol", o.symbol),
				zap.String("order_id", o.id),
				zap.Error(err),
			)
		}
	default:
		e.logger.Error("partial exit fill not booked",
			zap.String("symbol", o.symbol),
			zap.String("order_id", o.id),
			zap.Float64("filled", res.FilledQuantity),
		)
	}
}
