package trading

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/events"
	"github.com/newthinker/tradecore/internal/strategy"
)

// EmergencyStop cancels resting orders, books any part of them that
// filled, closes every open position at market and trips the circuit
// breaker. Failures are collected; the breaker trips regardless.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) error {
	e.logger.Warn("emergency stop", zap.String("reason", reason))
	var errs []error

	cancelled := 0
	for _, o := range e.resting() {
		live, err := e.cancelTracked(ctx, o)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("cancel %s: %w", o.id, err))
		case live:
			cancelled++
		}
	}

	closedCount := 0
	for _, pos := range e.book.Positions() {
		l := e.symbolLock(pos.Symbol)
		l.Lock()
		// re-read under the symbol lock; OnCandle may have closed it
		current, ok := e.book.Position(pos.Symbol)
		if ok {
			if _, err := e.exit(ctx, current, strategy.ExitEmergencyStop); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", pos.Symbol, err))
			} else {
				closedCount++
			}
		}
		l.Unlock()
	}

	e.risk.TripCircuitBreaker("emergency stop: " + reason)
	e.publisher.Publish(events.EmergencyStop{
		At:              e.clock(),
		Reason:          reason,
		ClosedPositions: closedCount,
		CancelledOrders: cancelled,
	})
	e.logger.Warn("emergency stop complete",
		zap.Int("closed_positions", closedCount),
		zap.Int("cancelled_orders", cancelled),
		zap.Int("errors", len(errs)),
	)
	return errors.Join(errs...)
}

// cancelTracked cancels o under its symbol lock unless it settled since
// it was listed.
func (e *Engine) cancelTracked(ctx context.Context, o *restingOrder) (bool, error) {
	l := e.symbolLock(o.symbol)
	l.Lock()
	defer l.Unlock()

	e.mu.Lock()
	_, live := e.orders[o.id]
	e.mu.Unlock()
	if !live {
		return false, nil
	}
	return true, e.cancelResting(ctx, o)
}
