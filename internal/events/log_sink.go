package events

import "go.uber.org/zap"

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Handle implements Handler.
func (s *LogSink) Handle(e Event) {
	fields := []zap.Field{zap.String("kind", string(e.Kind()))}
	switch ev := e.(type) {
	case SignalGenerated:
		s.logger.Debug("signal", append(fields,
			zap.String("symbol", ev.Symbol),
			zap.String("signal", ev.Signal),
			zap.Float64("confidence", ev.Confidence),
			zap.String("regime", ev.Regime),
		)...)
	case TradeOpened:
		s.logger.Info("trade opened", append(fields,
			zap.String("trade_id", ev.TradeID),
			zap.String("symbol", ev.Symbol),
			zap.String("side", ev.Side),
			zap.Float64("quantity", ev.Quantity),
			zap.Float64("price", ev.Price),
		)...)
	case TradeClosed:
		s.logger.Info("trade closed", append(fields,
			zap.String("trade_id", ev.TradeID),
			zap.String("symbol", ev.Symbol),
			zap.Float64("pnl", ev.PnL),
			zap.String("reason", ev.Reason),
		)...)
	case TradeRejected:
		s.logger.Info("trade rejected", append(fields,
			zap.String("symbol", ev.Symbol),
			zap.String("reason", ev.Reason),
			zap.Strings("failed_checks", ev.FailedChecks),
		)...)
	case RiskAlert:
		s.logger.Warn("risk alert", append(fields,
			zap.String("metric", ev.Metric),
			zap.String("severity", ev.Severity),
			zap.Float64("value", ev.Value),
			zap.Float64("limit", ev.Limit),
		)...)
	case CircuitBreakerTripped:
		s.logger.Warn("circuit breaker tripped", append(fields,
			zap.String("reason", ev.Reason),
			zap.Int("consecutive_losses", ev.ConsecutiveLosses),
			zap.Time("until", ev.Until),
		)...)
	case CircuitBreakerReset:
		s.logger.Info("circuit breaker reset", append(fields, zap.String("reason", ev.Reason))...)
	case EmergencyStop:
		s.logger.Error("emergency stop", append(fields,
			zap.String("reason", ev.Reason),
			zap.Int("closed_positions", ev.ClosedPositions),
			zap.Int("cancelled_orders", ev.CancelledOrders),
		)...)
	case OrderFailed:
		s.logger.Error("order failed", append(fields,
			zap.String("symbol", ev.Symbol),
			zap.String("error", ev.Error),
		)...)
	}
}
