package router

import (
	"fmt"
	"strconv"
	"time"

	"github.com/newthinker/tradecore/internal/events"
	"github.com/newthinker/tradecore/internal/notifier"
)

// Format renders e as a message and returns its cooldown key.
func Format(e events.Event) (notifier.Message, string) {
	msg := notifier.Message{
		Severity: notifier.SeverityInfo,
		Source:   string(e.Kind()),
		Time:     e.OccurredAt(),
	}
	key := string(e.Kind())

	switch ev := e.(type) {
	case events.RiskAlert:
		msg.Title = "Risk alert: " + ev.Metric
		msg.Body = ev.Message
		msg.Severity = severity(ev.Severity)
		msg.Fields = map[string]string{"value": num(ev.Value), "limit": num(ev.Limit)}
		key += ":" + ev.Metric
	case events.CircuitBreakerTripped:
		msg.Title = "Circuit breaker tripped"
		msg.Body = ev.Reason
		msg.Severity = notifier.SeverityCritical
		msg.Fields = map[string]string{
			"consecutive_losses": strconv.Itoa(ev.ConsecutiveLosses),
			"until":              ev.Until.UTC().Format(time.RFC3339),
		}
	case events.CircuitBreakerReset:
		msg.Title = "Circuit breaker reset"
		msg.Body = ev.Reason
	case events.EmergencyStop:
		msg.Title = "Emergency stop"
		msg.Body = ev.Reason
		msg.Severity = notifier.SeverityCritical
		msg.Fields = map[string]string{
			"closed_positions": strconv.Itoa(ev.ClosedPositions),
			"cancelled_orders": strconv.Itoa(ev.CancelledOrders),
		}
	case events.OrderFailed:
		msg.Title = fmt.Sprintf("Order failed: %s %s", ev.Side, ev.Symbol)
		msg.Body = ev.Error
		msg.Severity = notifier.SeverityWarning
		msg.Symbol = ev.Symbol
		msg.Fields = map[string]string{"quantity": num(ev.Quantity)}
		key += ":" + ev.Symbol
	case events.TradeRejected:
		msg.Title = "Trade rejected: " + ev.Symbol
		msg.Body = ev.Reason
		msg.Severity = notifier.SeverityWarning
		msg.Symbol = ev.Symbol
		msg.Fields = map[string]string{"signal": ev.Signal, "confidence": num(ev.Confidence)}
		key += ":" + ev.Symbol
	case events.TradeOpened:
		msg.Title = fmt.Sprintf("Opened %s %s", ev.Side, ev.Symbol)
		msg.Symbol = ev.Symbol
		msg.Fields = map[string]string{"quantity": num(ev.Quantity), "price": num(ev.Price)}
		key += ":" + ev.Symbol
	case events.TradeClosed:
		msg.Title = fmt.Sprintf("Closed %s %s", ev.Side, ev.Symbol)
		msg.Body = ev.Reason
		msg.Symbol = ev.Symbol
		if ev.PnL < 0 {
			msg.Severity = notifier.SeverityWarning
		}
		msg.Fields = map[string]string{
			"pnl":         num(ev.PnL),
			"pnl_percent": num(ev.PnLPercent),
			"exit_price":  num(ev.ExitPrice),
		}
		key += ":" + ev.Symbol
	case events.SignalGenerated:
		msg.Title = fmt.Sprintf("%s signal for %s", ev.Signal, ev.Symbol)
		msg.Symbol = ev.Symbol
		msg.Fields = map[string]string{"confidence": num(ev.Confidence), "regime": ev.Regime}
		key += ":" + ev.Symbol
	}
	return msg, key
}

// severity maps risk severities onto notifier ones.
func severity(s string) notifier.Severity {
	switch s {
	case "critical":
		return notifier.SeverityCritical
	case "high", "medium":
		return notifier.SeverityWarning
	default:
		return notifier.SeverityInfo
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
