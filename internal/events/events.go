// Package events defines the typed notifications emitted by the trading
// core and a synchronous bus that fans them out to handlers.
package events

import (
	"encoding/json"
	"time"
)

// Kind names an event variant.
type Kind string

const (
	KindSignalGenerated       Kind = "signal_generated"
	KindTradeOpened           Kind = "trade_opened"
	KindTradeClosed           Kind = "trade_closed"
	KindTradeRejected         Kind = "trade_rejected"
	KindRiskAlert             Kind = "risk_alert"
	KindCircuitBreakerTripped Kind = "circuit_breaker_tripped"
	KindCircuitBreakerReset   Kind = "circuit_breaker_reset"
	KindEmergencyStop         Kind = "emergency_stop"
	KindOrderFailed           Kind = "order_failed"
)

// Event is implemented only by the variants in this package.
type Event interface {
	Kind() Kind
	OccurredAt() time.Time
	sealed()
}

// SignalGenerated is emitted for each combined signal.
type SignalGenerated struct {
	At         time.Time `json:"time"`
	Symbol     string    `json:"symbol"`
	Signal     string    `json:"signal"`
	Confidence float64   `json:"confidence"`
	Price      float64   `json:"price"`
	Regime     string    `json:"regime"`
}

// TradeOpened is emitted when a position is opened.
type TradeOpened struct {
	At         time.Time `json:"time"`
	TradeID    string    `json:"trade_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
}

// TradeClosed is emitted when a position is closed.
type TradeClosed struct {
	At         time.Time `json:"time"`
	TradeID    string    `json:"trade_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnl_percent"`
	Reason     string    `json:"reason"`
}

// TradeRejected is emitted when risk validation refuses a trade.
type TradeRejected struct {
	At           time.Time `json:"time"`
	Symbol       string    `json:"symbol"`
	Signal       string    `json:"signal"`
	Confidence   float64   `json:"confidence"`
	Reason       string    `json:"reason"`
	FailedChecks []string  `json:"failed_checks"`
}

// RiskAlert is an early warning that a metric approaches its limit.
type RiskAlert struct {
	At       time.Time `json:"time"`
	Metric   string    `json:"metric"`
	Severity string    `json:"severity"`
	Value    float64   `json:"value"`
	Limit    float64   `json:"limit"`
	Message  string    `json:"message"`
}

// CircuitBreakerTripped is emitted when trading is halted.
type CircuitBreakerTripped struct {
	At                time.Time `json:"time"`
	Reason            string    `json:"reason"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	Until             time.Time `json:"until"`
}

// CircuitBreakerReset is emitted when trading resumes.
type CircuitBreakerReset struct {
	At     time.Time `json:"time"`
	Reason string    `json:"reason"`
}

// EmergencyStop is emitted after all positions were force-closed.
type EmergencyStop struct {
	At              time.Time `json:"time"`
	Reason          string    `json:"reason"`
	ClosedPositions int       `json:"closed_positions"`
	CancelledOrders int       `json:"cancelled_orders"`
}

// OrderFailed is emitted when the executor rejects an order.
type OrderFailed struct {
	At       time.Time `json:"time"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Quantity float64   `json:"quantity"`
	Error    string    `json:"error"`
}

func (e SignalGenerated) Kind() Kind       { return KindSignalGenerated }
func (e TradeOpened) Kind() Kind           { return KindTradeOpened }
func (e TradeClosed) Kind() Kind           { return KindTradeClosed }
func (e TradeRejected) Kind() Kind         { return KindTradeRejected }
func (e RiskAlert) Kind() Kind             { return KindRiskAlert }
func (e CircuitBreakerTripped) Kind() Kind { return KindCircuitBreakerTripped }
func (e CircuitBreakerReset) Kind() Kind   { return KindCircuitBreakerReset }
func (e EmergencyStop) Kind() Kind         { return KindEmergencyStop }
func (e OrderFailed) Kind() Kind           { return KindOrderFailed }

func (e SignalGenerated) OccurredAt() time.Time       { return e.At }
func (e TradeOpened) OccurredAt() time.Time           { return e.At }
func (e TradeClosed) OccurredAt() time.Time           { return e.At }
func (e TradeRejected) OccurredAt() time.Time         { return e.At }
func (e RiskAlert) OccurredAt() time.Time             { return e.At }
func (e CircuitBreakerTripped) OccurredAt() time.Time { return e.At }
func (e CircuitBreakerReset) OccurredAt() time.Time   { return e.At }
func (e EmergencyStop) OccurredAt() time.Time         { return e.At }
func (e OrderFailed) OccurredAt() time.Time           { return e.At }

func (SignalGenerated) sealed()       {}
func (TradeOpened) sealed()           {}
func (TradeClosed) sealed()           {}
func (TradeRejected) sealed()         {}
func (RiskAlert) sealed()             {}
func (CircuitBreakerTripped) sealed() {}
func (CircuitBreakerReset) sealed()   {}
func (EmergencyStop) sealed()         {}
func (OrderFailed) sealed()           {}

// Envelope is the wire form of an event.
type Envelope struct {
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	Payload Event     `json:"payload"`
}

// Encode wraps e in an envelope and marshals it to JSON.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(Envelope{Kind: e.Kind(), Time: e.OccurredAt(), Payload: e})
}
