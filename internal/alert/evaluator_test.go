package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/notifier"
	"github.com/newthinker/tradecore/internal/portfolio"
	"github.com/newthinker/tradecore/internal/risk"
)

type mockSink struct {
	mu   sync.Mutex
	sent []notifier.Message
}

func (m *mockSink) Enqueue(msg notifier.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// manualClock is advanced by tests.
type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *manualClock {
	return &manualClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestEvaluator_ForDuration(t *testing.T) {
	sink := &mockSink{}
	clock := newClock()
	rule := Rule{
		Name:     "deep_drawdown",
		Expr:     "drawdown > 10",
		For:      time.Minute,
		Severity: "warning",
		Message:  "Drawdown is high",
	}
	eval, err := NewEvaluator([]Rule{rule}, sink, WithClock(clock.now))
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	metrics := map[string]float64{"drawdown": 12}

	// First evaluation starts the pending timer, doesn't fire
	if fired := eval.Evaluate(metrics); len(fired) != 0 {
		t.Errorf("expected no firing on first eval, got %v", fired)
	}

	clock.advance(2 * time.Minute)
	fired := eval.Evaluate(metrics)
	if len(fired) != 1 || fired[0] != "deep_drawdown" {
		t.Fatalf("expected deep_drawdown to fire, got %v", fired)
	}

	msg := sink.sent[0]
	if msg.Title != "[WARNING] deep_drawdown" || msg.Body != "Drawdown is high" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Fields["value"] != "12.00" || msg.Source != "alert:deep_drawdown" {
		t.Errorf("unexpected fields %v source %s", msg.Fields, msg.Source)
	}
	if !msg.Time.Equal(clock.t) {
		t.Errorf("message time = %v, want %v", msg.Time, clock.t)
	}
}

func TestEvaluator_PendingResets(t *testing.T) {
	sink := &mockSink{}
	clock := newClock()
	rule := Rule{Name: "heat", Expr: "portfolio_heat >= 15", For: time.Minute}
	eval, _ := NewEvaluator([]Rule{rule}, sink, WithClock(clock.now))

	eval.Evaluate(map[string]float64{"portfolio_heat": 16})
	clock.advance(30 * time.Second)
	eval.Evaluate(map[string]float64{"portfolio_heat": 10}) // clears pending
	clock.advance(45 * time.Second)
	eval.Evaluate(map[string]float64{"portfolio_heat": 16}) // pending again
	if sink.count() != 0 {
		t.Errorf("expected no notification, got %d", sink.count())
	}

	clock.advance(time.Minute)
	eval.Evaluate(map[string]float64{"portfolio_heat": 16})
	if sink.count() != 1 {
		t.Errorf("expected 1 notification, got %d", sink.count())
	}
}

func TestEvaluator_Cooldown(t *testing.T) {
	sink := &mockSink{}
	clock := newClock()
	rule := Rule{Name: "breaker", Expr: "circuit_broken == 1", Severity: "critical"}
	eval, _ := NewEvaluator([]Rule{rule}, sink, WithClock(clock.now), WithCooldown(5*time.Minute))

	metrics := map[string]float64{"circuit_broken": 1}
	eval.Evaluate(metrics)
	eval.Evaluate(metrics)
	clock.advance(time.Minute)
	eval.Evaluate(metrics)

	// Should only notify once due to cooldown
	if sink.count() != 1 {
		t.Errorf("expected 1 notification due to cooldown, got %d", sink.count())
	}

	clock.advance(5 * time.Minute)
	eval.Evaluate(metrics)
	if sink.count() != 2 {
		t.Errorf("expected 2 notifications after cooldown, got %d", sink.count())
	}
}

func TestEvaluator_RuleNotTriggered(t *testing.T) {
	sink := &mockSink{}
	eval, _ := NewEvaluator([]Rule{{Name: "loss", Expr: "daily_loss > 3"}}, sink)

	eval.Evaluate(map[string]float64{"daily_loss": 1})
	eval.Evaluate(map[string]float64{}) // missing metric

	if sink.count() != 0 {
		t.Errorf("expected no notification, got %d", sink.count())
	}
}

func TestNewEvaluator_Validation(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"missing name", []Rule{{Expr: "drawdown > 1"}}},
		{"bad expression", []Rule{{Name: "x", Expr: "drawdown is big"}}},
		{"unknown metric", []Rule{{Name: "x", Expr: "error_rate > 0.05"}}},
		{"bad severity", []Rule{{Name: "x", Expr: "drawdown > 1", Severity: "page"}}},
		{"duplicate", []Rule{{Name: "x", Expr: "drawdown > 1"}, {Name: "x", Expr: "leverage > 2"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEvaluator(tt.rules, &mockSink{}); err == nil {
				t.Error("expected error")
			}
		})
	}

	_, err := NewEvaluator([]Rule{{Name: "x", Expr: "nope"}}, &mockSink{})
	if !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestRule_Evaluate(t *testing.T) {
	metrics := map[string]float64{"drawdown": 10, "win_rate": -1}
	tests := []struct {
		expr string
		want bool
	}{
		{"drawdown > 5", true},
		{"drawdown > 10", false},
		{"drawdown >= 10", true},
		{"drawdown < 10", false},
		{"drawdown <= 10", true},
		{"drawdown == 10", true},
		{"drawdown != 10", false},
		{"drawdown>5", true},
		{"win_rate < -0.5", true},
		{"leverage > 0", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, got := Rule{Name: "r", Expr: tt.expr}.Evaluate(metrics)
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestRule_FormatMessage_Defaults(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := Rule{Name: "lev", Expr: "leverage > 2"}.FormatMessage(2.5, at)
	if msg.Severity != notifier.SeverityWarning {
		t.Errorf("default severity = %s, want warning", msg.Severity)
	}
	if msg.Body != "leverage > 2" {
		t.Errorf("body should fall back to the expression, got %q", msg.Body)
	}
}

func TestMetrics(t *testing.T) {
	rep := risk.Report{
		State:             risk.StateCircuitBroken,
		ConsecutiveLosses: 3,
		Daily:             risk.DailyStats{StartEquity: 10000, RealizedPnL: -250, Trades: 4},
		Portfolio: portfolio.Snapshot{
			Equity:    9750,
			Drawdown:  2.5,
			Positions: []portfolio.Position{{Symbol: "BTCUSDT"}},
		},
		Leverage:      0.4,
		PortfolioHeat: 6,
	}
	m := Metrics(rep)

	want := map[string]float64{
		"equity":             9750,
		"drawdown":           2.5,
		"open_positions":     1,
		"daily_loss":         2.5,
		"daily_trades":       4,
		"consecutive_losses": 3,
		"leverage":           0.4,
		"portfolio_heat":     6,
		"circuit_broken":     1,
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("Metrics()[%q] = %v, want %v", k, m[k], v)
		}
	}
	if len(MetricNames()) != len(m) {
		t.Errorf("MetricNames() has %d names, Metrics() %d", len(MetricNames()), len(m))
	}
}

func TestEvaluator_Watch(t *testing.T) {
	sink := &mockSink{}
	eval, _ := NewEvaluator([]Rule{{Name: "any", Expr: "equity > 0"}}, sink, WithCooldown(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eval.Watch(ctx, 5*time.Millisecond, func() map[string]float64 {
			return map[string]float64{"equity": 100}
		})
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for sink.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("Watch never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if sink.count() != 1 {
		t.Errorf("expected 1 notification with hour cooldown, got %d", sink.count())
	}
}
