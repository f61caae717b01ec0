package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var at = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind()
	}
	return out
}

func TestBus_PublishFansOut(t *testing.T) {
	bus := NewBus(nil)
	a, b := &recorder{}, &recorder{}
	bus.Subscribe(a)
	bus.Subscribe(b)

	bus.Publish(TradeOpened{At: at, Symbol: "BTCUSDT"})
	bus.Publish(RiskAlert{At: at, Metric: "drawdown"})

	for _, r := range []*recorder{a, b} {
		kinds := r.kinds()
		if len(kinds) != 2 || kinds[0] != KindTradeOpened || kinds[1] != KindRiskAlert {
			t.Errorf("unexpected kinds %v", kinds)
		}
	}
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	bus := NewBus(zap.New(core))
	rec := &recorder{}
	bus.Subscribe(HandlerFunc(func(Event) { panic("boom") }))
	bus.Subscribe(rec)

	bus.Publish(EmergencyStop{At: at, Reason: "test"})

	if len(rec.kinds()) != 1 {
		t.Error("second handler should still receive the event")
	}
	if logs.FilterMessage("event handler panicked").Len() != 1 {
		t.Error("expected panic to be logged")
	}
}

func TestEncode(t *testing.T) {
	b, err := Encode(TradeClosed{At: at, TradeID: "t1", Symbol: "ETHUSDT", PnL: 12.5, Reason: "take_profit"})
	if err != nil {
		t.Fatal(err)
	}
	var env struct {
		Kind    string         `json:"kind"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatal(err)
	}
	if env.Kind != string(KindTradeClosed) {
		t.Errorf("kind = %s", env.Kind)
	}
	if env.Payload["trade_id"] != "t1" || env.Payload["pnl"] != 12.5 {
		t.Errorf("payload = %v", env.Payload)
	}
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	sink.Handle(TradeRejected{At: at, Symbol: "BTCUSDT", Reason: "limit", FailedChecks: []string{"Leverage Limit"}})
	sink.Handle(CircuitBreakerTripped{At: at, Reason: "losses", ConsecutiveLosses: 5})

	if logs.FilterMessage("trade rejected").Len() != 1 {
		t.Error("missing trade rejected log")
	}
	entries := logs.FilterMessage("circuit breaker tripped").All()
	if len(entries) != 1 || entries[0].ContextMap()["consecutive_losses"] != int64(5) {
		t.Errorf("unexpected circuit breaker log %v", entries)
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   bool
	block  chan struct{}
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("broker unavailable")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink_DeliversInOrder(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, 16, time.Second, nil)

	sink.Handle(SignalGenerated{At: at, Symbol: "BTCUSDT", Signal: "BUY"})
	sink.Handle(CircuitBreakerReset{At: at, Reason: "cooldown"})
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	if !w.closed {
		t.Error("writer not closed")
	}
	if len(w.msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "BTCUSDT" {
		t.Errorf("key = %s", w.msgs[0].Key)
	}
	if string(w.msgs[1].Key) != string(KindCircuitBreakerReset) {
		t.Errorf("key = %s", w.msgs[1].Key)
	}
}

func TestKafkaSink_DropsWhenFull(t *testing.T) {
	w := &fakeWriter{block: make(chan struct{})}
	sink := newKafkaSink(w, 1, time.Second, nil)

	// the loop takes one event and blocks on the writer, one more fills the buffer
	for i := 0; i < 10; i++ {
		sink.Handle(RiskAlert{At: at})
	}
	if sink.Dropped() < 8 {
		t.Errorf("dropped = %d, want at least 8", sink.Dropped())
	}
	close(w.block)
	_ = sink.Close()
}

func TestKafkaSink_WriteErrorsAreLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	w := &fakeWriter{fail: true}
	sink := newKafkaSink(w, 4, time.Second, zap.New(core))
	sink.Handle(OrderFailed{At: at, Symbol: "BTCUSDT"})
	_ = sink.Close()

	if logs.FilterMessage("publish event to kafka").Len() != 1 {
		t.Error("expected write failure to be logged")
	}
}

func TestNewKafkaSink_Validation(t *testing.T) {
	if _, err := NewKafkaSink(KafkaConfig{Topic: "events"}, nil); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil); err == nil {
		t.Error("expected error without topic")
	}
}
