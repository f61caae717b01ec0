package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/indicator"
	"github.com/newthinker/tradecore/internal/portfolio"
	"github.com/newthinker/tradecore/internal/signal"
)

func risingCandles(n int) []core.Candle {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]core.Candle, n)
	for i := range out {
		c := 100 + float64(i)
		ot := t0.Add(time.Duration(i) * 24 * time.Hour)
		out[i] = core.Candle{
			Symbol: "BTCUSDT", Interval: "1d",
			Open: c - 0.5, High: c + 0.5, Low: c - 0.8, Close: c, Volume: 50,
			OpenTime: ot, CloseTime: ot.Add(24 * time.Hour),
		}
	}
	return out
}

func TestPresets_Valid(t *testing.T) {
	for _, d := range Presets() {
		if err := d.Validate(); err != nil {
			t.Errorf("preset %s invalid: %v", d.Name, err)
		}
	}
}

func TestTrendFollowing_RisingSeriesWarrantsBuy(t *testing.T) {
	def, ok := Preset(TrendFollowing)
	if !ok {
		t.Fatal("trend_following preset missing")
	}
	agg := signal.NewAggregator(def.Apply(signal.DefaultConfig()))

	warranted := false
	for _, c := range risingCandles(60) {
		sig, ok := agg.Update(c)
		if !ok {
			continue
		}
		if sig.Type == core.SignalBuy && sig.Confidence >= 60 && def.Warrants(sig) {
			warranted = true
		}
	}
	if !warranted {
		t.Error("expected a confident buy that the strategy acts on")
	}
}

func TestDefinition_Warrants(t *testing.T) {
	def := Definition{
		Name:       "test",
		Indicators: []indicator.Name{indicator.NameRSI, indicator.NameMACD},
		Rules:      Rules{MinConfidence: 60, ExitConfidence: 70, MinConfirmations: 2},
		Risk:       DefaultRiskParams(),
	}
	breakdown := func(rsi, macd core.SignalType) map[indicator.Name]signal.Contribution {
		return map[indicator.Name]signal.Contribution{
			indicator.NameRSI:  {Signal: rsi},
			indicator.NameMACD: {Signal: macd},
		}
	}

	tests := []struct {
		name string
		sig  signal.Signal
		want bool
	}{
		{"confident and confirmed", signal.Signal{Type: core.SignalBuy, Confidence: 75, Breakdown: breakdown(core.SignalBuy, core.SignalBuy)}, true},
		{"low confidence", signal.Signal{Type: core.SignalBuy, Confidence: 55, Breakdown: breakdown(core.SignalBuy, core.SignalBuy)}, false},
		{"not confirmed", signal.Signal{Type: core.SignalBuy, Confidence: 80, Breakdown: breakdown(core.SignalBuy, core.SignalNeutral)}, false},
		{"short not allowed", signal.Signal{Type: core.SignalSell, Confidence: 90, Breakdown: breakdown(core.SignalSell, core.SignalSell)}, false},
		{"neutral", signal.Signal{Type: core.SignalNeutral, Confidence: 90}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := def.Warrants(tt.sig); got != tt.want {
				t.Errorf("Warrants() = %v, want %v", got, tt.want)
			}
		})
	}

	def.Rules.AllowShort = true
	if !def.Warrants(signal.Signal{Type: core.SignalSell, Confidence: 90, Breakdown: breakdown(core.SignalSell, core.SignalSell)}) {
		t.Error("short should be warranted when allowed")
	}
}

func TestDefinition_ShouldExit(t *testing.T) {
	def := Definition{Name: "x", Rules: DefaultRules(), Risk: RiskParams{StopLossPercent: 5, TakeProfitPercent: 10}}
	long := portfolio.Position{Symbol: "BTCUSDT", Side: core.SideLong, Quantity: 1, EntryPrice: 100}
	short := portfolio.Position{Symbol: "BTCUSDT", Side: core.SideShort, Quantity: 1, EntryPrice: 100}
	sell := &signal.Signal{Type: core.SignalSell, Confidence: 75}
	weakSell := &signal.Signal{Type: core.SignalSell, Confidence: 70}

	tests := []struct {
		name   string
		pos    portfolio.Position
		price  float64
		sig    *signal.Signal
		want   ExitReason
		wantOK bool
	}{
		{"long stop", long, 95, nil, ExitStopLoss, true},
		{"long take profit", long, 110, nil, ExitTakeProfit, true},
		{"long hold", long, 103, nil, "", false},
		{"long reversal", long, 101, sell, ExitSignalReversal, true},
		{"reversal needs more than exit confidence", long, 101, weakSell, "", false},
		{"short stop", short, 105, nil, ExitStopLoss, true},
		{"short take profit", short, 89, nil, ExitTakeProfit, true},
		{"short ignores sell", short, 99, sell, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := def.ShouldExit(tt.pos, tt.price, tt.sig)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ShouldExit() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}

	withStop := long
	withStop.StopLoss = 98
	if got, ok := def.ShouldExit(withStop, 97.5, nil); !ok || got != ExitStopLoss {
		t.Errorf("price stop not honored: %q %v", got, ok)
	}
}

func TestDefinition_Validate(t *testing.T) {
	valid := Definition{Name: "ok", Rules: DefaultRules(), Risk: DefaultRiskParams()}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(d *Definition)
	}{
		{"no name", func(d *Definition) { d.Name = "" }},
		{"bad confidence", func(d *Definition) { d.Rules.MinConfidence = 120 }},
		{"too many confirmations", func(d *Definition) {
			d.Indicators = []indicator.Name{indicator.NameRSI}
			d.Rules.MinConfirmations = 2
		}},
		{"zero risk", func(d *Definition) { d.Risk.RiskPerTradePercent = 0 }},
		{"negative weight", func(d *Definition) { d.Weights = map[indicator.Name]float64{indicator.NameRSI: -0.1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			err := d.Validate()
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestDefinition_Apply(t *testing.T) {
	def, _ := Preset(Momentum)
	cfg := def.Apply(signal.DefaultConfig())
	if cfg.Enabled[indicator.NameBollinger] {
		t.Error("bollinger should be disabled for momentum")
	}
	if !cfg.Enabled[indicator.NameMACD] || cfg.Weights[indicator.NameMACD] != 0.2 {
		t.Errorf("macd weight = %f", cfg.Weights[indicator.NameMACD])
	}
}

func TestRegistry(t *testing.T) {
	r := NewDefaultRegistry()
	if len(r.All()) != 4 {
		t.Fatalf("expected 4 presets, got %d", len(r.All()))
	}
	if all := r.All(); all[0].Name != Balanced {
		t.Errorf("All() not sorted: first is %s", all[0].Name)
	}

	d, err := r.ForSymbol("BTCUSDT")
	if err != nil || d.Name != Balanced {
		t.Fatalf("default = %s, %v", d.Name, err)
	}

	if err := r.Assign("ETHUSDT", MeanReversion); err != nil {
		t.Fatal(err)
	}
	d, _ = r.ForSymbol("ETHUSDT")
	if d.Name != MeanReversion {
		t.Errorf("assigned = %s", d.Name)
	}

	if err := r.Assign("ETHUSDT", "missing"); !errors.Is(err, core.ErrStrategyNotFound) {
		t.Errorf("expected ErrStrategyNotFound, got %v", err)
	}
	if err := r.SetDefault(TrendFollowing); err != nil {
		t.Fatal(err)
	}
	d, _ = r.ForSymbol("SOLUSDT")
	if d.Name != TrendFollowing {
		t.Errorf("default = %s", d.Name)
	}

	if err := r.Register(Definition{}); err == nil {
		t.Error("expected validation error")
	}
}

func TestRegistry_EmptyHasNoDefault(t *testing.T) {
	r := NewRegistry()
	if _, err := r.ForSymbol("BTCUSDT"); !errors.Is(err, core.ErrStrategyNotFound) {
		t.Errorf("expected ErrStrategyNotFound, got %v", err)
	}
}
