package signal

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/indicator"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func candle(symbol string, i int, close, spread float64) core.Candle {
	ot := t0.Add(time.Duration(i) * time.Hour)
	return core.Candle{
		Symbol: symbol, Interval: "1h",
		Open: close, High: close + spread, Low: close - spread, Close: close, Volume: 10,
		OpenTime: ot, CloseTime: ot.Add(time.Hour),
	}
}

func rising(symbol string, n int) []core.Candle {
	out := make([]core.Candle, n)
	for i := range out {
		c := 100 + float64(i)
		out[i] = candle(symbol, i, c, 0.5)
		out[i].Open = c - 0.5
	}
	return out
}

func flat(symbol string, n int) []core.Candle {
	out := make([]core.Candle, n)
	for i := range out {
		out[i] = candle(symbol, i, 100, 0.1)
	}
	return out
}

var trendSet = []indicator.Name{
	indicator.NameSMA, indicator.NameEMA, indicator.NameMACD, indicator.NameADX, indicator.NameOBV,
}

func TestAggregator_RisingSeriesBuys(t *testing.T) {
	agg := NewAggregator(DefaultConfig().Restrict(trendSet))

	var last Signal
	var sawBuy bool
	for _, c := range rising("BTCUSDT", 60) {
		sig, ok := agg.Update(c)
		if !ok {
			continue
		}
		last = sig
		if sig.Type == core.SignalBuy && sig.Confidence >= 60 {
			sawBuy = true
		}
	}
	if !sawBuy {
		t.Fatalf("no confident buy; last signal %s at %.1f", last.Type, last.Confidence)
	}
	if last.Type != core.SignalBuy {
		t.Errorf("final signal = %s, want BUY", last.Type)
	}
	if len(last.Breakdown) != len(trendSet) {
		t.Errorf("breakdown has %d entries, want %d", len(last.Breakdown), len(trendSet))
	}
	if last.Agreeing(core.SignalBuy) != len(trendSet) {
		t.Errorf("agreeing = %d", last.Agreeing(core.SignalBuy))
	}
}

func TestAggregator_FlatSeriesNeutral(t *testing.T) {
	agg := NewAggregator(DefaultConfig())
	var got []Signal
	for _, c := range flat("ETHUSDT", 80) {
		if sig, ok := agg.Update(c); ok {
			got = append(got, sig)
		}
	}
	if len(got) == 0 {
		t.Fatal("no signals produced")
	}
	for _, sig := range got {
		if sig.Type != core.SignalNeutral {
			t.Fatalf("signal at %v = %s, want NEUTRAL", sig.Time, sig.Type)
		}
	}
	final := got[len(got)-1]
	if final.Regime != RegimeRanging {
		t.Errorf("regime = %s, want ranging", final.Regime)
	}
	if final.Volatility != 0 {
		t.Errorf("volatility = %f, want 0", final.Volatility)
	}
}

func TestAggregator_NotReadyBeforeWarmup(t *testing.T) {
	agg := NewAggregator(DefaultConfig())
	if _, ok := agg.Update(candle("BTCUSDT", 0, 100, 1)); ok {
		t.Error("expected no signal after the first candle")
	}
}

func TestScore_ConfluenceThreshold(t *testing.T) {
	cfg := DefaultConfig().Restrict([]indicator.Name{indicator.NameRSI, indicator.NameMACD})
	cfg.Adjustments = nil

	results := func(rsi, macd core.SignalType, rs, ms float64) [indicator.Count]*indicator.Result {
		var r [indicator.Count]*indicator.Result
		r[indicator.NameRSI] = &indicator.Result{Name: indicator.NameRSI, Signal: rsi, Strength: rs}
		r[indicator.NameMACD] = &indicator.Result{Name: indicator.NameMACD, Signal: macd, Strength: ms}
		return r
	}

	tests := []struct {
		name     string
		results  [indicator.Count]*indicator.Result
		wantType core.SignalType
		wantConf float64
	}{
		{"both buy", results(core.SignalBuy, core.SignalBuy, 100, 100), core.SignalBuy, 100},
		{"weak margin", results(core.SignalBuy, core.SignalSell, 50, 30), core.SignalNeutral, 0},
		{"sell wins", results(core.SignalNeutral, core.SignalSell, 0, 80), core.SignalSell, 0.14 * 80 / 0.26},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := Signal{Regime: RegimeTrending}
			if !score(cfg, tt.results, &sig) {
				t.Fatal("score returned false")
			}
			if sig.Type != tt.wantType {
				t.Errorf("type = %s, want %s (buy %.3f sell %.3f)", sig.Type, tt.wantType, sig.BuyScore, sig.SellScore)
			}
			if tt.wantType != core.SignalNeutral && math.Abs(sig.Confidence-tt.wantConf) > 1e-9 {
				t.Errorf("confidence = %f, want %f", sig.Confidence, tt.wantConf)
			}
		})
	}
}

func TestScore_DisabledIndicatorsIgnored(t *testing.T) {
	cfg := DefaultConfig().Restrict([]indicator.Name{indicator.NameSMA})
	var r [indicator.Count]*indicator.Result
	r[indicator.NameRSI] = &indicator.Result{Name: indicator.NameRSI, Signal: core.SignalBuy, Strength: 100}
	sig := Signal{Regime: RegimeTrending}
	if score(cfg, r, &sig) {
		t.Error("score should fail when no enabled indicator is ready")
	}
}

func TestDetectRegime(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name   string
		bw     float64
		hasBW  bool
		atr    float64
		hasATR bool
		want   Regime
	}{
		{"wide bands", 0.08, true, 0, false, RegimeVolatile},
		{"narrow bands", 0.01, true, 0, false, RegimeRanging},
		{"middle", 0.03, true, 0, false, RegimeTrending},
		{"atr fallback", 0, false, 0.06, true, RegimeVolatile},
		{"unknown", 0, false, 0, false, RegimeTrending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.DetectRegime(tt.bw, tt.hasBW, tt.atr, tt.hasATR); got != tt.want {
				t.Errorf("DetectRegime = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDefaultAdjustments(t *testing.T) {
	adj := DefaultAdjustments()
	if adj[RegimeTrending][indicator.NameMACD] != 1.3 || adj[RegimeTrending][indicator.NameRSI] != 0.7 {
		t.Error("unexpected trending multipliers")
	}
	if adj[RegimeRanging][indicator.NameBollinger] != 1.2 || adj[RegimeRanging][indicator.NameCCI] != 1.3 {
		t.Error("unexpected ranging multipliers")
	}
	if adj[RegimeVolatile][indicator.NameATR] != 1.2 || adj[RegimeVolatile][indicator.NameEMA] != 0.9 {
		t.Error("unexpected volatile multipliers")
	}
	if adj[RegimeVolatile][indicator.NameOBV] != 1 {
		t.Error("volume weight should be unadjusted")
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := DefaultConfig()
	bad.MinConfluence = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("expected confluence error")
	}

	bad = DefaultConfig()
	bad.RangingBandwidth = 0.1
	if err := bad.Validate(); err == nil {
		t.Error("expected bandwidth ordering error")
	}

	bad = DefaultConfig().WithWeights(map[indicator.Name]float64{indicator.NameSMA: -1})
	if err := bad.Validate(); err == nil {
		t.Error("expected negative weight error")
	}
}

func TestConfig_WithWeightsDoesNotAlias(t *testing.T) {
	base := DefaultConfig()
	changed := base.WithWeights(map[indicator.Name]float64{indicator.NameRSI: 0.5})
	changed.Adjustments[RegimeTrending] = indicator.Weights{}
	if base.Weights[indicator.NameRSI] != 0.12 {
		t.Error("base weights modified")
	}
	if base.Adjustments[RegimeTrending][indicator.NameMACD] != 1.3 {
		t.Error("base adjustments modified")
	}
}

func TestAggregator_ResetAndSymbols(t *testing.T) {
	agg := NewAggregator(DefaultConfig())
	for _, c := range rising("SOLUSDT", 40) {
		agg.Update(c)
	}
	agg.Update(candle("ADAUSDT", 0, 1, 0.01))
	if got := agg.Symbols(); len(got) != 2 || got[0] != "ADAUSDT" {
		t.Fatalf("Symbols() = %v", got)
	}

	agg.Reset("SOLUSDT")
	if _, ok := agg.Update(candle("SOLUSDT", 41, 141, 0.5)); ok {
		t.Error("expected warm-up after reset")
	}
}

func TestAggregator_ConcurrentSymbols(t *testing.T) {
	agg := NewAggregator(DefaultConfig())
	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for _, c := range rising(sym, 60) {
				agg.Update(c)
			}
		}(fmt.Sprintf("SYM%d", s))
	}
	wg.Wait()

	if len(agg.Symbols()) != 8 {
		t.Errorf("tracked %d symbols, want 8", len(agg.Symbols()))
	}

	// identical input per symbol gives identical output
	ref := NewAggregator(DefaultConfig())
	var want Signal
	for _, c := range rising("SYM0", 61) {
		want, _ = ref.Update(c)
	}
	got, _ := agg.Update(rising("SYM0", 61)[60])
	if got.Confidence != want.Confidence || got.Type != want.Type {
		t.Errorf("concurrent result %s/%.4f differs from serial %s/%.4f", got.Type, got.Confidence, want.Type, want.Confidence)
	}
}
