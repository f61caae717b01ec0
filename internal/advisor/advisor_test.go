package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/indicator"
	"github.com/newthinker/tradecore/internal/signal"
)

// fakeProvider implements Provider for testing
type fakeProvider struct {
	reply string
	err   error
	last  ChatRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &ChatResponse{Content: f.reply}, nil
}

func techSignal(t core.SignalType, conf float64) signal.Signal {
	return signal.Signal{Symbol: "BTCUSDT", Type: t, Confidence: conf, Price: 100}
}

func TestBlend(t *testing.T) {
	tests := []struct {
		name     string
		tech     signal.Signal
		advice   *Advice
		wantType core.SignalType
		wantConf float64
	}{
		{"no advice", techSignal(core.SignalBuy, 72), nil, core.SignalBuy, 72},
		{"agreement", techSignal(core.SignalBuy, 80), &Advice{Recommendation: core.SignalBuy, Confidence: 90, RiskLevel: RiskLow}, core.SignalBuy, 86},
		{"advisory overrides", techSignal(core.SignalBuy, 80), &Advice{Recommendation: core.SignalSell, Confidence: 90}, core.SignalSell, 22},
		{"near balance is neutral", techSignal(core.SignalBuy, 50), &Advice{Recommendation: core.SignalSell, Confidence: 40}, core.SignalNeutral, 4},
		{"high risk discount", techSignal(core.SignalBuy, 80), &Advice{Recommendation: core.SignalBuy, Confidence: 90, RiskLevel: RiskHigh}, core.SignalBuy, 68.8},
		{"advice on neutral technical", techSignal(core.SignalNeutral, 30), &Advice{Recommendation: core.SignalBuy, Confidence: 50}, core.SignalBuy, 30},
		{"out of range advice clamped", techSignal(core.SignalSell, 100), &Advice{Recommendation: core.SignalSell, Confidence: 250}, core.SignalSell, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Blend(tt.tech, tt.advice, DefaultWeights())
			if got.Type != tt.wantType {
				t.Errorf("type = %s, want %s", got.Type, tt.wantType)
			}
			if math.Abs(got.Confidence-tt.wantConf) > 1e-9 {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
			if got.Symbol != tt.tech.Symbol || got.Price != tt.tech.Price {
				t.Error("blend must keep the technical context")
			}
		})
	}
}

func TestWeights_Validate(t *testing.T) {
	if err := DefaultWeights().Validate(); err != nil {
		t.Errorf("default weights invalid: %v", err)
	}
	for _, w := range []Weights{{-0.1, 1}, {0, 0}, {1, -1}} {
		if err := w.Validate(); !errors.Is(err, core.ErrConfigInvalid) {
			t.Errorf("Validate(%+v) = %v, want ErrConfigInvalid", w, err)
		}
	}
}

func TestParseRiskLevel(t *testing.T) {
	tests := map[string]RiskLevel{
		"low":     RiskLow,
		" HIGH ":  RiskHigh,
		"extreme": RiskHigh,
		"medium":  RiskMedium,
		"":        RiskMedium,
		"unsure":  RiskMedium,
	}
	for in, want := range tests {
		if got := ParseRiskLevel(in); got != want {
			t.Errorf("ParseRiskLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseAdvice(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantJSON bool
		want     Advice
	}{
		{
			name:     "json",
			reply:    `{"recommendation":"BUY","confidence":75,"risk_level":"low","reasoning":"trend intact"}`,
			wantJSON: true,
			want:     Advice{Recommendation: core.SignalBuy, Confidence: 75, RiskLevel: RiskLow, Reasoning: "trend intact"},
		},
		{
			name:     "fenced json with fractional confidence",
			reply:    "```json\n{\"recommendation\":\"sell\",\"confidence\":0.6,\"risk_level\":\"high\",\"reasoning\":\"x\"}\n```",
			wantJSON: true,
			want:     Advice{Recommendation: core.SignalSell, Confidence: 60, RiskLevel: RiskHigh, Reasoning: "x"},
		},
		{
			name:     "hold",
			reply:    `{"recommendation":"HOLD","confidence":40,"risk_level":"medium","reasoning":"mixed"}`,
			wantJSON: true,
			want:     Advice{Recommendation: core.SignalNeutral, Confidence: 40, RiskLevel: RiskMedium, Reasoning: "mixed"},
		},
		{
			name:  "text buy",
			reply: "I would buy here, high risk though.",
			want:  Advice{Recommendation: core.SignalBuy, Confidence: 50, RiskLevel: RiskHigh, Reasoning: "I would buy here, high risk though."},
		},
		{
			name:  "text mixed",
			reply: "Could buy or sell.",
			want:  Advice{Recommendation: core.SignalNeutral, Confidence: 50, RiskLevel: RiskMedium, Reasoning: "Could buy or sell."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, isJSON := parseAdvice(tt.reply)
			if isJSON != tt.wantJSON {
				t.Errorf("json = %v, want %v", isJSON, tt.wantJSON)
			}
			if *got != tt.want {
				t.Errorf("advice = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestLLMAdvisor_Advise(t *testing.T) {
	fp := &fakeProvider{reply: `{"recommendation":"BUY","confidence":80,"risk_level":"medium","reasoning":"ok"}`}
	a := NewLLMAdvisor(fp, WithTemperature(0.1))

	sig := techSignal(core.SignalBuy, 65)
	sig.Breakdown = map[indicator.Name]signal.Contribution{
		indicator.NameRSI:  {Signal: core.SignalBuy, Strength: 40},
		indicator.NameMACD: {Signal: core.SignalBuy, Strength: 70},
	}
	var candles []core.Candle
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		ot := start.Add(time.Duration(i) * time.Hour)
		candles = append(candles, core.Candle{Symbol: "BTCUSDT", Open: 1, High: 1, Low: 1, Close: 1, OpenTime: ot, CloseTime: ot.Add(time.Hour)})
	}

	advice, err := a.Advise(context.Background(), Request{Symbol: "BTCUSDT", Signal: sig, Candles: candles})
	if err != nil {
		t.Fatalf("Advise() error = %v", err)
	}
	if advice.Recommendation != core.SignalBuy || advice.Confidence != 80 {
		t.Errorf("unexpected advice %+v", advice)
	}

	if !fp.last.JSONMode || fp.last.Temperature != 0.1 || fp.last.SystemPrompt == "" {
		t.Errorf("unexpected chat request %+v", fp.last)
	}
	prompt := fp.last.Messages[0].Content
	for _, want := range []string{"BTCUSDT", "rsi: BUY", "macd: BUY", "Recent Candles"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if n := strings.Count(prompt, "\n- 2024-"); n != maxPromptCandles {
		t.Errorf("prompt has %d candles, want %d", n, maxPromptCandles)
	}
}

func TestLLMAdvisor_ProviderError(t *testing.T) {
	a := NewLLMAdvisor(&fakeProvider{err: errors.New("timeout")})
	_, err := a.Advise(context.Background(), Request{Symbol: "BTCUSDT"})
	if !errors.Is(err, core.ErrAdvisorFailed) {
		t.Errorf("expected ErrAdvisorFailed, got %v", err)
	}
}

func TestFunc(t *testing.T) {
	var a Advisor = Func(func(ctx context.Context, req Request) (*Advice, error) {
		return &Advice{Recommendation: core.SignalSell, Reasoning: req.Symbol}, nil
	})
	got, err := a.Advise(context.Background(), Request{Symbol: "ETHUSDT"})
	if err != nil || got.Reasoning != "ETHUSDT" {
		t.Errorf("Func adapter returned %+v, %v", got, err)
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		cfg      ProviderConfig
		wantName string
		wantErr  bool
	}{
		{ProviderConfig{Provider: "claude", APIKey: "test-key"}, "claude", false},
		{ProviderConfig{Provider: "openai", APIKey: "test-key", Model: "gpt-4"}, "openai", false},
		{ProviderConfig{Provider: "ollama"}, "ollama", false},
		{ProviderConfig{Provider: "claude"}, "", true},
		{ProviderConfig{Provider: "openai"}, "", true},
		{ProviderConfig{Provider: "unknown"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Provider, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("expected %s provider, got %s", tt.wantName, p.Name())
			}
		})
	}
}

func TestOllama_Defaults(t *testing.T) {
	p, err := NewOllama("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.endpoint != "http://localhost:11434" || p.model != "qwen2.5:32b" {
		t.Errorf("unexpected defaults %s %s", p.endpoint, p.model)
	}
}

func TestOllama_Chat(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(ollamaResponse{
			Message:         ollamaMessage{Role: "assistant", Content: `{"recommendation":"SELL"}`},
			Done:            true,
			DoneReason:      "stop",
			PromptEvalCount: 12,
			EvalCount:       5,
		})
	}))
	defer srv.Close()

	p, _ := NewOllama(srv.URL+"/", "llama3")
	resp, err := p.Chat(context.Background(), ChatRequest{
		SystemPrompt: "sys",
		Messages:     []Message{{Role: "user", Content: "hi"}},
		JSONMode:     true,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != `{"recommendation":"SELL"}` || resp.Usage.InputTokens != 12 || resp.FinishReason != "stop" {
		t.Errorf("unexpected response %+v", resp)
	}
	if got.Model != "llama3" || got.Format != "json" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("unexpected request %+v", got)
	}
	if got.Options.NumPredict != defaultMaxTokens {
		t.Errorf("num_predict = %d, want %d", got.Options.NumPredict, defaultMaxTokens)
	}
}

func TestOllama_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := NewOllama(srv.URL, "")
	if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestOpenAI_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "HOLD"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 1, "total_tokens": 8}
		}`))
	}))
	defer srv.Close()

	p, err := NewOpenAI("test-key", "", srv.URL+"/v1")
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "HOLD" || resp.Usage.InputTokens != 7 || resp.FinishReason != "stop" {
		t.Errorf("unexpected response %+v", resp)
	}
}

// blockingProvider waits for the request context to end.
type blockingProvider struct{}

func (blockingProvider) Name() string { return "blocking" }

func (blockingProvider) Chat(ctx context.Context, _ ChatRequest) (*ChatResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLLMAdvisor_Timeout(t *testing.T) {
	a := NewLLMAdvisor(blockingProvider{}, WithTimeout(20*time.Millisecond))
	_, err := a.Advise(context.Background(), Request{Symbol: "BTCUSDT", Signal: techSignal(core.SignalBuy, 65)})
	if err == nil {
		t.Fatal("Advise() error = nil, want timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Advise() error = %v, want deadline exceeded", err)
	}
}
