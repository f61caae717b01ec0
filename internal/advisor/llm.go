package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/indicator"
)

// maxPromptCandles bounds the recent price history included in a prompt.
const maxPromptCandles = 20

// LLMAdvisor asks a chat model for advice on the technical signal.
type LLMAdvisor struct {
	provider    Provider
	temperature float64
	timeout     time.Duration
	logger      *zap.Logger
}

// LLMOption configures an LLMAdvisor.
type LLMOption func(*LLMAdvisor)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LLMOption {
	return func(a *LLMAdvisor) { a.temperature = t }
}

// WithTimeout bounds each provider call. Zero means no bound beyond ctx.
func WithTimeout(d time.Duration) LLMOption {
	return func(a *LLMAdvisor) { a.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) LLMOption {
	return func(a *LLMAdvisor) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewLLMAdvisor creates an advisor backed by provider.
func NewLLMAdvisor(provider Provider, opts ...LLMOption) *LLMAdvisor {
	a := &LLMAdvisor{provider: provider, temperature: 0.3, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Advise implements Advisor.
func (a *LLMAdvisor) Advise(ctx context.Context, req Request) (*Advice, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	resp, err := a.provider.Chat(ctx, ChatRequest{
		SystemPrompt: systemPrompt,
		Messages:     []Message{{Role: "user", Content: buildPrompt(req)}},
		MaxTokens:    defaultMaxTokens,
		Temperature:  a.temperature,
		JSONMode:     true,
	})
	if err != nil {
		return nil, core.WrapError(core.ErrAdvisorFailed, fmt.Errorf("%s: %w", a.provider.Name(), err))
	}

	advice, ok := parseAdvice(resp.Content)
	if !ok {
		a.logger.Debug("advisor reply was not JSON, falling back to text",
			zap.String("provider", a.provider.Name()),
			zap.String("symbol", req.Symbol),
		)
	}
	a.logger.Debug("advice received",
		zap.String("provider", a.provider.Name()),
		zap.String("symbol", req.Symbol),
		zap.String("recommendation", string(advice.Recommendation)),
		zap.Float64("confidence", advice.Confidence),
		zap.String("risk", string(advice.RiskLevel)),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
	)
	return advice, nil
}

func buildPrompt(req Request) string {
	var sb strings.Builder
	sig := req.Signal

	fmt.Fprintf(&sb, "## Symbol: %s\n\n", req.Symbol)
	sb.WriteString("## Technical Signal:\n")
	fmt.Fprintf(&sb, "- Direction: %s (confidence %.1f)\n", sig.Type, sig.Confidence)
	fmt.Fprintf(&sb, "- Buy score %.3f, sell score %.3f\n", sig.BuyScore, sig.SellScore)
	fmt.Fprintf(&sb, "- Regime: %s, volatility %.2f%%, ATR %.4f\n", sig.Regime, sig.Volatility, sig.ATR)

	if len(sig.Breakdown) > 0 {
		names := make([]indicator.Name, 0, len(sig.Breakdown))
		for n := range sig.Breakdown {
			names = append(names, n)
		}
		sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
		sb.WriteString("\n## Indicators:\n")
		for _, n := range names {
			c := sig.Breakdown[n]
			fmt.Fprintf(&sb, "- %s: %s (strength %.0f)\n", n, c.Signal, c.Strength)
		}
	}

	if len(req.Candles) > 0 {
		candles := req.Candles
		if len(candles) > maxPromptCandles {
			candles = candles[len(candles)-maxPromptCandles:]
		}
		sb.WriteString("\n## Recent Candles (time, open, high, low, close, volume):\n")
		for _, c := range candles {
			fmt.Fprintf(&sb, "- %s %.4f %.4f %.4f %.4f %.2f\n",
				c.Time().UTC().Format("2006-01-02T15:04Z"), c.Open, c.High, c.Low, c.Close, c.Volume)
		}
	}

	sb.WriteString("\n## Task:\n")
	sb.WriteString("Assess whether to BUY, SELL or HOLD now and how risky the trade is.\n")
	sb.WriteString("Respond with JSON containing: recommendation, confidence (0-100), risk_level (low/medium/high), reasoning.\n")
	return sb.String()
}

type adviceReply struct {
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
	RiskLevel      string  `json:"risk_level"`
	Reasoning      string  `json:"reasoning"`
}

// parseAdvice decodes a JSON reply, tolerating code fences. When the reply
// is not JSON it falls back to keyword matching and reports false.
func parseAdvice(text string) (*Advice, bool) {
	raw := strings.TrimSpace(text)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var reply adviceReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &reply); err != nil {
		return parseText(text), false
	}

	conf := reply.Confidence
	if conf > 0 && conf <= 1 {
		conf *= 100
	}
	return &Advice{
		Recommendation: parseRecommendation(reply.Recommendation),
		Confidence:     clampConfidence(conf),
		RiskLevel:      ParseRiskLevel(reply.RiskLevel),
		Reasoning:      reply.Reasoning,
	}, true
}

func parseRecommendation(s string) core.SignalType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "STRONG_BUY", "LONG":
		return core.SignalBuy
	case "SELL", "STRONG_SELL", "SHORT":
		return core.SignalSell
	default:
		return core.SignalNeutral
	}
}

// parseText reads a direction from prose. Mixed or missing keywords mean
// hold.
func parseText(text string) *Advice {
	advice := &Advice{
		Recommendation: core.SignalNeutral,
		Confidence:     50,
		RiskLevel:      RiskMedium,
		Reasoning:      text,
	}
	upper := strings.ToUpper(text)
	hasBuy, hasSell := strings.Contains(upper, "BUY"), strings.Contains(upper, "SELL")
	switch {
	case hasBuy && !hasSell:
		advice.Recommendation = core.SignalBuy
	case hasSell && !hasBuy:
		advice.Recommendation = core.SignalSell
	}
	if strings.Contains(upper, "HIGH RISK") {
		advice.RiskLevel = RiskHigh
	}
	return advice
}

const systemPrompt = `You are a cryptocurrency trading advisor. You review a technical signal produced by an indicator ensemble together with recent price history and give an independent opinion.

Consider:
1. Whether the indicators agree and how strong they are
2. The market regime and volatility
3. Recent price action

Always respond with valid JSON in this format:
{
  "recommendation": "BUY" | "SELL" | "HOLD",
  "confidence": 0-100,
  "risk_level": "low" | "medium" | "high",
  "reasoning": "short explanation"
}

Be conservative when uncertain. HOLD is appropriate when the evidence is mixed.`
