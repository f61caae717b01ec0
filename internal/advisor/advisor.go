// Package advisor turns an external AI analysis into an advisory signal and
// blends it with the technical signal.
package advisor

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/signal"
)

// RiskLevel is the advisor's view of trade risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRiskLevel maps free text onto a risk level, defaulting to medium.
func ParseRiskLevel(s string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow
	case "high", "very_high", "extreme":
		return RiskHigh
	default:
		return RiskMedium
	}
}

// Advice is one advisory opinion on a symbol.
type Advice struct {
	Recommendation core.SignalType `json:"recommendation"`
	Confidence     float64         `json:"confidence"` // 0-100
	RiskLevel      RiskLevel       `json:"risk_level"`
	Reasoning      string          `json:"reasoning"`
}

// Request carries what an advisor sees for one decision.
type Request struct {
	Symbol  string
	Signal  signal.Signal
	Candles []core.Candle
}

// Advisor produces advice for a symbol. Implementations may block on
// network calls and must honor ctx.
type Advisor interface {
	Advise(ctx context.Context, req Request) (*Advice, error)
}

// Func adapts a function to the Advisor interface.
type Func func(ctx context.Context, req Request) (*Advice, error)

// Advise calls f.
func (f Func) Advise(ctx context.Context, req Request) (*Advice, error) {
	return f(ctx, req)
}

// Weights split the blended score between technical and advisory input.
type Weights struct {
	Technical float64 `json:"technical"`
	Advisory  float64 `json:"advisory"`
}

// DefaultWeights favours the advisory signal 60/40.
func DefaultWeights() Weights {
	return Weights{Technical: 0.4, Advisory: 0.6}
}

// Validate checks that the weights are usable.
func (w Weights) Validate() error {
	if w.Technical < 0 || w.Advisory < 0 || w.Technical+w.Advisory <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("advisor: weights technical=%v advisory=%v must be >= 0 with a positive sum", w.Technical, w.Advisory))
	}
	return nil
}

const (
	// directionThreshold is the minimum absolute blended score for a
	// directional signal.
	directionThreshold = 10.0
	highRiskFactor     = 0.8
)

// Blend combines technical with advice. Each side contributes its
// confidence signed by direction; the weighted score picks the direction
// and its magnitude becomes the confidence, discounted for high risk.
// With no advice the technical signal is returned unchanged.
func Blend(technical signal.Signal, advice *Advice, w Weights) signal.Signal {
	if advice == nil {
		return technical
	}
	total := w.Technical + w.Advisory
	if total <= 0 {
		return technical
	}

	score := (w.Technical*technical.Type.Direction()*technical.Confidence +
		w.Advisory*advice.Recommendation.Direction()*clampConfidence(advice.Confidence)) / total

	out := technical
	switch {
	case score > directionThreshold:
		out.Type = core.SignalBuy
	case score < -directionThreshold:
		out.Type = core.SignalSell
	default:
		out.Type = core.SignalNeutral
	}
	out.Confidence = math.Min(100, math.Abs(score))
	if advice.RiskLevel == RiskHigh {
		out.Confidence *= highRiskFactor
	}
	return out
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(100, c))
}
