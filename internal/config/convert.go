package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/advisor"
	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/events"
	"github.com/newthinker/tradecore/internal/indicator"
	"github.com/newthinker/tradecore/internal/notifier/email"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/router"
	"github.com/newthinker/tradecore/internal/signal"
	"github.com/newthinker/tradecore/internal/strategy"
	"github.com/newthinker/tradecore/internal/trading"
)

// Limits converts to risk.Limits.
func (r RiskConfig) Limits() risk.Limits {
	return risk.Limits{
		MaxPositionSizePercent: r.MaxPositionSizePercent,
		MaxDailyLossPercent:    r.MaxDailyLossPercent,
		MaxDrawdownPercent:     r.MaxDrawdownPercent,
		MaxLeverage:            r.MaxLeverage,
		MaxConsecutiveLosses:   r.MaxConsecutiveLosses,
		MaxCorrelationExposure: r.MaxCorrelationExposure,
		MaxPortfolioHeat:       r.MaxPortfolioHeat,
		CircuitBreakerCooldown: r.CircuitBreakerCooldown,
		MaxVolatility:          r.MaxVolatility,
		CorrelationThreshold:   r.CorrelationThreshold,
		AlertThreshold:         r.AlertThreshold,
	}
}

// Signal builds the aggregator config. Unlisted weights and adjustments
// keep their defaults.
func (a AggregatorConfig) Signal() (signal.Config, error) {
	cfg := signal.DefaultConfig()
	cfg.MinConfluence = a.MinConfluence
	cfg.VolatileBandwidth = a.VolatileBandwidth
	cfg.RangingBandwidth = a.RangingBandwidth

	weights, err := parseWeights(a.Weights)
	if err != nil {
		return signal.Config{}, err
	}
	for n, w := range weights {
		cfg.Weights[n] = w
	}

	for regime, factors := range a.Adjustments {
		r := signal.Regime(regime)
		switch r {
		case signal.RegimeTrending, signal.RegimeRanging, signal.RegimeVolatile:
		default:
			return signal.Config{}, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("aggregator: unknown regime %q", regime))
		}
		parsed, err := parseWeights(factors)
		if err != nil {
			return signal.Config{}, err
		}
		adj := cfg.Adjustments[r]
		for n, f := range parsed {
			adj[n] = f
		}
		cfg.Adjustments[r] = adj
	}

	if err := cfg.Validate(); err != nil {
		return signal.Config{}, err
	}
	return cfg, nil
}

func parseWeights(in map[string]float64) (map[indicator.Name]float64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[indicator.Name]float64, len(in))
	for name, w := range in {
		n, err := indicator.ParseName(name)
		if err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid, err)
		}
		if w < 0 {
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("weight for %s must be >= 0", name))
		}
		out[n] = w
	}
	return out, nil
}

// Definition builds a strategy from the preset defaults and the overrides
// in s.
func (s StrategyConfig) Definition(name string) (strategy.Definition, error) {
	def := strategy.Definition{
		Name:        name,
		Description: s.Description,
		Rules:       strategy.DefaultRules(),
		Risk:        strategy.DefaultRiskParams(),
	}
	for _, raw := range s.Indicators {
		n, err := indicator.ParseName(raw)
		if err != nil {
			return strategy.Definition{}, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("strategy %q: %w", name, err))
		}
		def.Indicators = append(def.Indicators, n)
	}
	weights, err := parseWeights(s.Weights)
	if err != nil {
		return strategy.Definition{}, err
	}
	def.Weights = weights

	setIf(&def.Rules.MinConfidence, s.MinConfidence)
	setIf(&def.Rules.ExitConfidence, s.ExitConfidence)
	if s.MinConfirmations > 0 {
		def.Rules.MinConfirmations = s.MinConfirmations
	}
	def.Rules.AllowShort = s.AllowShort
	setIf(&def.Risk.StopLossPercent, s.StopLossPercent)
	setIf(&def.Risk.TakeProfitPercent, s.TakeProfitPercent)
	setIf(&def.Risk.RiskPerTradePercent, s.RiskPerTradePercent)
	setIf(&def.Risk.MaxPositionPercent, s.MaxPositionPercent)

	if err := def.Validate(); err != nil {
		return strategy.Definition{}, err
	}
	return def, nil
}

func setIf(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

// StrategyRegistry registers the presets plus the configured strategies,
// then applies the default and per-symbol assignments.
func (c *Config) StrategyRegistry(logger *zap.Logger) (*strategy.Registry, error) {
	reg := strategy.NewDefaultRegistry(logger)

	names := make([]string, 0, len(c.Strategies))
	for name := range c.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def, err := c.Strategies[name].Definition(name)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}

	if err := reg.SetDefault(c.Trading.DefaultStrategy); err != nil {
		return nil, err
	}
	// viper lower-cases map keys; symbols are upper-case
	for symbol, name := range c.Trading.Assignments {
		if err := reg.Assign(strings.ToUpper(symbol), name); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// BacktestRun builds the simulation config for one symbol.
func (c *Config) BacktestRun(symbol string, def strategy.Definition, start, end time.Time) (backtest.Config, error) {
	agg, err := c.Aggregator.Signal()
	if err != nil {
		return backtest.Config{}, err
	}
	b := c.Backtest
	return backtest.Config{
		Symbol:         symbol,
		Interval:       b.Interval,
		Start:          start,
		End:            end,
		InitialBalance: b.InitialBalance,
		CommissionRate: b.CommissionRate,
		SlippageRate:   b.SlippageRate,
		SizeImpact:     b.SizeImpact,
		RiskFreeRate:   b.RiskFreeRate,
		Warmup:         b.Warmup,
		Strategy:       def,
		Limits:         c.Risk.Limits(),
		Aggregator:     agg,
	}, nil
}

// Engine converts to the live engine config.
func (t TradingConfig) Engine() trading.Config {
	return trading.Config{
		MinConfidence: t.MinConfidence,
		Weights: advisor.Weights{
			Technical: t.TechnicalWeight,
			Advisory:  t.AdvisoryWeight,
		},
		MaxDailyTrades:      t.MaxDailyTrades,
		MaxDailyLossPercent: t.MaxDailyLossPercent,
		QuantityStep:        t.QuantityStep,
		CommissionRate:      t.CommissionRate,
		RiskFreeRate:        t.RiskFreeRate,
		HistorySize:         t.HistorySize,
		OrderExpiryCandles:  t.OrderExpiryCandles,
	}
}

// ProviderConfig converts to the advisor provider settings.
func (a AdvisorConfig) ProviderConfig() advisor.ProviderConfig {
	return advisor.ProviderConfig{
		Provider: a.Provider,
		APIKey:   a.APIKey,
		Model:    a.Model,
		Endpoint: a.Endpoint,
	}
}

// Sink converts to the Kafka sink settings.
func (k KafkaConfig) Sink() events.KafkaConfig {
	return events.KafkaConfig{
		Brokers:      k.Brokers,
		Topic:        k.Topic,
		BufferSize:   k.BufferSize,
		BatchTimeout: k.BatchTimeout,
		WriteTimeout: k.WriteTimeout,
	}
}

var knownKinds = map[events.Kind]bool{
	events.KindSignalGenerated:       true,
	events.KindTradeOpened:           true,
	events.KindTradeClosed:           true,
	events.KindTradeRejected:         true,
	events.KindRiskAlert:             true,
	events.KindCircuitBreakerTripped: true,
	events.KindCircuitBreakerReset:   true,
	events.KindEmergencyStop:         true,
	events.KindOrderFailed:           true,
}

// EventKinds parses the routed event kinds. Empty means the router
// defaults.
func (n NotifyConfig) EventKinds() ([]events.Kind, error) {
	if len(n.Kinds) == 0 {
		return router.DefaultKinds(), nil
	}
	kinds := make([]events.Kind, 0, len(n.Kinds))
	for _, k := range n.Kinds {
		kind := events.Kind(strings.ToLower(strings.TrimSpace(k)))
		if !knownKinds[kind] {
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("notify: unknown event kind %q", k))
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// Router converts to the router settings.
func (n NotifyConfig) Router() (router.Config, error) {
	kinds, err := n.EventKinds()
	if err != nil {
		return router.Config{}, err
	}
	return router.Config{
		Kinds:       kinds,
		Cooldown:    n.Cooldown,
		BufferSize:  n.BufferSize,
		SendTimeout: n.SendTimeout,
	}, nil
}

// Email converts to the SMTP notifier settings.
func (e EmailConfig) Email() email.Config {
	return email.Config{
		Host:     e.Host,
		Port:     e.Port,
		Username: e.Username,
		Password: e.Password,
		From:     e.From,
		To:       e.To,
	}
}
