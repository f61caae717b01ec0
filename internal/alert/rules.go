// Package alert evaluates threshold rules over risk metrics and raises
// notifications when a condition holds long enough.
package alert

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/notifier"
	"github.com/newthinker/tradecore/internal/risk"
)

// exprPattern matches "metric op value".
var exprPattern = regexp.MustCompile(`^(\w+)\s*(>=|<=|==|!=|>|<)\s*(-?[\d.]+)$`)

// Rule defines an alert rule.
type Rule struct {
	Name     string        `mapstructure:"name" validate:"required"`
	Expr     string        `mapstructure:"expr" validate:"required"`
	For      time.Duration `mapstructure:"for" validate:"gte=0"`
	Severity string        `mapstructure:"severity" validate:"omitempty,oneof=info warning critical"`
	Message  string        `mapstructure:"message"`
}

type condition struct {
	metric    string
	op        string
	threshold float64
}

func (r Rule) parse() (condition, error) {
	m := exprPattern.FindStringSubmatch(strings.TrimSpace(r.Expr))
	if len(m) != 4 {
		return condition{}, fmt.Errorf("rule %q: cannot parse %q", r.Name, r.Expr)
	}
	threshold, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return condition{}, fmt.Errorf("rule %q: threshold: %w", r.Name, err)
	}
	return condition{metric: m[1], op: m[2], threshold: threshold}, nil
}

// Validate checks the expression and names a known metric.
func (r Rule) Validate() error {
	if r.Name == "" {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("alert rule name is required"))
	}
	c, err := r.parse()
	if err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	if !knownMetric(c.metric) {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("rule %q: unknown metric %q (known: %s)", r.Name, c.metric, strings.Join(MetricNames(), ", ")))
	}
	switch r.Severity {
	case "", "info", "warning", "critical":
	default:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("rule %q: unknown severity %q", r.Name, r.Severity))
	}
	return nil
}

// Evaluate reports whether the rule holds for metrics, and the metric
// value it saw. A missing metric never holds.
func (r Rule) Evaluate(metrics map[string]float64) (float64, bool) {
	c, err := r.parse()
	if err != nil {
		return 0, false
	}
	value, exists := metrics[c.metric]
	if !exists {
		return 0, false
	}

	switch c.op {
	case ">":
		return value, value > c.threshold
	case "<":
		return value, value < c.threshold
	case ">=":
		return value, value >= c.threshold
	case "<=":
		return value, value <= c.threshold
	case "==":
		return value, value == c.threshold
	case "!=":
		return value, value != c.threshold
	default:
		return value, false
	}
}

// FormatMessage renders the fired rule.
func (r Rule) FormatMessage(value float64, at time.Time) notifier.Message {
	sev := notifier.Severity(r.Severity)
	if sev == "" {
		sev = notifier.SeverityWarning
	}
	body := r.Message
	if body == "" {
		body = r.Expr
	}
	return notifier.Message{
		Title:    fmt.Sprintf("[%s] %s", strings.ToUpper(string(sev)), r.Name),
		Body:     body,
		Severity: sev,
		Source:   "alert:" + r.Name,
		Time:     at,
		Fields: map[string]string{
			"expr":  r.Expr,
			"value": strconv.FormatFloat(value, 'f', 2, 64),
		},
	}
}

// Metrics flattens a risk report into the names rules refer to.
func Metrics(rep risk.Report) map[string]float64 {
	broken := 0.0
	if rep.State == risk.StateCircuitBroken {
		broken = 1
	}
	return map[string]float64{
		"equity":             rep.Portfolio.Equity,
		"cash":               rep.Portfolio.Cash,
		"drawdown":           rep.Portfolio.Drawdown,
		"exposure":           rep.Portfolio.Exposure,
		"open_positions":     float64(len(rep.Portfolio.Positions)),
		"realized_pnl":       rep.Portfolio.RealizedPnL,
		"daily_loss":         rep.Daily.LossPercent(),
		"daily_trades":       float64(rep.Daily.Trades),
		"consecutive_losses": float64(rep.ConsecutiveLosses),
		"leverage":           rep.Leverage,
		"portfolio_heat":     rep.PortfolioHeat,
		"var_95":             rep.VaR95,
		"var_99":             rep.VaR99,
		"win_rate":           rep.WinRate,
		"circuit_broken":     broken,
	}
}

// MetricNames lists the metric names Metrics produces, sorted.
func MetricNames() []string {
	m := Metrics(risk.Report{})
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func knownMetric(name string) bool {
	_, ok := Metrics(risk.Report{})[name]
	return ok
}
