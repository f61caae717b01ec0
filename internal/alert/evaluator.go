package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/notifier"
)

// Sink receives fired alerts. *router.Router implements it.
type Sink interface {
	Enqueue(msg notifier.Message)
}

// Evaluator evaluates alert rules and sends notifications.
type Evaluator struct {
	rules    []Rule
	sink     Sink
	cooldown time.Duration
	now      func() time.Time
	logger   *zap.Logger

	// rule name -> time the condition started holding
	pending map[string]time.Time
	// rule name -> last fired time
	lastFired map[string]time.Time

	mu sync.Mutex
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock sets the time source used for "for" durations and cooldowns.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithCooldown sets the minimum gap between two firings of one rule.
func WithCooldown(d time.Duration) Option {
	return func(e *Evaluator) { e.cooldown = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEvaluator validates rules and creates an evaluator.
func NewEvaluator(rules []Rule, sink Sink, opts ...Option) (*Evaluator, error) {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate alert rule %q", r.Name)
		}
		seen[r.Name] = true
	}
	e := &Evaluator{
		rules:     append([]Rule(nil), rules...),
		sink:      sink,
		cooldown:  5 * time.Minute,
		now:       time.Now,
		logger:    zap.NewNop(),
		pending:   make(map[string]time.Time),
		lastFired: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate checks every rule against metrics and returns the names of the
// rules that fired.
func (e *Evaluator) Evaluate(metrics map[string]float64) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var fired []string
	for _, rule := range e.rules {
		value, holds := rule.Evaluate(metrics)
		if !holds {
			delete(e.pending, rule.Name)
			continue
		}

		if rule.For > 0 {
			since, isPending := e.pending[rule.Name]
			if !isPending {
				e.pending[rule.Name] = now
				continue
			}
			if now.Sub(since) < rule.For {
				continue
			}
		}

		if last, ok := e.lastFired[rule.Name]; ok && now.Sub(last) < e.cooldown {
			continue
		}

		e.sink.Enqueue(rule.FormatMessage(value, now))
		e.lastFired[rule.Name] = now
		delete(e.pending, rule.Name)
		fired = append(fired, rule.Name)
		e.logger.Info("alert fired",
			zap.String("rule", rule.Name),
			zap.String("expr", rule.Expr),
			zap.Float64("value", value),
		)
	}
	return fired
}

// Watch evaluates source every interval until ctx is done.
func (e *Evaluator) Watch(ctx context.Context, interval time.Duration, source func() map[string]float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Evaluate(source())
		}
	}
}

// Rules returns the configured rules.
func (e *Evaluator) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}
