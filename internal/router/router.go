// Package router turns trading events into operator notifications.
package router

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/events"
	"github.com/newthinker/tradecore/internal/notifier"
)

// Config holds router configuration
type Config struct {
	// Kinds are the event kinds forwarded; empty means DefaultKinds.
	Kinds []events.Kind
	// Cooldown suppresses repeats of the same alert key, measured in
	// event time. Critical messages are never suppressed.
	Cooldown   time.Duration
	BufferSize int
	// SendTimeout bounds one NotifyAll call.
	SendTimeout time.Duration
}

// DefaultKinds are the events an operator needs to hear about.
func DefaultKinds() []events.Kind {
	return []events.Kind{
		events.KindRiskAlert,
		events.KindCircuitBreakerTripped,
		events.KindCircuitBreakerReset,
		events.KindEmergencyStop,
		events.KindOrderFailed,
	}
}

// DefaultConfig returns default router configuration
func DefaultConfig() Config {
	return Config{
		Kinds:       DefaultKinds(),
		Cooldown:    15 * time.Minute,
		BufferSize:  64,
		SendTimeout: 30 * time.Second,
	}
}

// Sender fans a message out to channels. *notifier.Registry implements it.
type Sender interface {
	NotifyAll(ctx context.Context, msg notifier.Message) map[string]error
}

// Stats are the router counters.
type Stats struct {
	Routed     int64 `json:"routed"`
	Suppressed int64 `json:"suppressed"`
	Dropped    int64 `json:"dropped"`
	Failed     int64 `json:"failed"`
	Cooldowns  int   `json:"cooldowns_active"`
}

// Router is an events.Handler. Handle filters and formats on the caller's
// goroutine and never blocks; delivery happens on a background worker.
type Router struct {
	cfg       Config
	kinds     map[events.Kind]bool
	sender    Sender
	logger    *zap.Logger
	cooldowns map[string]time.Time // alert key -> last sent event time
	mu        sync.Mutex

	queue chan notifier.Message
	wg    sync.WaitGroup
	once  sync.Once

	routed     atomic.Int64
	suppressed atomic.Int64
	dropped    atomic.Int64
	failed     atomic.Int64
}

// New creates a router and starts its delivery worker. Call Close to stop it.
func New(cfg Config, sender Sender, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = def.Kinds
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}

	r := &Router{
		cfg:       cfg,
		kinds:     make(map[events.Kind]bool, len(cfg.Kinds)),
		sender:    sender,
		logger:    logger,
		cooldowns: make(map[string]time.Time),
		queue:     make(chan notifier.Message, cfg.BufferSize),
	}
	for _, k := range cfg.Kinds {
		r.kinds[k] = true
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Handle implements events.Handler.
func (r *Router) Handle(e events.Event) {
	if !r.kinds[e.Kind()] {
		return
	}
	msg, key := Format(e)
	if !r.admit(key, msg) {
		r.suppressed.Add(1)
		r.logger.Debug("notification suppressed by cooldown", zap.String("key", key))
		return
	}
	r.Enqueue(msg)
}

// Enqueue queues msg for delivery without filtering. It drops msg when the
// buffer is full.
func (r *Router) Enqueue(msg notifier.Message) {
	select {
	case r.queue <- msg:
	default:
		r.dropped.Add(1)
		r.logger.Warn("notification buffer full, dropping message",
			zap.String("source", msg.Source),
			zap.String("title", msg.Title),
		)
	}
}

func (r *Router) admit(key string, msg notifier.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.Severity != notifier.SeverityCritical && r.cfg.Cooldown > 0 {
		if last, ok := r.cooldowns[key]; ok && msg.Time.Sub(last) < r.cfg.Cooldown {
			return false
		}
	}
	r.cooldowns[key] = msg.Time
	return true
}

func (r *Router) loop() {
	defer r.wg.Done()
	for msg := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SendTimeout)
		errs := r.sender.NotifyAll(ctx, msg)
		cancel()

		r.routed.Add(1)
		for name, err := range errs {
			r.failed.Add(1)
			r.logger.Error("notifier failed",
				zap.String("notifier", name),
				zap.String("source", msg.Source),
				zap.Error(err),
			)
		}
		r.logger.Info("notification sent",
			zap.String("source", msg.Source),
			zap.String("severity", string(msg.Severity)),
			zap.String("title", msg.Title),
			zap.Int("errors", len(errs)),
		)
	}
}

// ClearCooldowns forgets every alert key.
func (r *Router) ClearCooldowns() {
	r.mu.Lock()
	r.cooldowns = make(map[string]time.Time)
	r.mu.Unlock()
}

// Stats returns router counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	active := len(r.cooldowns)
	r.mu.Unlock()
	return Stats{
		Routed:     r.routed.Load(),
		Suppressed: r.suppressed.Load(),
		Dropped:    r.dropped.Load(),
		Failed:     r.failed.Load(),
		Cooldowns:  active,
	}
}

// Close drains queued messages and stops the worker. Handle must not be
// called after Close.
func (r *Router) Close() {
	r.once.Do(func() {
		close(r.queue)
	})
	r.wg.Wait()
}
