package risk

import (
	"time"

	"github.com/newthinker/tradecore/internal/events"
	"go.uber.org/zap"
)

// State returns the effective circuit breaker state. A breaker whose
// cooldown has elapsed reads as normal; the reset itself happens on the
// next ValidateTrade.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateAtLocked(m.now())
}

// TripCircuitBreaker halts new trades for the configured cooldown.
func (m *Manager) TripCircuitBreaker(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tripLocked(m.now(), reason)
}

// ResetCircuitBreaker resumes trading and clears the losing streak.
func (m *Manager) ResetCircuitBreaker(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateNormal {
		return
	}
	m.resetLocked(m.now(), reason)
}

func (m *Manager) tripLocked(now time.Time, reason string) {
	m.state = StateCircuitBroken
	m.brokenUntil = now.Add(m.limits.CircuitBreakerCooldown)
	m.logger.Warn("circuit breaker tripped",
		zap.String("reason", reason),
		zap.Int("consecutive_losses", m.consecutiveLosses),
		zap.Time("until", m.brokenUntil),
	)
	m.publisher.Publish(events.CircuitBreakerTripped{
		At:                now,
		Reason:            reason,
		ConsecutiveLosses: m.consecutiveLosses,
		Until:             m.brokenUntil,
	})
}

func (m *Manager) resetLocked(now time.Time, reason string) {
	m.state = StateNormal
	m.brokenUntil = time.Time{}
	m.consecutiveLosses = 0
	m.logger.Info("circuit breaker reset", zap.String("reason", reason))
	m.publisher.Publish(events.CircuitBreakerReset{At: now, Reason: reason})
}

func (m *Manager) stateAtLocked(now time.Time) State {
	if m.state == StateCircuitBroken && !now.Before(m.brokenUntil) {
		return StateNormal
	}
	return m.state
}

// refreshBreakerLocked resets the breaker once the cooldown has elapsed.
func (m *Manager) refreshBreakerLocked(now time.Time) {
	if m.state == StateCircuitBroken && !now.Before(m.brokenUntil) {
		m.resetLocked(now, "cooldown elapsed")
	}
}
