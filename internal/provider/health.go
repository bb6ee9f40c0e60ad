package provider

import (
	"sync"
	"time"

	"github.com/kalambet/dermadx/internal/metrics"
)

// HealthSnapshot is a point-in-time view of one provider's health.
type HealthSnapshot struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastOutcome         time.Time `json:"last_outcome,omitzero"`
	LastSuccess         bool      `json:"last_success"`
}

// Health tracks consecutive failures per provider. It is shared by the
// registry (reads) and the invoker (writes); the zero value is not usable,
// construct with NewHealth.
type Health struct {
	mu     sync.Mutex
	states map[string]HealthSnapshot
	now    func() time.Time
}

// NewHealth returns an empty health tracker.
func NewHealth() *Health {
	return &Health{
		states: make(map[string]HealthSnapshot),
		now:    time.Now,
	}
}

// RecordSuccess resets the provider's failure counter.
func (h *Health) RecordSuccess(id string) {
	h.mu.Lock()
	h.states[id] = HealthSnapshot{LastOutcome: h.now(), LastSuccess: true}
	h.mu.Unlock()

	metrics.ProviderConsecutiveFailures.WithLabelValues(id).Set(0)
}

// RecordFailure increments the provider's failure counter and returns the
// new value.
func (h *Health) RecordFailure(id string) int {
	h.mu.Lock()
	s := h.states[id]
	s.ConsecutiveFailures++
	s.LastOutcome = h.now()
	s.LastSuccess = false
	h.states[id] = s
	h.mu.Unlock()

	metrics.ProviderConsecutiveFailures.WithLabelValues(id).Set(float64(s.ConsecutiveFailures))
	return s.ConsecutiveFailures
}

// ConsecutiveFailures returns the provider's current failure count.
func (h *Health) ConsecutiveFailures(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.states[id].ConsecutiveFailures
}

// Snapshot returns the provider's current health.
func (h *Health) Snapshot(id string) HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.states[id]
}
