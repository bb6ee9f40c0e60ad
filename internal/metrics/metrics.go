package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// ProviderAttemptsTotal counts provider calls by provider id and result
	// (success, timeout, transient, fatal, canceled).
	ProviderAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dermadx",
		Subsystem: "provider",
		Name:      "attempts_total",
		Help:      "Total number of provider call attempts, labeled by provider and result.",
	}, []string{"provider", "result"})

	// ProviderConsecutiveFailures mirrors the health counter used by fallback selection.
	ProviderConsecutiveFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dermadx",
		Subsystem: "provider",
		Name:      "consecutive_failures",
		Help:      "Current number of consecutive failed attempts per provider.",
	}, []string{"provider"})

	// FallbackSelectionsTotal counts selections routed to the alternate provider.
	FallbackSelectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dermadx",
		Subsystem: "provider",
		Name:      "fallback_selections_total",
		Help:      "Total number of selections routed to the alternate provider, labeled by purpose.",
	}, []string{"purpose"})

	// ParseTotal counts parsed provider replies by status (ok, fallback).
	ParseTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dermadx",
		Subsystem: "parser",
		Name:      "results_total",
		Help:      "Total number of parsed provider replies, labeled by status.",
	}, []string{"status"})

	// NotificationsTotal counts downstream notification outcomes.
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dermadx",
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Total number of downstream notification attempts, labeled by sink and result.",
	}, []string{"sink", "result"})

	// DiagnosisDurationSeconds is end-to-end diagnosis time, notification excluded.
	DiagnosisDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dermadx",
		Subsystem: "diagnosis",
		Name:      "duration_seconds",
		Help:      "Time to produce a diagnosis record, labeled by analysis type and result.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"analysis_type", "result"})
)

// Register registers dermadx metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ProviderAttemptsTotal,
			ProviderConsecutiveFailures,
			FallbackSelectionsTotal,
			ParseTotal,
			NotificationsTotal,
			DiagnosisDurationSeconds,
		)
	})
}
