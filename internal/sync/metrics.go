package sync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts conflict engine outcomes
type Metrics struct {
	detected *prometheus.CounterVec
	resolved *prometheus.CounterVec
	deferred *prometheus.CounterVec
	ignored  *prometheus.CounterVec
	purged   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg (nil skips registration)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		detected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eckpos",
				Subsystem: "conflicts",
				Name:      "detected_total",
				Help:      "Number of conflicts detected between terminal and central copies",
			},
			[]string{"entity_type"},
		),
		resolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eckpos",
				Subsystem: "conflicts",
				Name:      "resolved_total",
				Help:      "Number of conflicts resolved, by resolution type and path",
			},
			[]string{"entity_type", "resolution", "path"},
		),
		deferred: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eckpos",
				Subsystem: "conflicts",
				Name:      "pending_manual_total",
				Help:      "Number of resolution attempts parked for manual review",
			},
			[]string{"entity_type"},
		),
		ignored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eckpos",
				Subsystem: "conflicts",
				Name:      "ignored_total",
				Help:      "Number of conflicts closed without a verdict",
			},
			[]string{"entity_type"},
		),
		purged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "eckpos",
				Subsystem: "conflicts",
				Name:      "purged_total",
				Help:      "Number of resolved conflicts deactivated by retention purges",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.detected, m.resolved, m.deferred, m.ignored, m.purged)
	}
	return m
}

// nil-safe helpers so the engine can run without metrics

func (m *Metrics) incDetected(entityType string) {
	if m != nil {
		m.detected.WithLabelValues(entityType).Inc()
	}
}

func (m *Metrics) incResolved(entityType, resolution, path string) {
	if m != nil {
		m.resolved.WithLabelValues(entityType, resolution, path).Inc()
	}
}

func (m *Metrics) incDeferred(entityType string) {
	if m != nil {
		m.deferred.WithLabelValues(entityType).Inc()
	}
}

func (m *Metrics) incIgnored(entityType string) {
	if m != nil {
		m.ignored.WithLabelValues(entityType).Inc()
	}
}

func (m *Metrics) addPurged(n int) {
	if m != nil && n > 0 {
		m.purged.Add(float64(n))
	}
}
