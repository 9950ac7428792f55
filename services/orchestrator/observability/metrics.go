// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability exposes Prometheus metrics for the settlement
// orchestrator.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the orchestrator's Prometheus collectors.
type Metrics struct {
	intentsTotal     *prometheus.CounterVec
	intentDuration   *prometheus.HistogramVec
	settlementsTotal prometheus.Counter
	eventsIngested   prometheus.Counter
	activeGroups     prometheus.Gauge
	openSessions     prometheus.Gauge
	basicMode        prometheus.Gauge
}

// NewMetrics registers the orchestrator collectors on reg. Pass
// prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		intentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boldefi",
			Subsystem: "orchestrator",
			Name:      "intents_total",
			Help:      "Executed intents by type and outcome.",
		}, []string{"intent", "status"}),
		intentDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "boldefi",
			Subsystem: "orchestrator",
			Name:      "intent_duration_seconds",
			Help:      "End-to-end intent execution latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"intent"}),
		settlementsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "boldefi",
			Subsystem: "sweeper",
			Name:      "settlements_total",
			Help:      "Auctions settled by the sweeper.",
		}),
		eventsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "boldefi",
			Subsystem: "ingestor",
			Name:      "events_ingested_total",
			Help:      "Contract events decoded into the activity feed.",
		}),
		activeGroups: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "boldefi",
			Subsystem: "orchestrator",
			Name:      "active_groups",
			Help:      "Active savings circles at last scan.",
		}),
		openSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "boldefi",
			Subsystem: "gateway",
			Name:      "open_sessions",
			Help:      "Open off-chain state channel sessions.",
		}),
		basicMode: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "boldefi",
			Subsystem: "orchestrator",
			Name:      "basic_mode",
			Help:      "1 when the off-chain gateway is unavailable and all operations run on-chain.",
		}),
	}
}

// RecordIntent counts one intent execution.
func (m *Metrics) RecordIntent(intent, status string, elapsed time.Duration) {
	m.intentsTotal.WithLabelValues(intent, status).Inc()
	m.intentDuration.WithLabelValues(intent).Observe(elapsed.Seconds())
}

// RecordSettlement counts one sweeper settlement.
func (m *Metrics) RecordSettlement() {
	m.settlementsTotal.Inc()
}

// RecordEventsIngested counts decoded contract events.
func (m *Metrics) RecordEventsIngested(n int) {
	m.eventsIngested.Add(float64(n))
}

// SetActiveGroups updates the active circle gauge.
func (m *Metrics) SetActiveGroups(n int) {
	m.activeGroups.Set(float64(n))
}

// SetOpenSessions updates the session gauge.
func (m *Metrics) SetOpenSessions(n int) {
	m.openSessions.Set(float64(n))
}

// SetBasicMode flips the degradation gauge.
func (m *Metrics) SetBasicMode(on bool) {
	if on {
		m.basicMode.Set(1)
	} else {
		m.basicMode.Set(0)
	}
}
