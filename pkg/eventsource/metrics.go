package eventsource

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	kindEvents   = "events"
	kindSnapshot = "snapshot"
)

type metrics struct {
	recorded prometheus.Counter
	reserved prometheus.Counter
	flushes  *prometheus.CounterVec
	failures *prometheus.CounterVec
	pending  prometheus.Gauge
	version  prometheus.Gauge
}

// newMetrics always builds collectors; they are registered only when reg is
// non-nil. Recorders sharing a registry share collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		recorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evstate_events_recorded_total",
			Help: "Events observed by the event-sourcing middleware",
		}),
		reserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evstate_snapshots_reserved_total",
			Help: "Snapshot reservations created",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evstate_flushes_total",
			Help: "Successful persistence calls by kind",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evstate_flush_failures_total",
			Help: "Failed persistence calls by kind; the work is re-queued",
		}, []string{"kind"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evstate_pending_events",
			Help: "Events reserved but not yet persisted",
		}),
		version: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evstate_version",
			Help: "Current event version",
		}),
	}
	if reg == nil {
		return m
	}
	m.recorded = register(reg, m.recorded)
	m.reserved = register(reg, m.reserved)
	m.flushes = register(reg, m.flushes)
	m.failures = register(reg, m.failures)
	m.pending = register(reg, m.pending)
	m.version = register(reg, m.version)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
