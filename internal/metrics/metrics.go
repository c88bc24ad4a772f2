// Package metrics collects Prometheus counters for the control engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the engine's Prometheus metrics.
type Collector struct {
	writesIssued  *prometheus.CounterVec
	pushesApplied prometheus.Counter
	pushesDropped prometheus.Counter
	polls         *prometheus.CounterVec
	staleSettles  prometheus.Counter
	eventsDropped prometheus.Counter
}

// NewCollector creates a collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		writesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumctl_writes_total",
			Help: "Control writes issued, by result",
		}, []string{"result"}),
		pushesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumctl_pushes_applied_total",
			Help: "Push events merged into the goal-state store",
		}),
		pushesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumctl_pushes_dropped_pending_total",
			Help: "Push events discarded because a write was in flight",
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumctl_polls_total",
			Help: "Reconciliation polls, by result",
		}, []string{"result"}),
		staleSettles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumctl_stale_settles_total",
			Help: "Write responses ignored because a newer write superseded them",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumctl_bus_events_dropped_total",
			Help: "Events dropped by the bus (queue full or closing)",
		}),
	}

	reg.MustRegister(c.writesIssued, c.pushesApplied, c.pushesDropped, c.polls, c.staleSettles, c.eventsDropped)
	return c
}

// RecordWrite counts a settled control write.
func (c *Collector) RecordWrite(err error) {
	if err != nil {
		c.writesIssued.WithLabelValues("error").Inc()
		return
	}
	c.writesIssued.WithLabelValues("ok").Inc()
}

// RecordPushApplied counts a push event merged into the store.
func (c *Collector) RecordPushApplied() { c.pushesApplied.Inc() }

// RecordPushDropped counts a push event discarded while pending.
func (c *Collector) RecordPushDropped() { c.pushesDropped.Inc() }

// RecordPoll counts a reconciliation poll.
func (c *Collector) RecordPoll(err error) {
	if err != nil {
		c.polls.WithLabelValues("error").Inc()
		return
	}
	c.polls.WithLabelValues("ok").Inc()
}

// RecordStaleSettle counts an ignored superseded write response.
func (c *Collector) RecordStaleSettle() { c.staleSettles.Inc() }

// RecordEventDropped counts a bus drop.
func (c *Collector) RecordEventDropped() { c.eventsDropped.Inc() }
