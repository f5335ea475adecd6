// Package metrics exposes prometheus meters for flows, the notary and state
// synchronization.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	bnerrors "github.com/cmwaters/bnms/pkg/errors"
)

const (
	StatusOK    = "ok"
	StatusError = "error"

	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Metrics holds a private registry and the node's meters. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Registry        *prometheus.Registry
	FlowDuration    *prometheus.HistogramVec
	FlowTotal       *prometheus.CounterVec
	NotaryConflicts prometheus.Counter
	SyncStates      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	flowDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bnms_flow_duration_seconds",
		Help:    "Duration of initiated flows in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"flow", "status"})

	flowTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bnms_flow_total",
		Help: "Total number of initiated flows.",
	}, []string{"flow", "status"})

	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bnms_notary_conflicts_total",
		Help: "Total number of commits rejected for consuming spent states or reissuing identifiers.",
	})

	syncStates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bnms_sync_states_total",
		Help: "Total number of states pushed to or received from other parties.",
	}, []string{"direction"})

	reg.MustRegister(flowDuration, flowTotal, conflicts, syncStates)

	return &Metrics{
		Registry:        reg,
		FlowDuration:    flowDuration,
		FlowTotal:       flowTotal,
		NotaryConflicts: conflicts,
		SyncStates:      syncStates,
	}
}

// Status maps an error to a label value: ok, the taxonomy kind, or error.
func Status(err error) string {
	if err == nil {
		return StatusOK
	}
	if kind := bnerrors.KindOf(err); kind != 0 {
		return strings.ReplaceAll(kind.String(), " ", "_")
	}
	return StatusError
}

// ObserveFlow records one completed flow.
func (m *Metrics) ObserveFlow(flow string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := Status(err)
	m.FlowTotal.WithLabelValues(flow, status).Inc()
	m.FlowDuration.WithLabelValues(flow, status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.NotaryConflicts.Inc()
}

func (m *Metrics) ObserveSync(direction string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SyncStates.WithLabelValues(direction).Add(float64(n))
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
