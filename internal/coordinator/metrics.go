package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// serverMetrics are registered on a per-server registry so several servers
// (and tests) can coexist in one process.
type serverMetrics struct {
	registry       *prometheus.Registry
	verifications  *prometheus.CounterVec
	heartbeats     prometheus.Counter
	authRejections *prometheus.CounterVec
	activeNodes    prometheus.Gauge
	// snapshotFailures counts periodic snapshot writes that failed.
	snapshotFailures prometheus.Counter
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{
		registry: prometheus.NewRegistry(),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayctl_verifications_total",
			Help: "Password verification attempts by result.",
		}, []string{"result"}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayctl_heartbeats_total",
			Help: "Accepted relay heartbeats.",
		}),
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayctl_auth_rejections_total",
			Help: "Requests rejected by the session check, by reason.",
		}, []string{"reason"}),
		activeNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relayctl_active_nodes",
			Help: "Live relay nodes at the last registry read.",
		}),
		snapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayctl_snapshot_failures_total",
			Help: "Periodic registry snapshot writes that failed.",
		}),
	}
	m.registry.MustRegister(
		m.verifications,
		m.heartbeats,
		m.authRejections,
		m.activeNodes,
		m.snapshotFailures,
		collectors.NewGoCollector(),
	)
	return m
}
