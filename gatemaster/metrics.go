package gatemaster

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the master's Prometheus instruments; the distilled
// component table implies observability ("topology", "failover") without
// specifying a wire format for it, so these are additions rather than
// ported behavior.
type Metrics struct {
	RegisteredGates    prometheus.Gauge
	RegisteredServices prometheus.Gauge
	PeerDisconnects    prometheus.Counter
}

// NewMetrics registers the master's instruments against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RegisteredGates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "simple_mesh", Subsystem: "gatemaster", Name: "registered_gates",
			Help: "Number of gates currently registered with the master.",
		}),
		RegisteredServices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "simple_mesh", Subsystem: "gatemaster", Name: "registered_services",
			Help: "Number of service records known to the master.",
		}),
		PeerDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simple_mesh", Subsystem: "gatemaster", Name: "peer_disconnects_total",
			Help: "Count of gate-peer disconnects observed by the master.",
		}),
	}
	reg.MustRegister(m.RegisteredGates, m.RegisteredServices, m.PeerDisconnects)
	return m
}

// Refresh updates the gauges from a registry snapshot; call after any
// mutation that should move the needle.
func (m *Metrics) Refresh(r *Registry) {
	gates, services := r.Snapshot()
	m.RegisteredGates.Set(float64(len(gates)))
	m.RegisteredServices.Set(float64(len(services)))
}
