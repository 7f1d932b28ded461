package gate

import "github.com/prometheus/client_golang/prometheus"

// Metrics are this gate's Prometheus instruments. DroppedFrames in
// particular counts the delay-queue drop-oldest discards: no notification
// reaches the frame's original sender when it is silently discarded (that
// would require plumbing the original frame's reverse route, which nothing
// in this system does), so this counter and Router.DelayedErrors are how
// the drop is observed.
type Metrics struct {
	DroppedFrames prometheus.Counter
	DelayQueued   prometheus.Counter
	Forwarded     prometheus.Counter
}

// NewMetrics registers this gate's instruments against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simple_mesh", Subsystem: "gate", Name: "dropped_frames_total",
			Help: "Frames discarded from a delay queue on overflow.",
		}),
		DelayQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simple_mesh", Subsystem: "gate", Name: "delay_queued_total",
			Help: "Frames queued for a destination service not yet registered.",
		}),
		Forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simple_mesh", Subsystem: "gate", Name: "forwarded_total",
			Help: "Frames successfully routed to a local ring or peer connector.",
		}),
	}
	reg.MustRegister(m.DroppedFrames, m.DelayQueued, m.Forwarded)
	return m
}
