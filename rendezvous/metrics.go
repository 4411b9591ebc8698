package rendezvous

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics mirrors the shape of the teacher's expvar stats struct, but as
// real prometheus collectors. Each Server owns its own prometheus.Registry
// rather than registering onto the global default one, so that creating
// more than one Server in the same process (every table-driven test here
// does exactly that) never collides on metric names.
type metrics struct {
	registry *prometheus.Registry

	sessionsCreated prometheus.Counter
	sessionsJoined  prometheus.Counter
	pollTimeouts    prometheus.Counter
	activeSessions  prometheus.Gauge
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "wormdrop_rendezvous_sessions_created_total",
			Help: "Sessions created via POST /api/sessions.",
		}),
		sessionsJoined: factory.NewCounter(prometheus.CounterOpts{
			Name: "wormdrop_rendezvous_sessions_joined_total",
			Help: "Sessions successfully joined via POST /api/sessions/join.",
		}),
		pollTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "wormdrop_rendezvous_poll_timeouts_total",
			Help: "Long-poll requests that hit the server-side deadline.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wormdrop_rendezvous_active_sessions",
			Help: "Sessions currently held by the registry.",
		}),
	}
}
