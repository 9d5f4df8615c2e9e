package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	gatherer prometheus.Gatherer

	sessionsActive    prometheus.Gauge
	snapshots         *prometheus.CounterVec
	actionsReceived   *prometheus.CounterVec
	actionsPublished  *prometheus.CounterVec
	transportFailures *prometheus.CounterVec
}

// New registers the collectors on reg. Use a fresh prometheus.NewRegistry per
// process (or per test) to avoid duplicate registration.
func New(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		gatherer: reg,

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomsync_sessions_active",
			Help: "Number of open room sessions",
		}),

		snapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_snapshots_total",
			Help: "Durable room snapshots processed, by reconciliation outcome",
		}, []string{"outcome"}),

		actionsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_actions_received_total",
			Help: "Actions received from the bus, by kind and outcome",
		}, []string{"kind", "outcome"}),

		actionsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_actions_published_total",
			Help: "Actions published to the bus, by kind",
		}, []string{"kind"}),

		transportFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_transport_failures_total",
			Help: "Failed store writes and bus publishes, by operation",
		}, []string{"op"}),
	}
}

func (c *Collector) SessionOpened() {
	c.sessionsActive.Inc()
}

func (c *Collector) SessionClosed() {
	c.sessionsActive.Dec()
}

func (c *Collector) SnapshotProcessed(outcome string) {
	c.snapshots.WithLabelValues(outcome).Inc()
}

func (c *Collector) ActionReceived(kind, outcome string) {
	c.actionsReceived.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) ActionPublished(kind string) {
	c.actionsPublished.WithLabelValues(kind).Inc()
}

func (c *Collector) TransportFailed(op string) {
	c.transportFailures.WithLabelValues(op).Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
