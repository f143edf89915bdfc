package deltanet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "deltanet"

// metrics holds the Prometheus collectors of one Server.
type metrics struct {
	connections     prometheus.Gauge
	participants    prometheus.Gauge
	observers       prometheus.Gauge
	ticksTotal      prometheus.Counter
	tickDuration    prometheus.Histogram
	tickBytes       prometheus.Histogram
	joinsTotal      *prometheus.CounterVec
	leavesTotal     prometheus.Counter
	messagesTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	validationsLive prometheus.Gauge
}

// newMetrics creates the collectors. A nil registerer leaves them unregistered,
// which keeps several servers in one process (and in tests) from colliding.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Number of tracked connections",
		}),
		participants: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "indices",
			Help:      "Number of occupied indices after the last tick",
		}),
		observers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "observers",
			Help:      "Number of authenticated observers",
		}),
		ticksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ticks_total",
			Help:      "Total number of ticks",
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "tick_duration_seconds",
			Help:      "Tick processing duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		}),
		tickBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "tick_message_bytes",
			Help:      "Encoded size of broadcast tick messages",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		}),
		joinsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "joins_total",
			Help:      "Total number of connections that completed a join",
		}, []string{"role"}),
		leavesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "leaves_total",
			Help:      "Total number of indexed participants that left",
		}),
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "client_messages_total",
			Help:      "Total number of client messages received",
		}, []string{"type"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connection_errors_total",
			Help:      "Total number of connections closed with an error",
		}, []string{"kind", "error_type"}),
		validationsLive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_validations",
			Help:      "Number of asynchronous validations in flight",
		}),
	}
}
