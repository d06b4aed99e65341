package processor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "alarm"
	subsystem = "processor"
)

type metrics struct {
	registry *prometheus.Registry

	processed     *prometheus.CounterVec
	published     *prometheus.CounterVec
	overrideOps   *prometheus.CounterVec
	expired       *prometheus.CounterVec
	malformed     *prometheus.CounterVec
	suppressed    prometheus.Counter
	unchanged     prometheus.Counter
	fatal         prometheus.Counter
	queueSize     *prometheus.GaugeVec
	sweepDuration prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),

		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "items_processed_total",
			Help:      "Number of partition work items processed.",
		}, []string{"kind"}),

		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records_published_total",
			Help:      "Number of records written to output topics.",
		}, []string{"topic"}),

		overrideOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "override_commands_total",
			Help:      "Number of override commands issued by the pipeline.",
		}, []string{"stage", "kind", "op"}),

		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "overrides_expired_total",
			Help:      "Number of overrides removed by the expiration sweep.",
		}, []string{"kind"}),

		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "malformed_records_total",
			Help:      "Number of input records rejected as malformed.",
		}, []string{"source"}),

		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "latching_suppressed_total",
			Help:      "Number of updates held back while a latch is confirmed.",
		}),

		unchanged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "unchanged_total",
			Help:      "Number of evaluations that did not change the effective state.",
		}),

		fatal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fatal_errors_total",
			Help:      "Number of fatal store errors.",
		}),

		queueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_size",
			Help:      "The size of partition queues.",
		}, []string{"partition"}),

		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "expiration_sweep_duration_seconds",
			Help:      "Expiration sweep latencies in seconds.",
			Buckets:   []float64{.0001, .001, .01, .1, 1},
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.processed,
		m.published,
		m.overrideOps,
		m.expired,
		m.malformed,
		m.suppressed,
		m.unchanged,
		m.fatal,
		m.queueSize,
		m.sweepDuration,
	)

	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
