package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediarelay/internal/logging"
	"mediarelay/internal/queue"
)

const namespace = "mediarelay"

// StatsSource reports job counts by status. queue.Store satisfies it.
type StatsSource interface {
	Stats(ctx context.Context) (map[queue.Status]int, error)
}

// Collectors owns the registry and every mediarelay metric.
type Collectors struct {
	registry *prometheus.Registry

	enqueued   *prometheus.CounterVec
	claimed    prometheus.Counter
	finalized  *prometheus.CounterVec
	delegation *prometheus.HistogramVec
	purged     prometheus.Counter
}

// New registers the collectors. When stats is non-nil, queue depth is read
// from it at scrape time.
func New(stats StatsSource, logger *slog.Logger) *Collectors {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	c := &Collectors{
		registry: registry,
		enqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Discovered items submitted to the queue, by result.",
		}, []string{"result"}),
		claimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "Jobs claimed by this worker.",
		}),
		finalized: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finalized_total",
			Help:      "Claimed jobs whose outcome was recorded, by status.",
		}, []string{"status"}),
		delegation: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delegation_seconds",
			Help:      "Time spent in the relay processor per job.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"outcome"}),
		purged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_purged_total",
			Help:      "Processed jobs removed by the retention sweep.",
		}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if stats != nil {
		registry.MustRegister(newQueueDepthCollector(stats, logger))
	}
	return c
}

// Registry returns the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collectors) JobEnqueued(result string) {
	c.enqueued.WithLabelValues(result).Inc()
}

func (c *Collectors) JobClaimed() {
	c.claimed.Inc()
}

func (c *Collectors) JobFinalized(status queue.Status) {
	c.finalized.WithLabelValues(status.String()).Inc()
}

func (c *Collectors) DelegationObserved(outcome string, elapsed time.Duration) {
	c.delegation.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (c *Collectors) JobsPurged(n int64) {
	if n > 0 {
		c.purged.Add(float64(n))
	}
}

// queueDepthCollector reads per-status counts from the store on each scrape.
type queueDepthCollector struct {
	stats  StatsSource
	logger *slog.Logger
	desc   *prometheus.Desc
}

func newQueueDepthCollector(stats StatsSource, logger *slog.Logger) *queueDepthCollector {
	return &queueDepthCollector{
		stats:  stats,
		logger: logging.NewComponentLogger(logger, "metrics"),
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_depth"),
			"Jobs in the queue by status.",
			[]string{"status"}, nil,
		),
	}
}

func (q *queueDepthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- q.desc
}

func (q *queueDepthCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stats, err := q.stats.Stats(ctx)
	if err != nil {
		q.logger.Warn("queue depth unavailable", logging.Error(err))
		return
	}
	for _, status := range queue.AllStatuses() {
		ch <- prometheus.MustNewConstMetric(q.desc, prometheus.GaugeValue, float64(stats[status]), status.String())
	}
}
