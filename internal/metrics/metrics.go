// Package metrics exposes the scheduler's Prometheus surface. Grounded
// on the teacher's internal/metrics.Collector, generalized from a fixed
// enqueue/dispatch/complete/fail/dead counter set to the classification
// outcomes this scheduler actually produces (success, blackhole,
// rejected, other-retry, dead), each labeled by priority so a single
// Collector instance covers every level of a PrioritizingJobScheduler.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the process-wide metrics registry for a kestrel
// scheduler instance.
type Collector struct {
	jobsPut        *prometheus.CounterVec
	jobsDispatched *prometheus.CounterVec
	jobsBlackholed *prometheus.CounterVec
	jobsRejected   *prometheus.CounterVec
	jobsRetried    *prometheus.CounterVec
	jobsDead       *prometheus.CounterVec
	jobLatency     *prometheus.HistogramVec
	strobeRuns     *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	activeThreads  *prometheus.GaugeVec
}

// NewCollector builds and registers every metric against the default
// Prometheus registry, matching the teacher's NewCollector +
// MustRegister pattern.
func NewCollector() *Collector {
	c := &Collector{
		jobsPut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_jobs_put_total",
			Help: "Total number of jobs put onto a queue",
		}, []string{"priority", "queue"}),
		jobsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_jobs_dispatched_total",
			Help: "Total number of jobs handed to a worker that completed successfully",
		}, []string{"priority"}),
		jobsBlackholed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_jobs_blackholed_total",
			Help: "Total number of jobs dropped silently (blackhole classification)",
		}, []string{"priority"}),
		jobsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_jobs_rejected_total",
			Help: "Total number of jobs re-enqueued without an error count increment",
		}, []string{"priority"}),
		jobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_jobs_retried_total",
			Help: "Total number of jobs re-enqueued onto the error queue",
		}, []string{"priority"}),
		jobsDead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_jobs_dead_total",
			Help: "Total number of jobs moved to the bad job sink",
		}, []string{"priority"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kestrel_job_latency_seconds",
			Help:    "Time between enqueue and classification, in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"priority"}),
		strobeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_strobe_runs_total",
			Help: "Total number of retry strobe cycles executed",
		}, []string{"priority"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kestrel_queue_depth",
			Help: "Current number of pending entries in a queue",
		}, []string{"priority", "queue"}),
		activeThreads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kestrel_active_threads",
			Help: "Current number of busy worker goroutines",
		}, []string{"priority"}),
	}

	prometheus.MustRegister(
		c.jobsPut,
		c.jobsDispatched,
		c.jobsBlackholed,
		c.jobsRejected,
		c.jobsRetried,
		c.jobsDead,
		c.jobLatency,
		c.strobeRuns,
		c.queueDepth,
		c.activeThreads,
	)

	return c
}

func (c *Collector) RecordPut(priority, queue string) {
	c.jobsPut.WithLabelValues(priority, queue).Inc()
}

func (c *Collector) RecordDispatch(priority string) {
	c.jobsDispatched.WithLabelValues(priority).Inc()
}

func (c *Collector) RecordBlackhole(priority string, latencySeconds float64) {
	c.jobsBlackholed.WithLabelValues(priority).Inc()
	c.jobLatency.WithLabelValues(priority).Observe(latencySeconds)
}

func (c *Collector) RecordRejected(priority string, latencySeconds float64) {
	c.jobsRejected.WithLabelValues(priority).Inc()
	c.jobLatency.WithLabelValues(priority).Observe(latencySeconds)
}

func (c *Collector) RecordRetried(priority string, latencySeconds float64) {
	c.jobsRetried.WithLabelValues(priority).Inc()
	c.jobLatency.WithLabelValues(priority).Observe(latencySeconds)
}

func (c *Collector) RecordDead(priority string, latencySeconds float64) {
	c.jobsDead.WithLabelValues(priority).Inc()
	c.jobLatency.WithLabelValues(priority).Observe(latencySeconds)
}

func (c *Collector) RecordStrobeRun(priority string) {
	c.strobeRuns.WithLabelValues(priority).Inc()
}

func (c *Collector) SetQueueDepth(priority, queue string, depth int) {
	c.queueDepth.WithLabelValues(priority, queue).Set(float64(depth))
}

func (c *Collector) SetActiveThreads(priority string, n int) {
	c.activeThreads.WithLabelValues(priority).Set(float64(n))
}

// StartServer serves the Prometheus text exposition format on
// /metrics, matching the teacher's StartServer(port) signature.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
