package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector holds the loader's Prometheus metrics on its own registry.
type Collector struct {
	logger *zap.Logger

	// Counters
	tablesLoaded  *prometheus.CounterVec
	tablesFailed  *prometheus.CounterVec
	tablesDropped prometheus.Counter
	tablesCreated prometheus.Counter
	filesStaged   prometheus.Counter
	bytesStaged   prometheus.Counter
	runsTotal     *prometheus.CounterVec

	// Histograms
	runDuration  prometheus.Histogram
	waitDuration prometheus.Histogram

	registry *prometheus.Registry
}

// NewCollector creates a collector; a nil logger is allowed.
func NewCollector(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()

	c := &Collector{
		logger:   logger,
		registry: registry,

		tablesLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ucl_loader_tables_loaded_total",
			Help: "Tables whose load job and metadata writes succeeded",
		}, []string{"mode"}),

		tablesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ucl_loader_tables_failed_total",
			Help: "Tables whose load failed",
		}, []string{"mode"}),

		tablesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ucl_loader_tables_dropped_total",
			Help: "Freshly created tables dropped after a failed load",
		}),

		tablesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ucl_loader_tables_created_total",
			Help: "Tables created from a typed definition",
		}),

		filesStaged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ucl_loader_files_staged_total",
			Help: "Output files uploaded to staging",
		}),

		bytesStaged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ucl_loader_staged_bytes_total",
			Help: "Bytes uploaded to staging",
		}),

		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ucl_loader_runs_total",
			Help: "Loader runs by outcome",
		}, []string{"outcome"}),

		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ucl_loader_run_duration_seconds",
			Help:    "Duration of a whole loader run",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
		}),

		waitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ucl_loader_wait_duration_seconds",
			Help:    "Time spent waiting for all load jobs of a run",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	registry.MustRegister(
		c.tablesLoaded,
		c.tablesFailed,
		c.tablesDropped,
		c.tablesCreated,
		c.filesStaged,
		c.bytesStaged,
		c.runsTotal,
		c.runDuration,
		c.waitDuration,
		collectors.NewGoCollector(),
	)

	c.logger.Debug("metrics collector initialized")
	return c
}

// Registry exposes the collector's registry for tests and embedding.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordTableLoaded counts a successful table load in mode ("native" or "basetype").
func (c *Collector) RecordTableLoaded(mode string) {
	c.tablesLoaded.WithLabelValues(mode).Inc()
}

func (c *Collector) RecordTableFailed(mode string) {
	c.tablesFailed.WithLabelValues(mode).Inc()
}

func (c *Collector) RecordTablesDropped(n int) {
	c.tablesDropped.Add(float64(n))
}

func (c *Collector) RecordTableCreated() {
	c.tablesCreated.Inc()
}

// RecordFileStaged counts one staged output and its size.
func (c *Collector) RecordFileStaged(sizeBytes int64) {
	c.filesStaged.Inc()
	c.bytesStaged.Add(float64(sizeBytes))
}

// RecordRun records the outcome ("success", "partial", "failed") and duration of a run.
func (c *Collector) RecordRun(outcome string, d time.Duration) {
	c.runsTotal.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(d.Seconds())
}

func (c *Collector) RecordWait(d time.Duration) {
	c.waitDuration.Observe(d.Seconds())
}
