// Package metrics provides Prometheus metrics for go-ffmpeg-conformance.
//
// Conformance runs export per-outcome counters, a decode-time histogram
// and progress gauges; perf runs export the last fps per configuration.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/result"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/stats"
)

// decodeBuckets cover sub-second clips up to the default 30 minute timeout.
var decodeBuckets = []float64{
	0.05, 0.1, 0.25, 0.5,
	1, 2.5, 5, 10, 30,
	60, 120, 300, 600, 1800,
}

// =============================================================================
// Collector
// =============================================================================

// Collector owns the harness metrics and the registry they live in.
type Collector struct {
	mu sync.Mutex

	gatherer prometheus.Gatherer

	startTime time.Time
	total     int
	completed int

	// --- Run Overview ---
	info           *prometheus.GaugeVec
	bitstreams     prometheus.Gauge
	progress       prometheus.Gauge
	elapsedSeconds prometheus.Gauge
	workers        prometheus.Gauge

	// --- Outcomes ---
	outcomesTotal       *prometheus.CounterVec
	internalErrorsTotal prometheus.Counter

	// --- Decode Time ---
	decodeSeconds    prometheus.Histogram
	decodeP50Seconds prometheus.Gauge
	decodeP95Seconds prometheus.Gauge
	decodeP99Seconds prometheus.Gauge

	// --- Throughput ---
	fps           *prometheus.GaugeVec
	perfRunsTotal prometheus.Counter
}

// CollectorConfig holds configuration for the metrics collector.
type CollectorConfig struct {
	Version string // "dev" when empty
	Decoder string
	Mode    string
	Workers int
}

// NewCollector creates a collector with its own registry, which also
// carries the Go runtime and process collectors.
func NewCollector(cfg CollectorConfig) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewCollectorWithRegistry(cfg, registry)
}

// NewCollectorWithRegistry creates a collector registered with registry.
func NewCollectorWithRegistry(cfg CollectorConfig, registry *prometheus.Registry) *Collector {
	c := &Collector{
		gatherer:  registry,
		startTime: time.Now(),

		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conformance_info",
				Help: "Information about the run (value always 1)",
			},
			[]string{"version", "decoder", "mode"},
		),
		bitstreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conformance_bitstreams",
			Help: "Bitstreams scheduled in this run",
		}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conformance_progress",
			Help: "Fraction of scheduled bitstreams with an outcome (0.0 to 1.0)",
		}),
		elapsedSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conformance_elapsed_seconds",
			Help: "Seconds since the run started",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conformance_workers",
			Help: "Configured worker pool size",
		}),

		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conformance_outcomes_total",
				Help: "Classified bitstreams by outcome",
			},
			[]string{"outcome"},
		),
		internalErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conformance_internal_errors_total",
			Help: "Bitstreams whose task failed internally and were not classified",
		}),

		decodeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "conformance_decode_duration_seconds",
			Help:    "Wall time of conformance decodes",
			Buckets: decodeBuckets,
		}),
		decodeP50Seconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conformance_decode_duration_p50_seconds",
			Help: "Decode time 50th percentile (median)",
		}),
		decodeP95Seconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conformance_decode_duration_p95_seconds",
			Help: "Decode time 95th percentile",
		}),
		decodeP99Seconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conformance_decode_duration_p99_seconds",
			Help: "Decode time 99th percentile",
		}),

		fps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conformance_perf_fps",
				Help: "Last measured decode throughput in frames per second",
			},
			[]string{"sequence", "threads", "simd"},
		),
		perfRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conformance_perf_runs_total",
			Help: "Completed throughput runs",
		}),
	}

	registry.MustRegister(
		c.info,
		c.bitstreams,
		c.progress,
		c.elapsedSeconds,
		c.workers,
		c.outcomesTotal,
		c.internalErrorsTotal,
		c.decodeSeconds,
		c.decodeP50Seconds,
		c.decodeP95Seconds,
		c.decodeP99Seconds,
		c.fps,
		c.perfRunsTotal,
	)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.Decoder, cfg.Mode).Set(1)
	c.workers.Set(float64(cfg.Workers))

	// Every outcome is exported from the start so rate() sees zeros.
	for _, o := range result.ReportOrder {
		c.outcomesTotal.WithLabelValues(o.Label())
	}

	return c
}

// =============================================================================
// Update Methods
// =============================================================================

// Start records the number of scheduled bitstreams and resets progress.
func (c *Collector) Start(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.total = total
	c.completed = 0
	c.bitstreams.Set(float64(total))
	c.progress.Set(0)
	c.elapsedSeconds.Set(0)
}

// RecordOutcome counts one classified bitstream. Undecoded outcomes
// (SKIPPED) do not contribute to the decode-time histogram.
func (c *Collector) RecordOutcome(o result.Outcome, decoded bool, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outcomesTotal.WithLabelValues(o.Label()).Inc()
	if decoded {
		c.decodeSeconds.Observe(d.Seconds())
	}
	c.advance()
}

// RecordInternalError counts one bitstream whose task failed internally.
func (c *Collector) RecordInternalError() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.internalErrorsTotal.Inc()
	c.advance()
}

// advance updates progress; callers hold c.mu.
func (c *Collector) advance() {
	c.completed++
	if c.total > 0 {
		p := float64(c.completed) / float64(c.total)
		if p > 1.0 {
			p = 1.0
		}
		c.progress.Set(p)
	}
	c.elapsedSeconds.Set(time.Since(c.startTime).Seconds())
}

// RecordPercentiles publishes decode-time quantiles from a digest.
func (c *Collector) RecordPercentiles(p stats.Percentiles) {
	c.decodeP50Seconds.Set(p.P50.Seconds())
	c.decodeP95Seconds.Set(p.P95.Seconds())
	c.decodeP99Seconds.Set(p.P99.Seconds())
}

// RecordFPS publishes one throughput measurement.
func (c *Collector) RecordFPS(sequence string, threads int, simd bool, fps float64) {
	c.fps.WithLabelValues(sequence, strconv.Itoa(threads), strconv.FormatBool(simd)).Set(fps)
	c.perfRunsTotal.Inc()
}

// Progress returns the bitstreams recorded since Start and the number
// scheduled.
func (c *Collector) Progress() (completed, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed, c.total
}

// Gatherer returns the gatherer for the collector's registry.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.gatherer
}
