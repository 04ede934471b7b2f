// Package metrics exports Prometheus metrics for ingestion runs.
//
// Package-level collectors are registered with the default registry on
// import. A Collector binds them to one job run and is normally fed by the
// run's event bus:
//
//	c := metrics.NewCollector("event", "gcs")
//	c.Attach(bus)
//	http.Handle("/metrics", metrics.Handler())
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajitpratap0/storage-mixpanel/pkg/events"
)

const namespace = "storage_mixpanel"

var (
	// RecordsProcessed counts records by pipeline stage and outcome.
	// Labels: stage (parse/upload), record_type, status (success/failed)
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Total number of records processed",
		},
		[]string{"stage", "record_type", "status"},
	)

	// BytesDownloaded counts raw object bytes read from storage.
	BytesDownloaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_downloaded_total",
			Help:      "Bytes downloaded from object storage",
		},
		[]string{"storage"},
	)

	// Files counts per-object operations.
	// Labels: storage, operation (download/delete), status
	Files = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Object operations by outcome",
		},
		[]string{"storage", "operation", "status"},
	)

	// Batches counts sink batches by outcome.
	Batches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches flushed to the sink",
		},
		[]string{"record_type", "status"},
	)

	// BatchLatency tracks sink flush latency in seconds.
	BatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_latency_seconds",
			Help:      "Sink batch latency",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"record_type"},
	)

	// HTTPRequests counts outbound API requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Outbound HTTP requests",
		},
		[]string{"method", "host", "code"},
	)

	// HTTPLatency tracks outbound request latency in seconds.
	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Outbound HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "host"},
	)

	// Retries counts retried sink requests.
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried sink requests",
		},
		[]string{"record_type"},
	)

	// QueueDepth is the number of records buffered between download and upload.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Records buffered in the stage channel",
		},
		[]string{"record_type"},
	)

	// Throughput is the most recent upload rate in records per second.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throughput_records_per_second",
			Help:      "Upload throughput",
		},
		[]string{"record_type"},
	)

	// JobDuration tracks whole-run wall time in seconds.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job wall time",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"record_type", "status"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}

// Collector records metrics for one job run.
type Collector struct {
	recordType string
	storage    string
	startTime  time.Time
}

// NewCollector creates a collector labelled with the job's record type and
// storage kind.
func NewCollector(recordType, storage string) *Collector {
	return &Collector{
		recordType: recordType,
		storage:    storage,
		startTime:  time.Now(),
	}
}

// StartTime returns when the collector was created.
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// Attach subscribes the collector to a run's lifecycle events.
func (c *Collector) Attach(bus *events.Bus) {
	bus.On(events.FileDownloadEnd, func(e events.Event) {
		Files.WithLabelValues(c.storage, "download", status(e.Err)).Inc()
		if e.Err == nil {
			BytesDownloaded.WithLabelValues(c.storage).Add(float64(e.Size))
		}
	})
	bus.On(events.FileDeleteEnd, func(e events.Event) {
		Files.WithLabelValues(c.storage, "delete", status(e.Err)).Inc()
	})
	bus.On(events.Batch, func(e events.Event) {
		Batches.WithLabelValues(c.recordType, status(e.Err)).Inc()
		RecordsProcessed.WithLabelValues("upload", c.recordType, status(e.Err)).Add(float64(e.Count))
	})
}

// AddParsed counts records decoded from one object.
func (c *Collector) AddParsed(n int) {
	RecordsProcessed.WithLabelValues("parse", c.recordType, "success").Add(float64(n))
}

// ObserveBatch records the latency of one sink flush.
func (c *Collector) ObserveBatch(d time.Duration) {
	BatchLatency.WithLabelValues(c.recordType).Observe(d.Seconds())
}

// AddRetries records retried requests.
func (c *Collector) AddRetries(n int) {
	if n > 0 {
		Retries.WithLabelValues(c.recordType).Add(float64(n))
	}
}

// SetQueueDepth reports the stage channel depth.
func (c *Collector) SetQueueDepth(n int) {
	QueueDepth.WithLabelValues(c.recordType).Set(float64(n))
}

// SetThroughput reports the upload rate.
func (c *Collector) SetThroughput(eps float64) {
	Throughput.WithLabelValues(c.recordType).Set(eps)
}

// Finish records the job duration.
func (c *Collector) Finish(err error) time.Duration {
	d := time.Since(c.startTime)
	JobDuration.WithLabelValues(c.recordType, status(err)).Observe(d.Seconds())
	return d
}

// Timer measures a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed time since the timer started. It may be called
// more than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
