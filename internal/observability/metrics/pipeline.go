package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for streaming audio through native modules
type PipelineMetrics struct {
	registry *prometheus.Registry

	filesTotal      *prometheus.CounterVec
	framesTotal     prometheus.Counter
	blocksTotal     prometheus.Counter
	blockDuration   prometheus.Histogram
	fileDuration    prometheus.Histogram
	activeFiles     prometheus.Gauge
	bufferedBytes   prometheus.Gauge
	processingError *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewPipelineMetrics creates and registers new pipeline metrics
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.filesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heapbridge_pipeline_files_total",
			Help: "Total number of processed files by format and status",
		},
		[]string{"format", "status"},
	)

	m.framesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heapbridge_pipeline_frames_total",
		Help: "Total number of audio frames passed through native modules",
	})

	m.blocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heapbridge_pipeline_blocks_total",
		Help: "Total number of blocks handed to native modules",
	})

	m.blockDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "heapbridge_pipeline_block_duration_seconds",
		Help:    "Time to stage, process and read back one block",
		Buckets: prometheus.ExponentialBuckets(BucketStart1us, BucketFactor2, BucketCount20),
	})

	m.fileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "heapbridge_pipeline_file_duration_seconds",
		Help:    "Time to process one file end to end",
		Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount15),
	})

	m.activeFiles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heapbridge_pipeline_active_files",
		Help: "Number of files currently being processed",
	})

	m.bufferedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heapbridge_pipeline_buffered_bytes",
		Help: "Decoded bytes waiting in block framing buffers",
	})

	m.processingError = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heapbridge_pipeline_errors_total",
			Help: "Total number of pipeline errors by stage",
		},
		[]string{"stage"},
	)

	m.collectors = []prometheus.Collector{
		m.filesTotal,
		m.framesTotal,
		m.blocksTotal,
		m.blockDuration,
		m.fileDuration,
		m.activeFiles,
		m.bufferedBytes,
		m.processingError,
	}
}

// Describe implements the Collector interface
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// FileStarted marks a file as in progress
func (m *PipelineMetrics) FileStarted() {
	m.activeFiles.Inc()
}

// FileFinished records the outcome of one file
func (m *PipelineMetrics) FileFinished(format string, duration time.Duration, err error) {
	m.activeFiles.Dec()
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.filesTotal.WithLabelValues(format, status).Inc()
	m.fileDuration.Observe(duration.Seconds())
}

// BlockProcessed records one block of frames passing through the module
func (m *PipelineMetrics) BlockProcessed(frames int, duration time.Duration) {
	m.blocksTotal.Inc()
	m.framesTotal.Add(float64(frames))
	m.blockDuration.Observe(duration.Seconds())
}

// AddBufferedBytes adjusts the framing buffer gauge by delta
func (m *PipelineMetrics) AddBufferedBytes(delta int) {
	m.bufferedBytes.Add(float64(delta))
}

// RecordError records a failure in the named stage
func (m *PipelineMetrics) RecordError(stage string) {
	m.processingError.WithLabelValues(stage).Inc()
}
