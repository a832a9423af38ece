// Package metrics provides Prometheus collectors for native region management
// and the streaming pipeline
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HeapMetrics contains Prometheus metrics for native region lifecycles and
// native export calls. It satisfies heap.Recorder and wasmhost.CallObserver.
type HeapMetrics struct {
	registry *prometheus.Registry

	// Region metrics
	allocationsTotal *prometheus.CounterVec
	releasesTotal    *prometheus.CounterVec
	reusesTotal      *prometheus.CounterVec
	failuresTotal    *prometheus.CounterVec
	liveRegions      *prometheus.GaugeVec
	liveBytes        *prometheus.GaugeVec
	allocationSize   *prometheus.HistogramVec

	// Native call metrics
	nativeCallsTotal   *prometheus.CounterVec
	nativeCallDuration *prometheus.HistogramVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewHeapMetrics creates and registers new heap metrics
func NewHeapMetrics(registry *prometheus.Registry) (*HeapMetrics, error) {
	m := &HeapMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *HeapMetrics) initMetrics() {
	m.allocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heapbridge_region_allocations_total",
			Help: "Total number of native region allocations",
		},
		[]string{"region"},
	)

	m.releasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heapbridge_region_releases_total",
			Help: "Total number of native region releases",
		},
		[]string{"region"},
	)

	m.reusesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heapbridge_region_reuses_total",
			Help: "Total number of ensure calls satisfied by an existing region",
		},
		[]string{"region"},
	)

	m.failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heapbridge_region_failures_total",
			Help: "Total number of failed native allocations and releases",
		},
		[]string{"region", "kind"},
	)

	m.liveRegions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "heapbridge_live_regions",
			Help: "Number of native regions currently allocated",
		},
		[]string{"region"},
	)

	m.liveBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "heapbridge_live_bytes",
			Help: "Bytes of native memory currently held by regions",
		},
		[]string{"region"},
	)

	m.allocationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heapbridge_region_allocation_bytes",
			Help:    "Size of native region allocations in bytes",
			Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount20),
		},
		[]string{"region"},
	)

	m.nativeCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heapbridge_native_calls_total",
			Help: "Total number of calls into native module exports",
		},
		[]string{"export", "status"},
	)

	m.nativeCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heapbridge_native_call_duration_seconds",
			Help:    "Duration of calls into native module exports",
			Buckets: prometheus.ExponentialBuckets(BucketStart1us, BucketFactor2, BucketCount20),
		},
		[]string{"export"},
	)

	m.collectors = []prometheus.Collector{
		m.allocationsTotal,
		m.releasesTotal,
		m.reusesTotal,
		m.failuresTotal,
		m.liveRegions,
		m.liveBytes,
		m.allocationSize,
		m.nativeCallsTotal,
		m.nativeCallDuration,
	}
}

// Describe implements the Collector interface
func (m *HeapMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *HeapMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Region lifecycle recording methods. Manager IDs are not used as labels
// since every processed file gets its own manager.

// RecordAllocation records a successful native allocation
func (m *HeapMetrics) RecordAllocation(_, regionID string, size int) {
	m.allocationsTotal.WithLabelValues(regionID).Inc()
	m.allocationSize.WithLabelValues(regionID).Observe(float64(size))
	m.liveRegions.WithLabelValues(regionID).Inc()
	m.liveBytes.WithLabelValues(regionID).Add(float64(size))
}

// RecordRelease records a region leaving the table
func (m *HeapMetrics) RecordRelease(_, regionID string, size int) {
	m.releasesTotal.WithLabelValues(regionID).Inc()
	m.liveRegions.WithLabelValues(regionID).Dec()
	m.liveBytes.WithLabelValues(regionID).Sub(float64(size))
}

// RecordReuse records an ensure call that kept the existing region
func (m *HeapMetrics) RecordReuse(_, regionID string) {
	m.reusesTotal.WithLabelValues(regionID).Inc()
}

// RecordFailure records a failed allocation or release
func (m *HeapMetrics) RecordFailure(_, regionID, kind string) {
	m.failuresTotal.WithLabelValues(regionID, kind).Inc()
}

// ObserveNativeCall records the duration and outcome of a native export call
func (m *HeapMetrics) ObserveNativeCall(export string, duration time.Duration, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.nativeCallsTotal.WithLabelValues(export, status).Inc()
	m.nativeCallDuration.WithLabelValues(export).Observe(duration.Seconds())
}
