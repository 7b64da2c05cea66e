package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the capture agent, together
// with atomic mirrors of the counters the UI layer reads via Snapshot.
type Metrics struct {
	// Capture metrics
	WindowsCaptured prometheus.Counter
	WindowsFiltered prometheus.Counter
	WindowBytes     prometheus.Histogram
	SourceErrors    prometheus.Counter
	SessionActive   prometheus.Gauge

	// Queue metrics
	ItemsEnqueued prometheus.Counter
	QueueSize     prometheus.Gauge
	QueueDropped  prometheus.Counter

	// Delivery metrics
	ItemsDelivered          prometheus.Counter
	ItemsDiscardedExpired   prometheus.Counter
	ItemsDiscardedExhausted prometheus.Counter
	DeliveryRetries         prometheus.Counter
	DeliveryFailures        prometheus.Counter
	DeliveryDuration        prometheus.Histogram
	SegmentsFiltered        prometheus.Counter

	// Status API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Atomic mirrors for Snapshot
	windowsCaptured    atomic.Uint64
	windowsFiltered    atomic.Uint64
	sourceErrors       atomic.Uint64
	itemsEnqueued      atomic.Uint64
	queueDropped       atomic.Uint64
	itemsDelivered     atomic.Uint64
	discardedExpired   atomic.Uint64
	discardedExhausted atomic.Uint64
	deliveryRetries    atomic.Uint64
	deliveryFailures   atomic.Uint64
	segmentsFiltered   atomic.Uint64
	queueSize          atomic.Int64
	sessionActive      atomic.Bool
}

// Snapshot is a point-in-time copy of the live counters, safe to hand to
// observers without exposing any mutable state.
type Snapshot struct {
	SessionActive           bool   `json:"session_active"`
	WindowsCaptured         uint64 `json:"windows_captured"`
	WindowsFiltered         uint64 `json:"windows_filtered"`
	SourceErrors            uint64 `json:"source_errors"`
	ItemsEnqueued           uint64 `json:"items_enqueued"`
	QueueSize               int64  `json:"queue_size"`
	QueueDropped            uint64 `json:"queue_dropped"`
	ItemsDelivered          uint64 `json:"items_delivered"`
	ItemsDiscardedExpired   uint64 `json:"items_discarded_expired"`
	ItemsDiscardedExhausted uint64 `json:"items_discarded_exhausted"`
	DeliveryRetries         uint64 `json:"delivery_retries"`
	DeliveryFailures        uint64 `json:"delivery_failures"`
	SegmentsFiltered        uint64 `json:"segments_filtered"`
}

// NewMetrics creates and registers all metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in main; tests use a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WindowsCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_windows_captured_total",
			Help: "Total number of speech windows captured and enqueued",
		}),
		WindowsFiltered: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_windows_filtered_total",
			Help: "Total number of windows discarded as silence",
		}),
		WindowBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_window_size_bytes",
			Help:    "Size of encoded capture windows in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		SourceErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_source_errors_total",
			Help: "Total number of unrecoverable sample source errors",
		}),
		SessionActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "capture_session_active",
			Help: "Whether a capture session is currently active (0 or 1)",
		}),

		ItemsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "delivery_items_enqueued_total",
			Help: "Total number of delivery items pushed onto the queue",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "delivery_queue_size",
			Help: "Current number of items awaiting delivery",
		}),
		QueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "delivery_queue_dropped_total",
			Help: "Total number of items evicted from a full bounded queue",
		}),

		ItemsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "delivery_items_delivered_total",
			Help: "Total number of items successfully delivered",
		}),
		ItemsDiscardedExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "delivery_items_discarded_expired_total",
			Help: "Total number of items discarded for exceeding max age",
		}),
		ItemsDiscardedExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "delivery_items_discarded_exhausted_total",
			Help: "Total number of items discarded after exhausting retries",
		}),
		DeliveryRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "delivery_retries_total",
			Help: "Total number of delivery retry attempts",
		}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "delivery_failures_total",
			Help: "Total number of failed delivery attempts",
		}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "delivery_request_duration_seconds",
			Help:    "Duration of delivery requests to the transcription service",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		SegmentsFiltered: factory.NewCounter(prometheus.CounterOpts{
			Name: "delivery_segments_filtered_total",
			Help: "Total segments the service filtered for non-matching speaker",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "status_http_requests_total",
			Help: "Total number of status API requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "status_http_request_duration_seconds",
			Help:    "Duration of status API requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordWindowCaptured records a speech window that was encoded and enqueued.
func (m *Metrics) RecordWindowCaptured(sizeBytes int) {
	m.WindowsCaptured.Inc()
	m.WindowBytes.Observe(float64(sizeBytes))
	m.windowsCaptured.Add(1)
}

// RecordWindowFiltered records a window rejected as silence.
func (m *Metrics) RecordWindowFiltered() {
	m.WindowsFiltered.Inc()
	m.windowsFiltered.Add(1)
}

// RecordSourceError records an unrecoverable sample source failure.
func (m *Metrics) RecordSourceError() {
	m.SourceErrors.Inc()
	m.sourceErrors.Add(1)
}

// SetSessionActive flips the capture lifecycle gauge.
func (m *Metrics) SetSessionActive(active bool) {
	if active {
		m.SessionActive.Set(1)
	} else {
		m.SessionActive.Set(0)
	}
	m.sessionActive.Store(active)
}

// RecordItemEnqueued records a push onto the delivery queue.
func (m *Metrics) RecordItemEnqueued() {
	m.ItemsEnqueued.Inc()
	m.itemsEnqueued.Add(1)
}

// SetQueueSize sets the current delivery queue depth.
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
	m.queueSize.Store(int64(size))
}

// RecordQueueDropped records an eviction from a full bounded queue.
func (m *Metrics) RecordQueueDropped() {
	m.QueueDropped.Inc()
	m.queueDropped.Add(1)
}

// RecordItemDelivered records a successful delivery and its duration.
func (m *Metrics) RecordItemDelivered(durationSeconds float64, filteredSegments int) {
	m.ItemsDelivered.Inc()
	m.DeliveryDuration.Observe(durationSeconds)
	m.itemsDelivered.Add(1)
	if filteredSegments > 0 {
		m.SegmentsFiltered.Add(float64(filteredSegments))
		m.segmentsFiltered.Add(uint64(filteredSegments))
	}
}

// RecordItemDiscardedExpired records an age-based discard.
func (m *Metrics) RecordItemDiscardedExpired() {
	m.ItemsDiscardedExpired.Inc()
	m.discardedExpired.Add(1)
}

// RecordItemDiscardedExhausted records a retry-exhaustion discard.
func (m *Metrics) RecordItemDiscardedExhausted() {
	m.ItemsDiscardedExhausted.Inc()
	m.discardedExhausted.Add(1)
}

// RecordDeliveryRetry records a retry attempt.
func (m *Metrics) RecordDeliveryRetry() {
	m.DeliveryRetries.Inc()
	m.deliveryRetries.Add(1)
}

// RecordDeliveryFailure records a failed delivery attempt and its duration.
func (m *Metrics) RecordDeliveryFailure(durationSeconds float64) {
	m.DeliveryFailures.Inc()
	m.DeliveryDuration.Observe(durationSeconds)
	m.deliveryFailures.Add(1)
}

// RecordHTTPRequest records a status API request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// GetSnapshot returns a point-in-time copy of the live counters.
func (m *Metrics) GetSnapshot() Snapshot {
	return Snapshot{
		SessionActive:           m.sessionActive.Load(),
		WindowsCaptured:         m.windowsCaptured.Load(),
		WindowsFiltered:         m.windowsFiltered.Load(),
		SourceErrors:            m.sourceErrors.Load(),
		ItemsEnqueued:           m.itemsEnqueued.Load(),
		QueueSize:               m.queueSize.Load(),
		QueueDropped:            m.queueDropped.Load(),
		ItemsDelivered:          m.itemsDelivered.Load(),
		ItemsDiscardedExpired:   m.discardedExpired.Load(),
		ItemsDiscardedExhausted: m.discardedExhausted.Load(),
		DeliveryRetries:         m.deliveryRetries.Load(),
		DeliveryFailures:        m.deliveryFailures.Load(),
		SegmentsFiltered:        m.segmentsFiltered.Load(),
	}
}
