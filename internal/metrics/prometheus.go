package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the audio feature streamer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Ingestion metrics
	BatchesIngested prometheus.Counter
	FramesIngested  prometheus.Counter
	BufferFrames    prometheus.Gauge
	CaptureErrors   prometheus.Counter

	// Scheduler metrics
	CadenceFired  *prometheus.CounterVec
	EventsDropped *prometheus.CounterVec
	QueueDepth    prometheus.Gauge

	// Feature metrics
	FeatureValue       *prometheus.GaugeVec
	FeatureExtractTime prometheus.Histogram

	// Telemetry metrics
	PublishAttempts  prometheus.Counter
	PublishSuccesses prometheus.Counter
	PublishFailures  prometheus.Counter
	PublishDuration  prometheus.Histogram
	FallbackStored   *prometheus.CounterVec

	// Persistence metrics
	AudioFilesWritten  prometheus.Counter
	AudioWriteFailures prometheus.Counter
	AudioFileSize      prometheus.Histogram
	SegmentsFlushed    prometheus.Counter
	SinkFailures       *prometheus.CounterVec
	SegmentsPending    prometheus.Gauge

	// Time reference
	TimeSynced prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BatchesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamer_batches_ingested_total",
			Help: "Total number of capture batches appended to the rolling buffer",
		}),
		FramesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamer_frames_ingested_total",
			Help: "Total number of audio frames appended to the rolling buffer",
		}),
		BufferFrames: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamer_buffer_frames",
			Help: "Current number of frames held in the rolling buffer",
		}),
		CaptureErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamer_capture_errors_total",
			Help: "Total number of rejected capture batches",
		}),

		CadenceFired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamer_cadence_fired_total",
			Help: "Total number of cadence firings by event type",
		}, []string{"event"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamer_events_dropped_total",
			Help: "Total number of cadence events dropped because the worker queue was full",
		}, []string{"event"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamer_queue_depth",
			Help: "Current number of events waiting for the worker",
		}),

		FeatureValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamer_feature_value",
			Help: "Most recent value of each extracted feature",
		}, []string{"feature"}),
		FeatureExtractTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamer_feature_extract_duration_seconds",
			Help:    "Time spent extracting features from one window",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
		}),

		PublishAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamer_publish_attempts_total",
			Help: "Total number of remote publish attempts",
		}),
		PublishSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamer_publish_successes_total",
			Help: "Total number of payloads acknowledged by the remote endpoint",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamer_publish_failures_total",
			Help: "Total number of failed remote publish attempts",
		}),
		PublishDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamer_publish_duration_seconds",
			Help:    "Duration of remote publish attempts",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),
		FallbackStored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamer_fallback_stored_total",
			Help: "Total number of payloads routed to local aggregation by reason",
		}, []string{"reason"}),

		AudioFilesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamer_audio_files_written_total",
			Help: "Total number of audio files persisted",
		}),
		AudioWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamer_audio_write_failures_total",
			Help: "Total number of failed audio file writes",
		}),
		AudioFileSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamer_audio_file_size_bytes",
			Help:    "Size of persisted audio files",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 12), // 16KB to ~32MB
		}),
		SegmentsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamer_segments_flushed_total",
			Help: "Total number of aggregated segments flushed to storage",
		}),
		SinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamer_segment_sink_failures_total",
			Help: "Total number of failed segment writes by sink",
		}, []string{"sink"}),
		SegmentsPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamer_segments_pending",
			Help: "Current number of aggregated segments held in memory",
		}),

		TimeSynced: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamer_time_reference_synced",
			Help: "1 when the time source is anchored to the external reference, 0 on local fallback",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamer_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamer_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamer_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordBatch records one ingested capture batch
func (m *Metrics) RecordBatch(frames, buffered int) {
	if m == nil {
		return
	}
	m.BatchesIngested.Inc()
	m.FramesIngested.Add(float64(frames))
	m.BufferFrames.Set(float64(buffered))
}

// RecordCaptureError increments the capture errors counter
func (m *Metrics) RecordCaptureError() {
	if m == nil {
		return
	}
	m.CaptureErrors.Inc()
}

// RecordCadence records a cadence firing and whether its event was queued
func (m *Metrics) RecordCadence(event string, queued bool) {
	if m == nil {
		return
	}
	m.CadenceFired.WithLabelValues(event).Inc()
	if !queued {
		m.EventsDropped.WithLabelValues(event).Inc()
	}
}

// SetQueueDepth sets the current worker queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordFeature records an extracted feature value
func (m *Metrics) RecordFeature(name string, value float64) {
	if m == nil {
		return
	}
	m.FeatureValue.WithLabelValues(name).Set(value)
}

// RecordExtraction records the time spent on one extraction
func (m *Metrics) RecordExtraction(durationSeconds float64) {
	if m == nil {
		return
	}
	m.FeatureExtractTime.Observe(durationSeconds)
}

// RecordPublish records a remote publish attempt and its outcome
func (m *Metrics) RecordPublish(success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.PublishAttempts.Inc()
	if success {
		m.PublishSuccesses.Inc()
	} else {
		m.PublishFailures.Inc()
	}
	m.PublishDuration.Observe(durationSeconds)
}

// RecordFallback records a payload routed to local aggregation
func (m *Metrics) RecordFallback(reason string) {
	if m == nil {
		return
	}
	m.FallbackStored.WithLabelValues(reason).Inc()
}

// RecordAudioFile records a persisted audio file
func (m *Metrics) RecordAudioFile(sizeBytes int) {
	if m == nil {
		return
	}
	m.AudioFilesWritten.Inc()
	m.AudioFileSize.Observe(float64(sizeBytes))
}

// RecordAudioWriteFailure increments the audio write failures counter
func (m *Metrics) RecordAudioWriteFailure() {
	if m == nil {
		return
	}
	m.AudioWriteFailures.Inc()
}

// RecordSegmentFlushed increments the flushed segments counter
func (m *Metrics) RecordSegmentFlushed() {
	if m == nil {
		return
	}
	m.SegmentsFlushed.Inc()
}

// RecordSinkFailure records a failed segment write on a sink
func (m *Metrics) RecordSinkFailure(sink string) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(sink).Inc()
}

// SetSegmentsPending sets the number of segments held in memory
func (m *Metrics) SetSegmentsPending(count int) {
	if m == nil {
		return
	}
	m.SegmentsPending.Set(float64(count))
}

// SetTimeSynced records whether the time source is anchored to the reference
func (m *Metrics) SetTimeSynced(synced bool) {
	if m == nil {
		return
	}
	if synced {
		m.TimeSynced.Set(1)
	} else {
		m.TimeSynced.Set(0)
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
