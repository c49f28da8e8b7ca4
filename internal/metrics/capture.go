// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus instrumentation for the capture session,
// its backends and the event transports. Every recorder method is safe to call
// on a nil *CaptureMetrics so callers never need to guard them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tapbeat"

// CaptureMetrics holds the collectors for one process.
type CaptureMetrics struct {
	registry *prometheus.Registry

	framesProcessed prometheus.Counter
	framesSkipped   prometheus.Counter
	readErrors      *prometheus.CounterVec
	framePanics     prometheus.Counter
	onsets          prometheus.Counter
	sessionStatus   *prometheus.CounterVec
	stopTimeouts    prometheus.Counter
	framesDropped   *prometheus.CounterVec
	transportErrors *prometheus.CounterVec

	running     prometheus.Gauge
	energy      prometheus.Gauge
	threshold   prometheus.Gauge
	sensitivity prometheus.Gauge

	frameDuration prometheus.Histogram

	collectors []prometheus.Collector
}

// NewCaptureMetrics creates the collectors and registers them on registry.
func NewCaptureMetrics(registry *prometheus.Registry) (*CaptureMetrics, error) {
	m := &CaptureMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CaptureMetrics) initMetrics() {
	m.framesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_processed_total",
		Help:      "Audio frames run through the onset detector",
	})
	m.framesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_skipped_total",
		Help:      "Reads that returned no samples",
	})
	m.readErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "read_errors_total",
		Help:      "Source read failures partitioned by severity",
	}, []string{"kind"})
	m.framePanics = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frame_panics_total",
		Help:      "Frames abandoned after a recovered panic",
	})
	m.onsets = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "onsets_total",
		Help:      "Onset events delivered to the event sink",
	})
	m.sessionStatus = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_status_total",
		Help:      "Session status notifications partitioned by status",
	}, []string{"status"})
	m.stopTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stop_timeouts_total",
		Help:      "Stops where the producer loop outlived the join timeout",
	})
	m.framesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Frames dropped by a backend because the reader fell behind",
	}, []string{"backend"})
	m.transportErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_errors_total",
		Help:      "Failed event deliveries partitioned by transport",
	}, []string{"transport"})

	m.running = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_running",
		Help:      "1 while a capture session is active",
	})
	m.energy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "frame_energy",
		Help:      "RMS energy of the most recent frame",
	})
	m.threshold = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "onset_threshold",
		Help:      "Adaptive threshold computed for the most recent frame",
	})
	m.sensitivity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sensitivity",
		Help:      "Current threshold multiplier k",
	})

	m.frameDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "frame_processing_seconds",
		Help:      "Time spent computing energy and evaluating one frame",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 12), // 10µs to ~20ms
	})

	m.collectors = []prometheus.Collector{
		m.framesProcessed, m.framesSkipped, m.readErrors, m.framePanics,
		m.onsets, m.sessionStatus, m.stopTimeouts, m.framesDropped,
		m.transportErrors, m.running, m.energy, m.threshold, m.sensitivity,
		m.frameDuration,
	}
}

// Describe implements prometheus.Collector.
func (m *CaptureMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *CaptureMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// Registry returns the registry the metrics were registered on.
func (m *CaptureMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordFrame records one evaluated frame.
func (m *CaptureMetrics) RecordFrame(energy, threshold float64, took time.Duration) {
	if m == nil {
		return
	}
	m.framesProcessed.Inc()
	m.energy.Set(energy)
	m.threshold.Set(threshold)
	m.frameDuration.Observe(took.Seconds())
}

func (m *CaptureMetrics) RecordSkipped() {
	if m == nil {
		return
	}
	m.framesSkipped.Inc()
}

// RecordReadError counts a failed read; kind is "transient" or "fatal".
func (m *CaptureMetrics) RecordReadError(kind string) {
	if m == nil {
		return
	}
	m.readErrors.WithLabelValues(kind).Inc()
}

func (m *CaptureMetrics) RecordPanic() {
	if m == nil {
		return
	}
	m.framePanics.Inc()
}

func (m *CaptureMetrics) RecordOnset() {
	if m == nil {
		return
	}
	m.onsets.Inc()
}

func (m *CaptureMetrics) RecordStatus(status string) {
	if m == nil {
		return
	}
	m.sessionStatus.WithLabelValues(status).Inc()
}

func (m *CaptureMetrics) RecordStopTimeout() {
	if m == nil {
		return
	}
	m.stopTimeouts.Inc()
}

func (m *CaptureMetrics) RecordDropped(backend string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(backend).Inc()
}

func (m *CaptureMetrics) RecordTransportError(transport string) {
	if m == nil {
		return
	}
	m.transportErrors.WithLabelValues(transport).Inc()
}

func (m *CaptureMetrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}

func (m *CaptureMetrics) SetSensitivity(k float64) {
	if m == nil {
		return
	}
	m.sensitivity.Set(k)
}
