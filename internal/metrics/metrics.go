// Package metrics exposes Prometheus collectors for the synthesis pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lector"

// Metrics groups the collectors so each server (and each test) owns its registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	segments        *prometheus.CounterVec
	segmentDuration *prometheus.HistogramVec
	streams         *prometheus.CounterVec
	streamBytes     prometheus.Counter
	archiveEntries  prometheus.Gauge
	rateLimited     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Segments sent to the speech provider",
		}, []string{"provider", "status"}), // status: success, error
		segmentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_synthesis_seconds",
			Help:      "Duration of speech provider calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{"provider"}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Audio streams by outcome",
		}, []string{"status"}), // status: completed, synthesis_error, client_gone, archive_error
		streamBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_total",
			Help:      "Audio bytes written to clients",
		}),
		archiveEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archive_entries",
			Help:      "Recordings currently kept in the archive",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}
	m.registry.MustRegister(
		m.segments, m.segmentDuration, m.streams, m.streamBytes, m.archiveEntries, m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveSegment(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.segments.WithLabelValues(provider, status).Inc()
	m.segmentDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) StreamFinished(status string, bytes int64) {
	if m == nil {
		return
	}
	m.streams.WithLabelValues(status).Inc()
	m.streamBytes.Add(float64(bytes))
}

func (m *Metrics) SetArchiveEntries(n int) {
	if m == nil {
		return
	}
	m.archiveEntries.Set(float64(n))
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
