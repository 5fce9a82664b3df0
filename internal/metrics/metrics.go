package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/junsooki/neon/internal/capture"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Session metrics
	ActiveSessions prometheus.Gauge
	TotalSessions  prometheus.Counter
	SessionsShed   prometheus.Counter

	// Capture metrics
	FramesCaptured  *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	ProcessRestarts *prometheus.CounterVec
	PacketsSent     *prometheus.GaugeVec
	BytesSent       *prometheus.GaugeVec

	// Rate control metrics
	EffectiveBitrate *prometheus.GaugeVec
	BitrateClamps    prometheus.Counter

	// Memory metrics
	ResidentMemory prometheus.Gauge
	GuardActions   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registry
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all metrics on reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "neon_active_sessions",
			Help: "Number of currently connected peer sessions",
		}),
		TotalSessions: f.NewCounter(prometheus.CounterOpts{
			Name: "neon_sessions_total",
			Help: "Total number of peer sessions since start",
		}),
		SessionsShed: f.NewCounter(prometheus.CounterOpts{
			Name: "neon_sessions_shed_total",
			Help: "Sessions force-closed under memory pressure",
		}),

		FramesCaptured: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neon_frames_captured_total",
				Help: "Frames read from capture processes",
			},
			[]string{"kind"},
		),
		FramesDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neon_frames_dropped_total",
				Help: "Frames evicted from full capture queues",
			},
			[]string{"kind"},
		),
		ProcessRestarts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neon_capture_restarts_total",
				Help: "Capture process restarts",
			},
			[]string{"kind"},
		),
		PacketsSent: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "neon_rtp_packets_sent",
				Help: "RTP packets sent per session and kind at the last stats poll",
			},
			[]string{"session", "kind"},
		),
		BytesSent: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "neon_rtp_bytes_sent",
				Help: "RTP bytes sent per session and kind at the last stats poll",
			},
			[]string{"session", "kind"},
		),

		EffectiveBitrate: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "neon_effective_bitrate_bps",
				Help: "Bitrate last applied to encoder backends",
			},
			[]string{"kind"},
		),
		BitrateClamps: f.NewCounter(prometheus.CounterOpts{
			Name: "neon_bitrate_clamps_total",
			Help: "Encoders whose target was capped by the network ceiling",
		}),

		ResidentMemory: f.NewGauge(prometheus.GaugeOpts{
			Name: "neon_resident_memory_bytes",
			Help: "Resident set size at the last memory guard sample",
		}),
		GuardActions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neon_memory_guard_actions_total",
				Help: "Memory guard escalations by tier",
			},
			[]string{"tier"},
		),

		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neon_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "neon_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// Captured implements capture.Observer.
func (m *Metrics) Captured(kind capture.Kind) {
	m.FramesCaptured.WithLabelValues(string(kind)).Inc()
}

// Dropped implements capture.Observer.
func (m *Metrics) Dropped(kind capture.Kind, n int) {
	m.FramesDropped.WithLabelValues(string(kind)).Add(float64(n))
}

// Restarted implements capture.Observer.
func (m *Metrics) Restarted(kind capture.Kind) {
	m.ProcessRestarts.WithLabelValues(string(kind)).Inc()
}

// BitrateApplied records the bitrate pushed to an encoder backend.
func (m *Metrics) BitrateApplied(kind capture.Kind, bps int) {
	m.EffectiveBitrate.WithLabelValues(string(kind)).Set(float64(bps))
}

// BitrateClamped records a target capped by the network ceiling.
func (m *Metrics) BitrateClamped() {
	m.BitrateClamps.Inc()
}

// RecordSessionStart records a new peer session
func (m *Metrics) RecordSessionStart() {
	m.ActiveSessions.Inc()
	m.TotalSessions.Inc()
}

// RecordSessionStop records a session teardown
func (m *Metrics) RecordSessionStop(id string) {
	m.ActiveSessions.Dec()
	m.PacketsSent.DeletePartialMatch(prometheus.Labels{"session": id})
	m.BytesSent.DeletePartialMatch(prometheus.Labels{"session": id})
}

// RecordSessionsShed records sessions closed by the memory guard.
func (m *Metrics) RecordSessionsShed(n int) {
	m.SessionsShed.Add(float64(n))
}

// RecordStats records outbound RTP counters from a stats poll.
func (m *Metrics) RecordStats(session, kind string, packets uint32, bytes uint64) {
	m.PacketsSent.WithLabelValues(session, kind).Set(float64(packets))
	m.BytesSent.WithLabelValues(session, kind).Set(float64(bytes))
}

// RecordMemory records a memory guard sample and the tier it triggered.
func (m *Metrics) RecordMemory(rss uint64, tier string) {
	m.ResidentMemory.Set(float64(rss))
	if tier != "" {
		m.GuardActions.WithLabelValues(tier).Inc()
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, path, statusClass(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
