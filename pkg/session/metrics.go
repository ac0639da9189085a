package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of Prometheus collectors a Connection reports to,
// registered once per node and shared across all of its connections.
type Metrics struct {
	FramesSent      prometheus.Counter
	FramesRecv      prometheus.Counter
	BytesSent       prometheus.Counter
	BytesRecv       prometheus.Counter
	RekeyCount      prometheus.Counter
	ReplayDropped   prometheus.Counter
	AeadFailures    prometheus.Counter
	ActiveStreams   prometheus.Gauge
	ActiveSessions  prometheus.Gauge
	RTTSeconds      prometheus.Histogram
	PacingRateBytes prometheus.Gauge
}

// NewMetrics constructs and registers a Metrics set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesSent:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wraith", Subsystem: "session", Name: "frames_sent_total"}),
		FramesRecv:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wraith", Subsystem: "session", Name: "frames_received_total"}),
		BytesSent:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wraith", Subsystem: "session", Name: "bytes_sent_total"}),
		BytesRecv:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wraith", Subsystem: "session", Name: "bytes_received_total"}),
		RekeyCount:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wraith", Subsystem: "session", Name: "rekeys_total"}),
		ReplayDropped: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wraith", Subsystem: "session", Name: "replay_dropped_total"}),
		AeadFailures:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wraith", Subsystem: "session", Name: "aead_failures_total"}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "wraith", Subsystem: "session", Name: "active_streams"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "wraith", Subsystem: "session", Name: "active_sessions"}),
		RTTSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wraith", Subsystem: "session", Name: "rtt_seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		PacingRateBytes: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "wraith", Subsystem: "session", Name: "pacing_rate_bytes_per_sec"}),
	}
	if reg != nil {
		reg.MustRegister(m.FramesSent, m.FramesRecv, m.BytesSent, m.BytesRecv,
			m.RekeyCount, m.ReplayDropped, m.AeadFailures, m.ActiveStreams,
			m.ActiveSessions, m.RTTSeconds, m.PacingRateBytes)
	}
	return m
}
