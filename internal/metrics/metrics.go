// Package metrics holds the Prometheus collectors exported on /metrics.
// All collectors register with the default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StatusMessages counts inbound status messages by result (accepted, rejected).
	StatusMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printwatch_status_messages_total",
		Help: "Status channel messages received, by parse result",
	}, []string{"result"})

	// StatusReconnects counts status channel reconnect attempts.
	StatusReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printwatch_status_reconnects_total",
		Help: "Status channel reconnect attempts",
	})

	// StatusConnected is 1 while the status channel is connected.
	StatusConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "printwatch_status_connected",
		Help: "1 while the status channel connection is open",
	})

	// ShouldRecord mirrors the current recording intent.
	ShouldRecord = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "printwatch_should_record",
		Help: "1 while the printer state asks for recording",
	})

	// CaptureOpens counts capture open attempts by backend and result.
	CaptureOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printwatch_capture_open_total",
		Help: "Capture source open attempts, by backend and result",
	}, []string{"backend", "result"})

	// Sessions counts finished recording sessions by stop reason.
	Sessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printwatch_sessions_total",
		Help: "Recording sessions ended, by stop reason",
	}, []string{"reason"})

	// Recording is 1 while a session is writing frames.
	Recording = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "printwatch_recording",
		Help: "1 while frames are being written",
	})

	// FramesWritten counts frames written to sinks.
	FramesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printwatch_frames_written_total",
		Help: "Frames written to recording files",
	})

	// FramesDropped counts source frames skipped by write pacing.
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printwatch_frames_dropped_total",
		Help: "Source frames not written because they arrived above the target fps",
	})

	// RetentionRemoved counts retention deletions by kind (folder, file).
	RetentionRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printwatch_retention_removed_total",
		Help: "Items removed by the retention sweep, by kind",
	}, []string{"kind"})

	// RetentionErrors counts filesystem errors during retention sweeps.
	RetentionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printwatch_retention_errors_total",
		Help: "Filesystem errors during retention sweeps",
	})

	// RetentionDuration observes sweep duration.
	RetentionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "printwatch_retention_duration_seconds",
		Help:    "Retention sweep duration in seconds",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// TaskRestarts counts supervised task restarts by task name.
	TaskRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printwatch_task_restarts_total",
		Help: "Supervised task restarts, by task",
	}, []string{"task"})
)

// Bool converts a flag to a gauge value.
func Bool(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
