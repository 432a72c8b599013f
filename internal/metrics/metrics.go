// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liveattend_sessions_started_total",
		Help: "Attendance sessions started.",
	})
	SessionsStopped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liveattend_sessions_stopped_total",
		Help: "Attendance sessions stopped.",
	})
	AttendanceMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liveattend_attendance_marked_total",
		Help: "Attendance records created.",
	})
	AttendanceRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveattend_attendance_rejected_total",
		Help: "Attendance claims rejected, by reason.",
	}, []string{"reason"})
	VerificationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "liveattend_verification_seconds",
		Help:    "Duration of verification gate attempts, by outcome.",
		Buckets: []float64{0.1, 0.5, 1, 2, 2.5, 3, 5, 10, 30},
	}, []string{"outcome"})
	StreamSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "liveattend_stream_subscribers",
		Help: "Open live snapshot streams, by kind.",
	}, []string{"kind"})
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveattend_jobs_processed_total",
		Help: "Lifecycle jobs handled by the worker, by kind and outcome.",
	}, []string{"kind", "outcome"})
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveattend_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
)

// ObserveVerification records a gate attempt that started at start.
func ObserveVerification(outcome string, start time.Time) {
	VerificationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
