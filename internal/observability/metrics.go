package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "osdkctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "osdkctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "osdkctl",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Link requests by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	gatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "osdkctl",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Time from transmit to resolution of one link request.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"kind"},
	)
	gatewayPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "osdkctl",
			Subsystem: "gateway",
			Name:      "pending_requests",
			Help:      "Requests currently awaiting a response.",
		},
	)
	gatewayDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "osdkctl",
			Subsystem: "gateway",
			Name:      "discarded_frames_total",
			Help:      "Inbound response frames that matched no live request.",
		},
		[]string{"reason"},
	)
	vehicleActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "osdkctl",
			Subsystem: "vehicle",
			Name:      "monitored_actions_total",
			Help:      "Monitored flight actions by outcome.",
		},
		[]string{"action", "outcome"},
	)
	executorBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "osdkctl",
			Subsystem: "node",
			Name:      "busy_workers",
			Help:      "Executor workers currently running a service call.",
		},
	)
	telemetryFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "osdkctl",
			Subsystem: "telemetry",
			Name:      "frames_total",
			Help:      "Decoded telemetry frames by package index.",
		},
		[]string{"package"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			gatewayRequests,
			gatewayLatency,
			gatewayPending,
			gatewayDiscarded,
			vehicleActions,
			executorBusy,
			telemetryFrames,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordRequest(kind, outcome string, duration time.Duration) {
	RegisterMetrics()
	gatewayRequests.WithLabelValues(kind, outcome).Inc()
	gatewayLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

func SetPendingRequests(n int) {
	RegisterMetrics()
	gatewayPending.Set(float64(n))
}

func RecordDiscardedFrame(reason string) {
	RegisterMetrics()
	gatewayDiscarded.WithLabelValues(reason).Inc()
}

func RecordMonitoredAction(action, outcome string) {
	RegisterMetrics()
	vehicleActions.WithLabelValues(action, outcome).Inc()
}

func RecordTelemetryFrame(pkg uint8) {
	RegisterMetrics()
	telemetryFrames.WithLabelValues(strconv.Itoa(int(pkg))).Inc()
}

func AddBusyWorkers(delta int) {
	RegisterMetrics()
	executorBusy.Add(float64(delta))
}
