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
			Namespace: "pipetctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pipetctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipetctl",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Protocol runs by outcome.",
		},
		[]string{"protocol", "status"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pipetctl",
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Wall time of protocol runs in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"protocol", "status"},
	)
	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipetctl",
			Subsystem: "runs",
			Name:      "steps_total",
			Help:      "Protocol steps seen by the sequencer.",
		},
		[]string{"protocol", "kind", "phase", "skipped"},
	)
	platformCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipetctl",
			Subsystem: "platform",
			Name:      "commands_total",
			Help:      "Platform commands by operation and outcome.",
		},
		[]string{"op", "success"},
	)
	platformDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pipetctl",
			Subsystem: "platform",
			Name:      "command_duration_seconds",
			Help:      "Platform command latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	liquidVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipetctl",
			Subsystem: "platform",
			Name:      "liquid_microliters_total",
			Help:      "Microliters moved by completed liquid commands.",
		},
		[]string{"op"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			runsTotal, runDuration, stepsTotal,
			platformCommands, platformDuration, liquidVolume,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordRun(protocol, status string, duration time.Duration) {
	RegisterMetrics()
	runsTotal.WithLabelValues(protocol, status).Inc()
	runDuration.WithLabelValues(protocol, status).Observe(duration.Seconds())
}

func RecordStep(protocol, kind, phase string, skipped bool) {
	RegisterMetrics()
	stepsTotal.WithLabelValues(protocol, kind, phase, strconv.FormatBool(skipped)).Inc()
}

func RecordCommand(op string, duration time.Duration, err error) {
	RegisterMetrics()
	platformCommands.WithLabelValues(op, strconv.FormatBool(err == nil)).Inc()
	platformDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func recordVolume(op string, volume float64) {
	RegisterMetrics()
	liquidVolume.WithLabelValues(op).Add(volume)
}
