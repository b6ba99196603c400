package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	packetsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btmon",
			Subsystem: "monitor",
			Name:      "packets_total",
			Help:      "Monitor packets emitted by opcode.",
		},
		[]string{"opcode"},
	)
	payloadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btmon",
			Subsystem: "monitor",
			Name:      "payload_bytes_total",
			Help:      "Payload bytes emitted by opcode.",
		},
		[]string{"opcode"},
	)
	sinkErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "btmon",
			Subsystem: "monitor",
			Name:      "sink_errors_total",
			Help:      "Sink writes that returned an error.",
		},
	)
	transportBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btmon",
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Bytes accepted by a transport.",
		},
		[]string{"transport"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btmon",
			Subsystem: "transport",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded because they exceed the packet buffer.",
		},
		[]string{"transport"},
	)
	channelSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btmon",
			Subsystem: "transport",
			Name:      "channel_skipped_bytes_total",
			Help:      "Bytes the trace channel refused in non-blocking mode.",
		},
		[]string{"transport"},
	)
	ringStalls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "btmon",
			Subsystem: "serial",
			Name:      "ring_full_stalls_total",
			Help:      "Writes that had to wait for the transmitter to drain a full ring.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btmon",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "btmon",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	httpResponseBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "btmon",
			Subsystem: "http",
			Name:      "response_bytes",
			Help:      "Status HTTP response body size in bytes.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"method", "path"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			packetsEmitted, payloadBytes, sinkErrors,
			transportBytes, framesDropped, channelSkipped, ringStalls,
			httpRequests, httpDuration, httpResponseBytes,
		)
	})
}

func RecordPacket(opcode string, payloadLen int) {
	packetsEmitted.WithLabelValues(opcode).Inc()
	payloadBytes.WithLabelValues(opcode).Add(float64(payloadLen))
}

func RecordSinkError() {
	sinkErrors.Inc()
}

func RecordTransportBytes(transport string, n int) {
	transportBytes.WithLabelValues(transport).Add(float64(n))
}

func RecordFrameDropped(transport string) {
	framesDropped.WithLabelValues(transport).Inc()
}

func RecordChannelSkipped(transport string, n int) {
	channelSkipped.WithLabelValues(transport).Add(float64(n))
}

func RecordRingStall() {
	ringStalls.Inc()
}

func RecordHTTPRequest(method, path string, status, bytes int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
	httpResponseBytes.WithLabelValues(method, path).Observe(float64(bytes))
}
