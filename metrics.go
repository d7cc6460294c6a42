package msgframe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons a frame is rejected, used as the "reason" label.
const (
	rejectTooLarge     = "too_large"
	rejectInvalidState = "invalid_state"
	rejectTruncated    = "truncated"
)

// Metrics collects framing statistics for Prometheus.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	chunks       prometheus.Counter
	bytes        prometheus.Counter
	frames       prometheus.Counter
	rejected     *prometheus.CounterVec
	payloadSizes prometheus.Histogram
}

// NewMetrics creates the framing collectors and registers them with reg.
// A nil reg registers nothing, which is useful in tests.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		chunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "chunks_received_total",
			Help:      "Raw chunks handed to the parser.",
		}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "bytes_received_total",
			Help:      "Raw bytes handed to the parser.",
		}),
		frames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "decoded_total",
			Help:      "Frames fully reassembled.",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "rejected_total",
			Help:      "Streams abandoned because of a framing error.",
		}, []string{"reason"}),
		payloadSizes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "payload_bytes",
			Help:      "Payload size of reassembled frames.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		}),
	}
}

func (m *Metrics) observeChunk(n int) {
	if m == nil {
		return
	}
	m.chunks.Inc()
	m.bytes.Add(float64(n))
}

func (m *Metrics) observeFrame(payload int) {
	if m == nil {
		return
	}
	m.frames.Inc()
	m.payloadSizes.Observe(float64(payload))
}

func (m *Metrics) observeRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}
