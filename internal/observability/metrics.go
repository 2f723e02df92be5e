package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the engine.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	StateTransitions  *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	PlaybackErrors    prometheus.Counter
	StreamedSeconds   prometheus.Counter
	HeartbeatLatency  prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active translation sessions.",
		}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Session state machine transitions by target state.",
		}, []string{"state"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection attempts after a dropped connection.",
		}),
		PlaybackErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_errors_total",
			Help:      "Non-fatal playback fragment failures.",
		}),
		StreamedSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streamed_seconds_total",
			Help:      "Seconds of microphone audio streamed to the endpoint.",
		}),
		HeartbeatLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_heartbeat_latency_ms",
			Help:      "Usage ledger heartbeat round trip in milliseconds.",
			Buckets:   []float64{20, 50, 100, 200, 500, 1000, 2500, 5000},
		}),
	}
}

func (m *Metrics) ObserveHeartbeatLatency(d time.Duration) {
	m.HeartbeatLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
