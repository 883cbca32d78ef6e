package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics holds metrics for the message relay worker
type RelayMetrics struct {
	Handled  *prometheus.CounterVec
	Duration prometheus.Histogram
	Errors   *prometheus.CounterVec
}

var (
	relayMetrics     *RelayMetrics
	relayMetricsOnce sync.Once
)

// InitRelay initializes and registers metrics for the relay worker
func InitRelay() *RelayMetrics {
	relayMetricsOnce.Do(func() {
		relayMetrics = &RelayMetrics{
			Handled: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "rest",
					Subsystem: "relay",
					Name:      "calls_total",
					Help:      "Relayed calls by outcome",
				},
				[]string{"outcome"},
			),
			Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "rest",
				Subsystem: "relay",
				Name:      "call_seconds",
				Help:      "Time from message receipt to result publication",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			}),
			Errors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "rest",
					Subsystem: "relay",
					Name:      "errors_total",
					Help:      "Relay errors by category",
				},
				[]string{"category"},
			),
		}

		prometheus.MustRegister(
			relayMetrics.Handled,
			relayMetrics.Duration,
			relayMetrics.Errors,
		)
	})
	return relayMetrics
}

// GetRelay returns the relay metrics, initializing if needed
func GetRelay() *RelayMetrics {
	return InitRelay()
}
