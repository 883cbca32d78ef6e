package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RESTMetrics holds all metrics for outbound REST dispatch
type RESTMetrics struct {
	Requests        *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
	Retries         *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	BucketRemaining *prometheus.GaugeVec
	QueueDepth      *prometheus.GaugeVec
	GlobalBlocks    prometheus.Counter
}

var (
	restMetrics     *RESTMetrics
	restMetricsOnce sync.Once
)

// InitREST initializes and registers metrics for the REST dispatcher
func InitREST() *RESTMetrics {
	restMetricsOnce.Do(func() {
		restMetrics = &RESTMetrics{
			Requests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "rest",
					Subsystem: "dispatch",
					Name:      "requests_total",
					Help:      "HTTP exchanges performed, by method, bucket and status",
				},
				[]string{"method", "bucket", "status"},
			),
			Duration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "rest",
					Subsystem: "dispatch",
					Name:      "request_seconds",
					Help:      "Duration of a single HTTP exchange in seconds",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"bucket"},
			),
			Retries: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "rest",
					Subsystem: "dispatch",
					Name:      "retries_total",
					Help:      "Retries scheduled by reason",
				},
				[]string{"reason"},
			),
			Failures: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "rest",
					Subsystem: "dispatch",
					Name:      "failures_total",
					Help:      "Requests that resolved with an error, by kind",
				},
				[]string{"kind"},
			),
			BucketRemaining: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "rest",
					Subsystem: "dispatch",
					Name:      "bucket_remaining",
					Help:      "Remaining requests in the current window as reported by the server",
				},
				[]string{"bucket"},
			),
			QueueDepth: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "rest",
					Subsystem: "dispatch",
					Name:      "queue_depth",
					Help:      "Requests waiting in a bucket queue",
				},
				[]string{"bucket"},
			),
			GlobalBlocks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rest",
				Subsystem: "dispatch",
				Name:      "global_blocks_total",
				Help:      "Times the global limit was hit",
			}),
		}

		prometheus.MustRegister(
			restMetrics.Requests,
			restMetrics.Duration,
			restMetrics.Retries,
			restMetrics.Failures,
			restMetrics.BucketRemaining,
			restMetrics.QueueDepth,
			restMetrics.GlobalBlocks,
		)
	})
	return restMetrics
}

// GetREST returns the REST metrics, initializing if needed
func GetREST() *RESTMetrics {
	return InitREST()
}
