package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueriesByState tracks the number of live queries per QueryStateTag
	// on this helper.
	QueriesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "helper_queries_by_state",
			Help: "Number of queries currently in each state",
		},
		[]string{"state"},
	)

	// GatewaySendBufferBytes observes the occupancy of a gateway send
	// channel's buffer at flush time.
	GatewaySendBufferBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helper_gateway_send_buffer_bytes",
			Help:    "Size in bytes of a gateway send buffer at flush time",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
	)

	// MultiplicationRoundsTotal counts interactive multiplication
	// primitives executed, labeled by query ID so a dashboard can break
	// down cost per query.
	MultiplicationRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helper_multiplication_rounds_total",
			Help: "Total number of interactive multiplication primitives executed",
		},
		[]string{"query_id"},
	)

	// QueryDuration measures wall-clock time from the transition to
	// Running (all inputs collected) to a terminal state; a query that
	// fails before reaching Running is not observed.
	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helper_query_duration_seconds",
			Help:    "Time from input collection to query completion or failure",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QueriesFailedTotal counts terminal failures by FailureReason.
	QueriesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helper_queries_failed_total",
			Help: "Total number of queries that reached Failed, by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(QueriesByState)
	prometheus.MustRegister(GatewaySendBufferBytes)
	prometheus.MustRegister(MultiplicationRoundsTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueriesFailedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GatewayObserver implements gateway.BufferObserver by feeding flush
// sizes into GatewaySendBufferBytes. pkg/gateway depends only on the
// small BufferObserver interface, not on pkg/metrics itself, so this
// type is the concrete binding wired in at helper startup.
type GatewayObserver struct{}

// ObserveSendBufferBytes records n bytes flushed from a send channel.
func (GatewayObserver) ObserveSendBufferBytes(n int) {
	GatewaySendBufferBytes.Observe(float64(n))
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
