package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "ehttpchain"
	subsystem = "client"

	clientLabel = "client"

	requestsTotalMetricName          = "requests_total"
	requestDurationSecondsMetricName = "request_duration_seconds"
	inFlightRequestsMetricName       = "in_flight_requests"
	retriesTotalMetricName           = "retries_total"
	circuitStateMetricName           = "circuit_state"
	circuitRejectedTotalMetricName   = "circuit_rejected_total"
)

// Metrics holds the collectors shared by every pipeline registered against the same registerer.
type Metrics struct {
	requestsTotal          *prometheus.CounterVec
	requestDurationSeconds *prometheus.HistogramVec
	inFlightRequests       *prometheus.GaugeVec
	retriesTotal           *prometheus.CounterVec
	circuitState           *prometheus.GaugeVec
	circuitRejectedTotal   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      requestsTotalMetricName,
				Help:      "A counter for outbound http requests reaching the transport.",
			},
			[]string{clientLabel, "code", "method"},
		),
		requestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      requestDurationSecondsMetricName,
				Help:      "A histogram of latencies for outbound http requests.",
				Buckets: []float64{
					0.005, /* 5ms */
					0.025, /* 25ms */
					0.1,   /* 100ms */
					0.5,   /* 500ms */
					1.0,   /* 1s */
					10.0,  /* 10s */
					30.0,  /* 30s */
					60.0,  /* 1m */
				},
			},
			[]string{clientLabel, "code", "method"},
		),
		inFlightRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      inFlightRequestsMetricName,
				Help:      "A gauge of outbound requests currently being performed.",
			},
			[]string{clientLabel},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      retriesTotalMetricName,
				Help:      "A counter for retry attempts made after a transient failure.",
			},
			[]string{clientLabel},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      circuitStateMetricName,
				Help:      "Current circuit breaker state: 0 closed, 1 half-open, 2 open.",
			},
			[]string{clientLabel},
		),
		circuitRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      circuitRejectedTotalMetricName,
				Help:      "A counter for calls rejected by an open circuit breaker.",
			},
			[]string{clientLabel},
		),
	}
}

// ClientMetrics is the view of Metrics bound to a single named client.
type ClientMetrics struct {
	client string
	m      *Metrics
}

func (m *Metrics) ForClient(client string) *ClientMetrics {
	return &ClientMetrics{client: client, m: m}
}

// InstrumentTransport wraps the transport so every physical attempt is counted and timed.
func (c *ClientMetrics) InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	labels := prometheus.Labels{clientLabel: c.client}
	rt := next
	rt = promhttp.InstrumentRoundTripperCounter(c.m.requestsTotal.MustCurryWith(labels), rt)
	rt = promhttp.InstrumentRoundTripperDuration(c.m.requestDurationSeconds.MustCurryWith(labels), rt)
	return promhttp.InstrumentRoundTripperInFlight(c.m.inFlightRequests.WithLabelValues(c.client), rt)
}

func (c *ClientMetrics) ObserveRetry() {
	c.m.retriesTotal.WithLabelValues(c.client).Inc()
}

func (c *ClientMetrics) ObserveRejected() {
	c.m.circuitRejectedTotal.WithLabelValues(c.client).Inc()
}

func (c *ClientMetrics) SetCircuitState(state float64) {
	c.m.circuitState.WithLabelValues(c.client).Set(state)
}
