package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/v3/assert"
)

func TestInstrumentTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	m := New(reg)
	client := &http.Client{Transport: m.ForClient("orders").InstrumentTransport(http.DefaultTransport)}

	for i := 0; i < 2; i++ {
		resp, err := client.Get(server.URL)
		assert.NilError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("orders", "202", "get")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlightRequests.WithLabelValues("orders")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requestDurationSeconds))
}

func TestClientCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	orders := m.ForClient("orders")
	billing := m.ForClient("billing")

	orders.ObserveRetry()
	orders.ObserveRetry()
	billing.ObserveRejected()
	orders.SetCircuitState(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("orders")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("billing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.circuitRejectedTotal.WithLabelValues("billing")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.circuitState.WithLabelValues("orders")))
}

func TestRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Assert(t, func() (panicked bool) {
		defer func() { panicked = recover() != nil }()
		New(reg)
		return false
	}())
}
