package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGet_ReturnsSingleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}

func TestRegistry_CountsTransactions(t *testing.T) {
	r := Get()
	before := testutil.ToFloat64(r.Transactions.WithLabelValues("GetState", ResultOK))
	r.Transactions.WithLabelValues("GetState", ResultOK).Inc()
	after := testutil.ToFloat64(r.Transactions.WithLabelValues("GetState", ResultOK))
	assert.Equal(t, before+1, after)
}

func TestRegistry_LiveProcessesGauge(t *testing.T) {
	r := Get()
	r.LiveProcesses.Set(0)
	r.LiveProcesses.Inc()
	r.LiveProcesses.Inc()
	r.LiveProcesses.Dec()
	assert.Equal(t, float64(1), testutil.ToFloat64(r.LiveProcesses))
	r.LiveProcesses.Set(0)
}
