package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.AddAllocated("promotional", 100)
	m.AddAllocated("promotional", 50)
	m.IncrementFailure("consume", "insufficient_credits")
	m.IncrementFailure("consume", "")
	m.SetExpirationRun(3, 1, 0)
	m.ObserveOperation("allocate", time.Now())

	assert.Equal(t, 150.0, testutil.ToFloat64(m.CreditsAllocated.WithLabelValues("promotional")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationFailures.WithLabelValues("consume", "insufficient_credits")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationFailures.WithLabelValues("consume", "internal")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ExpirationRun.WithLabelValues("processed")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AddConsumed("bonus", 10)
		m.IncrementPublishFailure("credit.consumed")
		m.ObserveOperation("consume", time.Now())
		m.SetExpiringSoonUsers(2)
	})
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
