package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics provides observability for the credit ledger.
// All methods are safe on a nil receiver so services can run without metrics.
type Metrics struct {
	CreditsAllocated   *prometheus.CounterVec
	CreditsConsumed    *prometheus.CounterVec
	CreditsExpired     *prometheus.CounterVec
	CreditsTransferred *prometheus.CounterVec
	OperationFailures  *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	AttributionDrift   prometheus.Counter
	EventPublishFailed *prometheus.CounterVec
	ExpirationRun      *prometheus.GaugeVec
	ExpiringSoonUsers  prometheus.Gauge
}

// New registers the credit metrics with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CreditsAllocated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_allocated_total",
			Help: "Credits granted, by credit type",
		}, []string{"credit_type"}),
		CreditsConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_consumed_total",
			Help: "Credits consumed, by credit type",
		}, []string{"credit_type"}),
		CreditsExpired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_expired_total",
			Help: "Credits debited by expiration, by credit type",
		}, []string{"credit_type"}),
		CreditsTransferred: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_transferred_total",
			Help: "Credits moved between users, by credit type",
		}, []string{"credit_type"}),
		OperationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_operation_failures_total",
			Help: "Failed ledger operations by operation and error kind",
		}, []string{"operation", "kind"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credits_operation_duration_seconds",
			Help:    "Duration of ledger operations",
			Buckets: durationBuckets,
		}, []string{"operation"}),
		AttributionDrift: f.NewCounter(prometheus.CounterOpts{
			Name: "credits_allocation_attribution_drift_total",
			Help: "Consumption lines whose allocation counter update was rejected after the balance was debited",
		}),
		EventPublishFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_event_publish_failures_total",
			Help: "Ledger events that could not be published, by topic",
		}, []string{"topic"}),
		ExpirationRun: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credits_expiration_last_run",
			Help: "Outcome counts of the last expiration run",
		}, []string{"outcome"}),
		ExpiringSoonUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "credits_expiring_soon_users",
			Help: "Users notified in the last expiring-soon run",
		}),
	}
}

func (m *Metrics) AddAllocated(creditType string, amount int64) {
	if m == nil {
		return
	}
	m.CreditsAllocated.WithLabelValues(creditType).Add(float64(amount))
}

func (m *Metrics) AddConsumed(creditType string, amount int64) {
	if m == nil {
		return
	}
	m.CreditsConsumed.WithLabelValues(creditType).Add(float64(amount))
}

func (m *Metrics) AddExpired(creditType string, amount int64) {
	if m == nil {
		return
	}
	m.CreditsExpired.WithLabelValues(creditType).Add(float64(amount))
}

func (m *Metrics) AddTransferred(creditType string, amount int64) {
	if m == nil {
		return
	}
	m.CreditsTransferred.WithLabelValues(creditType).Add(float64(amount))
}

// IncrementFailure records a failed operation. kind is the ledger error kind or "internal".
func (m *Metrics) IncrementFailure(operation, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "internal"
	}
	m.OperationFailures.WithLabelValues(operation, kind).Inc()
}

// ObserveOperation records the duration of an operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementAttributionDrift() {
	if m == nil {
		return
	}
	m.AttributionDrift.Inc()
}

func (m *Metrics) IncrementPublishFailure(topic string) {
	if m == nil {
		return
	}
	m.EventPublishFailed.WithLabelValues(topic).Inc()
}

// SetExpirationRun records the counts of the last expiration run.
func (m *Metrics) SetExpirationRun(processed, skipped, failed int) {
	if m == nil {
		return
	}
	m.ExpirationRun.WithLabelValues("processed").Set(float64(processed))
	m.ExpirationRun.WithLabelValues("skipped").Set(float64(skipped))
	m.ExpirationRun.WithLabelValues("failed").Set(float64(failed))
}

func (m *Metrics) SetExpiringSoonUsers(n int) {
	if m == nil {
		return
	}
	m.ExpiringSoonUsers.Set(float64(n))
}
