package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tidefs/tidegate/pkg/metrics"
)

// storeMetrics is the Prometheus implementation of metrics.StoreMetrics.
type storeMetrics struct {
	storeType         string
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	txnRetries        *prometheus.CounterVec
	contentBytes      *prometheus.CounterVec
}

// NewStoreMetrics creates a new Prometheus-backed StoreMetrics instance.
//
// Parameters:
//   - storeType: Type of tide store (e.g., "memory", "badger")
//     Used as a label to distinguish metrics from different store
//     implementations.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewStoreMetrics(storeType string) metrics.StoreMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopStoreMetrics()
	}

	reg := metrics.GetRegistry()

	return &storeMetrics{
		storeType: storeType,
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tidegate_store_operations_total",
				Help: "Total number of store operations by store type, operation, and status",
			},
			[]string{"store_type", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "tidegate_store_operation_duration_seconds",
				Help: "Duration of store operations in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.005, // 5ms
					0.01,  // 10ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.5,   // 500ms
					1.0,   // 1s
					5.0,   // 5s
				},
			},
			[]string{"store_type", "operation"},
		),
		txnRetries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tidegate_store_txn_retries_total",
				Help: "Total number of store transactions retried after a commit conflict",
			},
			[]string{"store_type", "operation"},
		),
		contentBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tidegate_store_content_bytes_total",
				Help: "Total content bytes moved through the store",
			},
			[]string{"store_type", "direction"},
		),
	}
}

func (m *storeMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(m.storeType, operation, status).Inc()
	m.operationDuration.WithLabelValues(m.storeType, operation).Observe(duration.Seconds())
}

func (m *storeMetrics) RecordTxnRetry(operation string) {
	m.txnRetries.WithLabelValues(m.storeType, operation).Inc()
}

func (m *storeMetrics) RecordContentBytes(direction string, bytes int64) {
	m.contentBytes.WithLabelValues(m.storeType, direction).Add(float64(bytes))
}
