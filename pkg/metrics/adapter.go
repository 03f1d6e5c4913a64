package metrics

import (
	"time"
)

// AdapterMetrics provides observability for gateway adapter operations.
//
// Implementations can collect metrics about handle operations, share
// reservation conflicts, data transfer volume, and live handle counts.
// This interface is optional - if not provided to the gateway, a no-op
// implementation is used with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewAdapterMetrics()
//	gw := adapter.NewGateway(conn, adapter.Options{Metrics: m})
//
//	// Without metrics (no-op)
//	gw := adapter.NewGateway(conn, adapter.Options{})
type AdapterMetrics interface {
	// RecordOperation records a completed adapter operation with its name,
	// duration, and outcome.
	//
	// Parameters:
	//   - operation: Operation name (e.g., "lookup", "open2", "write2")
	//   - duration: Time taken to complete the operation
	//   - err: Error if operation failed, nil if successful
	RecordOperation(operation string, duration time.Duration, err error)

	// RecordShareConflict records a share reservation request refused
	// because of an existing conflicting reservation.
	//
	// Parameters:
	//   - operation: Operation that hit the conflict (e.g., "open2")
	RecordShareConflict(operation string)

	// RecordBytesTransferred records bytes read or written through the
	// adapter.
	//
	// Parameters:
	//   - direction: "read" or "write"
	//   - bytes: Number of bytes transferred
	RecordBytesTransferred(direction string, bytes int64)

	// SetLiveHandles updates the count of live object handles.
	//
	// Parameters:
	//   - count: Current number of constructed, unreleased handles
	SetLiveHandles(count int64)
}

// NewNoopAdapterMetrics returns an AdapterMetrics that discards everything.
func NewNoopAdapterMetrics() AdapterMetrics {
	return noopAdapterMetrics{}
}

// noopAdapterMetrics is a no-op implementation of AdapterMetrics with zero
// overhead.
type noopAdapterMetrics struct{}

func (noopAdapterMetrics) RecordOperation(operation string, duration time.Duration, err error) {}
func (noopAdapterMetrics) RecordShareConflict(operation string)                                {}
func (noopAdapterMetrics) RecordBytesTransferred(direction string, bytes int64)                {}
func (noopAdapterMetrics) SetLiveHandles(count int64)                                          {}
