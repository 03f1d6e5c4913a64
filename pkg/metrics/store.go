package metrics

import (
	"time"
)

// StoreMetrics provides observability for tide store implementations.
//
// Implementations can collect metrics about node operations, transaction
// retries, and content transfer volume. This interface is optional - if
// not provided to a store, operations proceed without metrics collection
// (zero overhead).
//
// Example usage:
//
//	// With metrics enabled
//	store, err := badger.Open(ctx, badger.Config{
//		Dir:     dir,
//		Content: content,
//		Metrics: prometheus.NewStoreMetrics("badger"),
//	})
//
//	// Without metrics (no-op)
//	store, err := badger.Open(ctx, badger.Config{Dir: dir, Content: content})
type StoreMetrics interface {
	// RecordOperation records a completed store operation with its name,
	// duration, and outcome.
	//
	// Parameters:
	//   - operation: Operation name (e.g., "lookup", "create", "readdir")
	//   - duration: Time taken to complete the operation
	//   - err: Error if operation failed, nil if successful
	RecordOperation(operation string, duration time.Duration, err error)

	// RecordTxnRetry records one transaction retry caused by a commit
	// conflict.
	//
	// Parameters:
	//   - operation: Operation whose transaction was retried
	RecordTxnRetry(operation string)

	// RecordContentBytes records content bytes moved through the store.
	//
	// Parameters:
	//   - direction: "read" or "write"
	//   - bytes: Number of bytes transferred
	RecordContentBytes(direction string, bytes int64)
}

// NewNoopStoreMetrics returns a StoreMetrics that discards everything.
func NewNoopStoreMetrics() StoreMetrics {
	return noopStoreMetrics{}
}

// noopStoreMetrics is a no-op implementation of StoreMetrics with zero
// overhead.
type noopStoreMetrics struct{}

func (noopStoreMetrics) RecordOperation(operation string, duration time.Duration, err error) {}
func (noopStoreMetrics) RecordTxnRetry(operation string)                                     {}
func (noopStoreMetrics) RecordContentBytes(direction string, bytes int64)                    {}
