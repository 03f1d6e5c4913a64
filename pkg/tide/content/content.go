// Package content defines the payload store used by node stores that keep
// metadata and file data separately (pkg/tide/badger). A Store holds raw
// byte objects addressed by opaque IDs; everything else about a file (its
// name, attributes, place in the tree) lives in the owning node store.
//
// Objects materialize lazily: an ID that was never written behaves as a
// zero-length object, so creating an empty file costs no backend call.
// Remove is idempotent. Errors that carry a tide.Errno (via
// tide.StoreError) pass through to store callers unchanged; anything else
// is reported by the consumer as an I/O failure.
package content

import "context"

// ID names one object within a Store. The owning node store assigns IDs
// and treats them as opaque; implementations may use them directly as
// backend keys.
type ID string

// Store is a flat object store for file payloads. Implementations must be
// safe for concurrent use; concurrent writers to the same ID are the
// caller's problem to serialize.
type Store interface {
	// ReadAt copies up to len(p) bytes at offset into p and returns the
	// count. Short reads at the object end are not an error; reads at or
	// past the end return 0, nil.
	ReadAt(ctx context.Context, id ID, p []byte, offset uint64) (int, error)

	// WriteAt stores p at offset, extending the object zero-filled when
	// offset lies past the current end.
	WriteAt(ctx context.Context, id ID, p []byte, offset uint64) (int, error)

	// Truncate sets the object length, zero-filling on growth.
	Truncate(ctx context.Context, id ID, size uint64) error

	// Size reports the object length. Never-written objects report 0.
	Size(ctx context.Context, id ID) (uint64, error)

	// Remove deletes the object. Removing an absent object succeeds.
	Remove(ctx context.Context, id ID) error

	// Close releases backend resources held by the store.
	Close() error
}
