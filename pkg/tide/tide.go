// Package tide defines the client surface of the Tide distributed storage
// filesystem as consumed by the gateway adapter: filesystem mounts, pinned
// node handles, fixed-size node keys, stat structures and the store's
// errno-style error domain.
//
// The package itself carries no implementation. pkg/tide/memory provides a
// self-contained in-memory store for development and tests, and
// pkg/tide/badger a persistent single-host store; a real cluster client
// implements the same interfaces out of tree.
//
// Contract highlights every implementation must honor:
//   - Node handles are pinned references; Release must be called exactly
//     once per handle obtained from Lookup/LookupPath/Create/Mkdir/
//     LookupHandle.
//   - A node admits at most one concurrent Open; a second Open before
//     Close fails with EBUSY.
//   - NodeKey values are stable for the life of the object and reusable
//     across processes; LookupHandle of a key whose object is gone fails
//     with ESTALE.
//   - All calls are synchronous and may block on cluster I/O; they respect
//     context cancellation only between wire round-trips.
package tide

import (
	"context"

	"github.com/google/uuid"
)

// MountSpec addresses one filesystem on a Tide cluster.
type MountSpec struct {
	// Cluster is the service group to contact. Empty selects the
	// client's default.
	Cluster string

	// Pool is the storage pool holding the filesystem.
	Pool uuid.UUID

	// Volume names the filesystem container inside the pool.
	Volume string
}

// Connection is one initialized Tide client session. Construction is
// explicit and owned by whoever composes the service; nothing in this
// package maintains process-global state.
type Connection interface {
	// OpenFileSystem mounts the filesystem addressed by spec.
	OpenFileSystem(ctx context.Context, spec MountSpec) (FileSystem, error)

	// Close tears the session down. Filesystems obtained from the
	// connection must be closed first.
	Close() error
}

// FileSystem is one mounted Tide filesystem.
type FileSystem interface {
	// LookupPath resolves an absolute path to a pinned node handle.
	LookupPath(ctx context.Context, path string) (NodeHandle, error)

	// LookupHandle resolves a wire key back to a pinned node handle.
	// Unknown or dead keys fail with ESTALE.
	LookupHandle(ctx context.Context, key NodeKey) (NodeHandle, error)

	// Rename moves oldName in oldDir to newName in newDir, replacing any
	// existing target.
	Rename(ctx context.Context, oldDir NodeHandle, oldName string, newDir NodeHandle, newName string) error

	// StatFS reports live usage totals.
	StatFS(ctx context.Context) (FSStat, error)

	// Close detaches from the filesystem. All node handles must have
	// been released first.
	Close() error
}

// NodeHandle is a pinned reference to one filesystem object.
type NodeHandle interface {
	// Key returns the node's stable wire key.
	Key() NodeKey

	// GetAttr fetches current attributes.
	GetAttr(ctx context.Context) (Stat, error)

	// SetAttr writes the stat fields selected by mask.
	SetAttr(ctx context.Context, st *Stat, mask SetAttrMask) error

	// Lookup resolves a child name to a pinned node handle.
	Lookup(ctx context.Context, name string) (NodeHandle, error)

	// Create makes a regular file under this directory and returns a
	// pinned handle to it. st seeds mode and ownership; flags carries
	// OpenExclusive for guarded creation. st is updated with the
	// resulting attributes.
	Create(ctx context.Context, name string, st *Stat, flags OpenFlag) (NodeHandle, error)

	// Mkdir makes a directory under this directory. st is updated like
	// Create's.
	Mkdir(ctx context.Context, name string, st *Stat) (NodeHandle, error)

	// Open prepares the node for I/O. At most one open may be live per
	// node; a conflicting open fails with EBUSY.
	Open(ctx context.Context, flags OpenFlag) error

	// Close ends the open started by Open.
	Close(ctx context.Context) error

	// Read copies up to len(p) bytes from offset into p.
	Read(ctx context.Context, offset uint64, p []byte) (int, error)

	// Write copies p to the object at offset, extending it as needed.
	Write(ctx context.Context, offset uint64, p []byte) (int, error)

	// Truncate sets the object size.
	Truncate(ctx context.Context, size uint64) error

	// Commit forces written data in [offset, offset+length) to stable
	// storage; length 0 means "through end of object".
	Commit(ctx context.Context, offset, length uint64) error

	// Unlink removes the named child of this directory. Directories must
	// be empty.
	Unlink(ctx context.Context, name string) error

	// ReadDir returns one page of directory entries starting after
	// cookie, the cookie to resume from, and whether the end of the
	// directory was reached. A page may be short without implying eof.
	ReadDir(ctx context.Context, cookie uint64) (entries []DirEntry, next uint64, eof bool, err error)

	// Release unpins the handle. The node itself lives on; only this
	// reference dies. Release is not idempotent.
	Release()
}

// DirEntry is one directory entry as reported by ReadDir.
type DirEntry struct {
	// Name is the entry's name within its directory.
	Name string

	// Ino is the object identifier, matching Stat.Ino.
	Ino uint64

	// Cookie resumes enumeration immediately after this entry.
	Cookie uint64
}

// FSStat is the live usage snapshot returned by StatFS.
type FSStat struct {
	TotalBytes uint64
	FreeBytes  uint64
	AvailBytes uint64
	TotalFiles uint64
	FreeFiles  uint64
	AvailFiles uint64
}
