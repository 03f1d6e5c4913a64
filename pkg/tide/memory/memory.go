// Package memory implements the tide client interfaces entirely in
// process memory.
//
// The store is intended for development and tests: it honors the full
// tide contract (pinned node handles, stable node keys with generation
// numbers, single-open-per-node, paged directory reads) without any
// persistence. Filesystems materialize empty, with a fresh root
// directory, the first time a MountSpec is opened; reopening the same
// pool/volume on one Connection returns the same filesystem.
//
// Thread safety: one RWMutex per filesystem guards the node table and all
// node state, which keeps the implementation simple and correct at test
// scale.
package memory

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tidefs/tidegate/pkg/tide"
)

const (
	// rootIno is the object identifier of every filesystem's root.
	rootIno uint64 = 1

	// defaultPageSize bounds one ReadDir page.
	defaultPageSize = 128

	// defaultCapacity is the advertised filesystem size.
	defaultCapacity uint64 = 1 << 40

	// defaultMaxFiles is the advertised object-count limit.
	defaultMaxFiles uint64 = 1 << 20
)

// Options tune a memory filesystem. The zero value selects the defaults
// above.
type Options struct {
	// PageSize bounds the number of entries one ReadDir call returns.
	PageSize int

	// Capacity is the byte total reported by StatFS.
	Capacity uint64

	// MaxFiles is the object total reported by StatFS.
	MaxFiles uint64
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.Capacity == 0 {
		o.Capacity = defaultCapacity
	}
	if o.MaxFiles == 0 {
		o.MaxFiles = defaultMaxFiles
	}
	return o
}

// Connection is an in-memory tide.Connection. Filesystems live for the
// life of the connection.
type Connection struct {
	opts Options

	mu          sync.Mutex
	filesystems map[string]*FileSystem
	closed      bool
}

// NewConnection builds a connection whose filesystems all use opts.
func NewConnection(opts Options) *Connection {
	return &Connection{
		opts:        opts.withDefaults(),
		filesystems: make(map[string]*FileSystem),
	}
}

// OpenFileSystem returns the filesystem for spec, creating an empty one on
// first open.
func (c *Connection) OpenFileSystem(ctx context.Context, spec tide.MountSpec) (tide.FileSystem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, &tide.StoreError{Errno: tide.ENODEV, Op: "open-filesystem", Path: spec.Volume}
	}

	id := spec.Pool.String() + "/" + spec.Volume
	if fs, ok := c.filesystems[id]; ok {
		return fs, nil
	}

	fs := NewFileSystem(spec, c.opts)
	c.filesystems[id] = fs
	return fs, nil
}

// Close marks the connection dead. Held filesystems stay readable so that
// teardown ordering bugs surface as ENODEV on the next mount, not as
// silent data loss.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// FileSystem is one in-memory filesystem instance.
type FileSystem struct {
	volume uuid.UUID
	dev    uint64
	opts   Options

	mu      sync.RWMutex
	nodes   map[uint64]*fsNode
	nextIno uint64
	nextGen uint64
	used    uint64
	closed  bool
}

// NewFileSystem builds a filesystem with just a root directory. The
// volume identity is derived deterministically from the mount spec so
// node keys stay stable across re-mounts.
func NewFileSystem(spec tide.MountSpec, opts Options) *FileSystem {
	opts = opts.withDefaults()
	volume := uuid.NewSHA1(spec.Pool, []byte(spec.Volume))

	fs := &FileSystem{
		volume:  volume,
		dev:     binary.BigEndian.Uint64(volume[0:8]),
		opts:    opts,
		nodes:   make(map[uint64]*fsNode),
		nextIno: rootIno,
		nextGen: 1,
	}

	now := time.Now()
	root := &fsNode{
		ino:      fs.allocInoLocked(),
		gen:      fs.allocGenLocked(),
		mode:     tide.ModeDir | 0o755,
		nlink:    2,
		parent:   rootIno,
		children: make(map[string]uint64),
		atime:    now,
		mtime:    now,
		ctime:    now,
	}
	fs.nodes[root.ino] = root
	return fs
}

// Volume returns the derived volume identity (the NodeKey namespace).
func (fs *FileSystem) Volume() uuid.UUID {
	return fs.volume
}

func (fs *FileSystem) allocInoLocked() uint64 {
	ino := fs.nextIno
	fs.nextIno++
	return ino
}

func (fs *FileSystem) allocGenLocked() uint64 {
	gen := fs.nextGen
	fs.nextGen++
	return gen
}

// LookupPath resolves an absolute slash-separated path. Only "/" and
// simple descendant paths occur in practice; relative paths are rejected.
func (fs *FileSystem) LookupPath(ctx context.Context, path string) (tide.NodeHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(path) == 0 || path[0] != '/' {
		return nil, &tide.StoreError{Errno: tide.EINVAL, Op: "lookup-path", Path: path}
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return nil, &tide.StoreError{Errno: tide.ENODEV, Op: "lookup-path", Path: path}
	}

	node := fs.nodes[rootIno]
	for _, name := range splitPath(path) {
		if !node.isDir() {
			return nil, &tide.StoreError{Errno: tide.ENOTDIR, Op: "lookup-path", Path: path}
		}
		childIno, ok := node.children[name]
		if !ok {
			return nil, &tide.StoreError{Errno: tide.ENOENT, Op: "lookup-path", Path: path}
		}
		node = fs.nodes[childIno]
	}

	return fs.pinLocked(node), nil
}

// LookupHandle resolves an encoded node key back to a handle.
func (fs *FileSystem) LookupHandle(ctx context.Context, key tide.NodeKey) (tide.NodeHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return nil, &tide.StoreError{Errno: tide.ENODEV, Op: "lookup-handle", Path: key.String()}
	}
	if key.Volume != fs.volume {
		return nil, &tide.StoreError{Errno: tide.ESTALE, Op: "lookup-handle", Path: key.String()}
	}
	node, ok := fs.nodes[key.Ino]
	if !ok || node.gen != key.Gen {
		return nil, &tide.StoreError{Errno: tide.ESTALE, Op: "lookup-handle", Path: key.String()}
	}

	return fs.pinLocked(node), nil
}

// Rename moves oldName from oldDir to newName under newDir, replacing an
// existing target when the types allow it.
func (fs *FileSystem) Rename(ctx context.Context, oldDir tide.NodeHandle, oldName string, newDir tide.NodeHandle, newName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := fs.ownHandle(oldDir, "rename")
	if err != nil {
		return err
	}
	dst, err := fs.ownHandle(newDir, "rename")
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !src.node.isDir() || !dst.node.isDir() {
		return &tide.StoreError{Errno: tide.ENOTDIR, Op: "rename", Path: oldName}
	}
	movingIno, ok := src.node.children[oldName]
	if !ok {
		return &tide.StoreError{Errno: tide.ENOENT, Op: "rename", Path: oldName}
	}
	moving := fs.nodes[movingIno]

	if targetIno, exists := dst.node.children[newName]; exists {
		if targetIno == movingIno {
			// Renaming an entry onto itself succeeds untouched.
			return nil
		}
		target := fs.nodes[targetIno]
		switch {
		case target.isDir() && !moving.isDir():
			return &tide.StoreError{Errno: tide.EISDIR, Op: "rename", Path: newName}
		case !target.isDir() && moving.isDir():
			return &tide.StoreError{Errno: tide.ENOTDIR, Op: "rename", Path: newName}
		case target.isDir() && len(target.children) > 0:
			return &tide.StoreError{Errno: tide.ENOTEMPTY, Op: "rename", Path: newName}
		}
		fs.removeNodeLocked(dst.node, newName, target)
	}

	delete(src.node.children, oldName)
	dst.node.children[newName] = movingIno
	moving.parent = dst.node.ino
	if moving.isDir() && src.node != dst.node {
		src.node.nlink--
		dst.node.nlink++
	}

	now := time.Now()
	moving.ctime = now
	src.node.mtime = now
	src.node.ctime = now
	dst.node.mtime = now
	dst.node.ctime = now
	return nil
}

// StatFS reports usage against the configured capacity.
func (fs *FileSystem) StatFS(ctx context.Context) (tide.FSStat, error) {
	if err := ctx.Err(); err != nil {
		return tide.FSStat{}, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	free := uint64(0)
	if fs.used < fs.opts.Capacity {
		free = fs.opts.Capacity - fs.used
	}
	files := uint64(len(fs.nodes))
	freeFiles := uint64(0)
	if files < fs.opts.MaxFiles {
		freeFiles = fs.opts.MaxFiles - files
	}

	return tide.FSStat{
		TotalBytes: fs.opts.Capacity,
		FreeBytes:  free,
		AvailBytes: free,
		TotalFiles: fs.opts.MaxFiles,
		FreeFiles:  freeFiles,
		AvailFiles: freeFiles,
	}, nil
}

// Close detaches the filesystem. Live handles keep working; minting new
// ones through LookupPath or LookupHandle fails ENODEV.
func (fs *FileSystem) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.closed = true
	return nil
}

// ownHandle checks a caller-supplied handle belongs to this filesystem.
func (fs *FileSystem) ownHandle(h tide.NodeHandle, op string) (*nodeHandle, error) {
	nh, ok := h.(*nodeHandle)
	if !ok || nh.fs != fs {
		return nil, &tide.StoreError{Errno: tide.EXDEV, Op: op}
	}
	return nh, nil
}

// pinLocked hands out a new pinned handle for node.
func (fs *FileSystem) pinLocked(node *fsNode) *nodeHandle {
	node.pins++
	return &nodeHandle{fs: fs, node: node}
}

// removeNodeLocked drops name from dir and reaps the node once nothing
// keeps it alive. An open or pinned node lingers anonymously until its
// last close/release, matching the "unlink while open" contract.
func (fs *FileSystem) removeNodeLocked(dir *fsNode, name string, node *fsNode) {
	delete(dir.children, name)
	node.unlinked = true
	if node.isDir() {
		node.nlink = 0
		dir.nlink--
	} else if node.nlink > 0 {
		node.nlink--
	}
	fs.reapLocked(node)
}

// reapLocked frees a dead node's storage.
func (fs *FileSystem) reapLocked(node *fsNode) {
	if !node.unlinked || node.open || node.pins > 0 {
		return
	}
	fs.used -= uint64(len(node.content))
	node.content = nil
	delete(fs.nodes, node.ino)
}

func splitPath(path string) []string {
	parts := make([]string, 0, 4)
	start := -1
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if start >= 0 {
				parts = append(parts, path[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	return parts
}

var _ tide.Connection = (*Connection)(nil)
var _ tide.FileSystem = (*FileSystem)(nil)
