package adapter

import (
	"context"
	"sync"

	"github.com/tidefs/tidegate/pkg/tide"
)

// faults sits between the adapter and the backing store: it counts the
// backend calls the adapter makes and can force the next open or setattr
// to fail. Forced errors fire exactly once.
type faults struct {
	mu sync.Mutex

	openErr    error
	setAttrErr error

	openCalls     int
	closeCalls    int
	setAttrCalls  int
	truncateCalls int
	commitCalls   int
	unlinked      []string
}

func (f *faults) failNextOpen(errno tide.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = &tide.StoreError{Errno: errno, Op: "open"}
}

func (f *faults) failNextSetAttr(errno tide.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setAttrErr = &tide.StoreError{Errno: errno, Op: "setattr"}
}

func (f *faults) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCalls
}

func (f *faults) setAttrCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setAttrCalls
}

func (f *faults) truncateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.truncateCalls
}

func (f *faults) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commitCalls
}

func (f *faults) unlinkedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unlinked...)
}

// withFaults wires f between a connection and everything obtained
// through it.
func withFaults(conn tide.Connection, f *faults) tide.Connection {
	return &faultConn{inner: conn, f: f}
}

type faultConn struct {
	inner tide.Connection
	f     *faults
}

func (c *faultConn) OpenFileSystem(ctx context.Context, spec tide.MountSpec) (tide.FileSystem, error) {
	fs, err := c.inner.OpenFileSystem(ctx, spec)
	if err != nil {
		return nil, err
	}
	return &faultFS{inner: fs, f: c.f}, nil
}

func (c *faultConn) Close() error {
	return c.inner.Close()
}

type faultFS struct {
	inner tide.FileSystem
	f     *faults
}

func (w *faultFS) LookupPath(ctx context.Context, path string) (tide.NodeHandle, error) {
	node, err := w.inner.LookupPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return &faultNode{inner: node, f: w.f}, nil
}

func (w *faultFS) LookupHandle(ctx context.Context, key tide.NodeKey) (tide.NodeHandle, error) {
	node, err := w.inner.LookupHandle(ctx, key)
	if err != nil {
		return nil, err
	}
	return &faultNode{inner: node, f: w.f}, nil
}

// Rename unwraps the directory handles: the store only accepts its own.
func (w *faultFS) Rename(ctx context.Context, oldDir tide.NodeHandle, oldName string, newDir tide.NodeHandle, newName string) error {
	return w.inner.Rename(ctx, unwrapNode(oldDir), oldName, unwrapNode(newDir), newName)
}

func (w *faultFS) StatFS(ctx context.Context) (tide.FSStat, error) {
	return w.inner.StatFS(ctx)
}

func (w *faultFS) Close() error {
	return w.inner.Close()
}

func unwrapNode(h tide.NodeHandle) tide.NodeHandle {
	if fn, ok := h.(*faultNode); ok {
		return fn.inner
	}
	return h
}

type faultNode struct {
	inner tide.NodeHandle
	f     *faults
}

func (n *faultNode) Key() tide.NodeKey {
	return n.inner.Key()
}

func (n *faultNode) GetAttr(ctx context.Context) (tide.Stat, error) {
	return n.inner.GetAttr(ctx)
}

func (n *faultNode) SetAttr(ctx context.Context, st *tide.Stat, mask tide.SetAttrMask) error {
	n.f.mu.Lock()
	n.f.setAttrCalls++
	err := n.f.setAttrErr
	n.f.setAttrErr = nil
	n.f.mu.Unlock()
	if err != nil {
		return err
	}
	return n.inner.SetAttr(ctx, st, mask)
}

func (n *faultNode) Lookup(ctx context.Context, name string) (tide.NodeHandle, error) {
	child, err := n.inner.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return &faultNode{inner: child, f: n.f}, nil
}

func (n *faultNode) Create(ctx context.Context, name string, st *tide.Stat, flags tide.OpenFlag) (tide.NodeHandle, error) {
	child, err := n.inner.Create(ctx, name, st, flags)
	if err != nil {
		return nil, err
	}
	return &faultNode{inner: child, f: n.f}, nil
}

func (n *faultNode) Mkdir(ctx context.Context, name string, st *tide.Stat) (tide.NodeHandle, error) {
	child, err := n.inner.Mkdir(ctx, name, st)
	if err != nil {
		return nil, err
	}
	return &faultNode{inner: child, f: n.f}, nil
}

func (n *faultNode) Open(ctx context.Context, flags tide.OpenFlag) error {
	n.f.mu.Lock()
	n.f.openCalls++
	err := n.f.openErr
	n.f.openErr = nil
	n.f.mu.Unlock()
	if err != nil {
		return err
	}
	return n.inner.Open(ctx, flags)
}

func (n *faultNode) Close(ctx context.Context) error {
	n.f.mu.Lock()
	n.f.closeCalls++
	n.f.mu.Unlock()
	return n.inner.Close(ctx)
}

func (n *faultNode) Read(ctx context.Context, offset uint64, p []byte) (int, error) {
	return n.inner.Read(ctx, offset, p)
}

func (n *faultNode) Write(ctx context.Context, offset uint64, p []byte) (int, error) {
	return n.inner.Write(ctx, offset, p)
}

func (n *faultNode) Truncate(ctx context.Context, size uint64) error {
	n.f.mu.Lock()
	n.f.truncateCalls++
	n.f.mu.Unlock()
	return n.inner.Truncate(ctx, size)
}

func (n *faultNode) Commit(ctx context.Context, offset, length uint64) error {
	n.f.mu.Lock()
	n.f.commitCalls++
	n.f.mu.Unlock()
	return n.inner.Commit(ctx, offset, length)
}

func (n *faultNode) Unlink(ctx context.Context, name string) error {
	n.f.mu.Lock()
	n.f.unlinked = append(n.f.unlinked, name)
	n.f.mu.Unlock()
	return n.inner.Unlink(ctx, name)
}

func (n *faultNode) ReadDir(ctx context.Context, cookie uint64) ([]tide.DirEntry, uint64, bool, error) {
	return n.inner.ReadDir(ctx, cookie)
}

func (n *faultNode) Release() {
	n.inner.Release()
}

var (
	_ tide.Connection = (*faultConn)(nil)
	_ tide.FileSystem = (*faultFS)(nil)
	_ tide.NodeHandle = (*faultNode)(nil)
)
