package memory

import (
	"context"
	"time"

	"github.com/tidefs/tidegate/pkg/tide"
)

// Open places the node in the open state. The store allows at most one
// concurrent open per node, so a second Open fails EBUSY until Close.
// OpenTruncate discards existing content.
func (h *nodeHandle) Open(ctx context.Context, flags tide.OpenFlag) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	n := h.node
	if n.isDir() && flags.WantsWrite() {
		return &tide.StoreError{Errno: tide.EISDIR, Op: "open"}
	}
	if n.open {
		return &tide.StoreError{Errno: tide.EBUSY, Op: "open"}
	}

	n.open = true
	n.openFlags = flags
	if flags&tide.OpenTruncate != 0 && n.isRegular() {
		h.fs.truncateLocked(n, 0)
	}
	return nil
}

// Close leaves the open state. Closing a node that was never opened
// fails EBADF.
func (h *nodeHandle) Close(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	n := h.node
	if !n.open {
		return &tide.StoreError{Errno: tide.EBADF, Op: "close"}
	}
	n.open = false
	n.openFlags = 0
	h.fs.reapLocked(n)
	return nil
}

// Read copies file content at offset into p. Reads past the end return
// zero bytes.
func (h *nodeHandle) Read(ctx context.Context, offset uint64, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	h.fs.mu.RLock()
	defer h.fs.mu.RUnlock()

	n := h.node
	if n.isDir() {
		return 0, &tide.StoreError{Errno: tide.EISDIR, Op: "read"}
	}
	if offset >= uint64(len(n.content)) {
		return 0, nil
	}
	return copy(p, n.content[offset:]), nil
}

// Write stores p at offset, growing the file as needed. Gaps created by
// a sparse write read back as zeros.
func (h *nodeHandle) Write(ctx context.Context, offset uint64, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	n := h.node
	if n.isDir() {
		return 0, &tide.StoreError{Errno: tide.EISDIR, Op: "write"}
	}

	end := offset + uint64(len(p))
	if end > uint64(len(n.content)) {
		if h.fs.used+end-uint64(len(n.content)) > h.fs.opts.Capacity {
			return 0, &tide.StoreError{Errno: tide.ENOSPC, Op: "write"}
		}
		grown := make([]byte, end)
		copy(grown, n.content)
		h.fs.used += end - uint64(len(n.content))
		n.content = grown
		n.size = end
	}
	copy(n.content[offset:], p)

	now := time.Now()
	n.mtime = now
	n.ctime = now
	return len(p), nil
}

// Truncate sets the file size, zero-filling on growth.
func (h *nodeHandle) Truncate(ctx context.Context, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	n := h.node
	if n.isDir() {
		return &tide.StoreError{Errno: tide.EISDIR, Op: "truncate"}
	}
	h.fs.truncateLocked(n, size)
	return nil
}

// Commit is a no-op: memory writes are always durable for the life of
// the store.
func (h *nodeHandle) Commit(ctx context.Context, offset, length uint64) error {
	return ctx.Err()
}

func (fs *FileSystem) truncateLocked(n *fsNode, size uint64) {
	old := uint64(len(n.content))
	switch {
	case size < old:
		fs.used -= old - size
		n.content = n.content[:size]
	case size > old:
		grown := make([]byte, size)
		copy(grown, n.content)
		fs.used += size - old
		n.content = grown
	}
	n.size = size

	now := time.Now()
	n.mtime = now
	n.ctime = now
}
