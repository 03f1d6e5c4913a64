package adapter

import (
	"context"
	"time"

	"github.com/tidefs/tidegate/pkg/vfs"
)

// ============================================================================
// Per-Open I/O Operations
// ============================================================================

// Reopen2 changes the share mode of an existing stateful open: the new
// flags are checked and the counters moved from the old reservation in a
// single step. The backend is only asked to open when the handle held no
// open yet; the store's open is mode-agnostic once established.
func (h *Handle) Reopen2(ctx context.Context, state *vfs.OpenState, flags vfs.OpenFlags) (err error) {
	defer h.export.observe("reopen2", time.Now(), &err)

	old := h.share.Flags()
	if rerr := h.share.Reserve(old, flags, false); rerr != nil {
		h.export.gateway.metrics.RecordShareConflict("reopen2")
		return rerr
	}

	if old.IsClosed() {
		if oerr := h.node.Open(ctx, toTideOpenFlags(flags)); oerr != nil {
			h.share.Update(flags, old)
			return translateError("reopen2", oerr)
		}
	}

	h.share.setFlags(flags)
	return nil
}

// Status2 reports the handle's current open mode for the given state.
func (h *Handle) Status2(state *vfs.OpenState) vfs.OpenFlags {
	return h.share.Flags()
}

// Close2 ends the open tracked by state. Share-tracking tokens give their
// reservation back before the backend close; the recorded open mode only
// clears once the backend confirms.
func (h *Handle) Close2(ctx context.Context, state *vfs.OpenState) (err error) {
	defer h.export.observe("close2", time.Now(), &err)

	if state != nil && state.Type.TracksShare() {
		h.share.Retire()
	}

	if cerr := h.node.Close(ctx); cerr != nil {
		return translateError("close2", cerr)
	}
	h.share.setFlags(vfs.OpenClosed)
	return nil
}

// Close ends a stateless open. It is Close2 without a state token.
func (h *Handle) Close(ctx context.Context) error {
	return h.Close2(ctx, nil)
}

// Read2 reads up to len(p) bytes from offset. eof reports a zero-byte
// result, the store's signal that offset is at or past the end.
func (h *Handle) Read2(ctx context.Context, offset uint64, p []byte, info *vfs.IOInfo) (n int, eof bool, err error) {
	defer h.export.observe("read2", time.Now(), &err)

	if info != nil {
		return 0, false, vfs.Errf(vfs.StatusNotSupported, "read extensions not supported")
	}

	n, rerr := h.node.Read(ctx, offset, p)
	if rerr != nil {
		return 0, false, translateError("read2", rerr)
	}
	h.export.gateway.metrics.RecordBytesTransferred("read", int64(n))
	return n, n == 0, nil
}

// Write2 writes p at offset. A stable write is followed by a whole-file
// backend commit so the data is durable before the call returns.
func (h *Handle) Write2(ctx context.Context, offset uint64, p []byte, stable bool, info *vfs.IOInfo) (n int, err error) {
	defer h.export.observe("write2", time.Now(), &err)

	if info != nil {
		return 0, vfs.Errf(vfs.StatusNotSupported, "write extensions not supported")
	}

	n, werr := h.node.Write(ctx, offset, p)
	if werr != nil {
		return 0, translateError("write2", werr)
	}
	h.export.gateway.metrics.RecordBytesTransferred("write", int64(n))

	if stable {
		if cerr := h.node.Commit(ctx, 0, 0); cerr != nil {
			return n, translateError("write2", cerr)
		}
	}
	return n, nil
}

// Commit2 forces written data in [offset, offset+length) to stable
// storage; length zero extends the range to the end of the object.
func (h *Handle) Commit2(ctx context.Context, offset, length uint64) (err error) {
	defer h.export.observe("commit2", time.Now(), &err)
	return translateError("commit2", h.node.Commit(ctx, offset, length))
}
