package adapter

import (
	"context"
	"time"

	"github.com/tidefs/tidegate/internal/logger"
	"github.com/tidefs/tidegate/pkg/tide"
	"github.com/tidefs/tidegate/pkg/vfs"
)

// ============================================================================
// Open / Create State Machine
// ============================================================================

// OpenRequest carries one open or create request into Open2.
type OpenRequest struct {
	// State is the protocol's open-state token. nil makes the open
	// stateless: no share reservation is taken and deny modes of other
	// openers may be bypassed by the layer above re-issuing with care.
	State *vfs.OpenState

	// Flags is the requested access, deny and truncate combination.
	Flags vfs.OpenFlags

	// CreateMode selects the create semantics when Name is set, and
	// marks exclusive-create retries when it is not.
	CreateMode vfs.CreateMode

	// Name is the entry to open or create under the directory handle;
	// empty means the handle itself is the file to open.
	Name string

	// Attrs optionally seeds attributes for a created object. The
	// request keeps ownership; Open2 works on a private copy.
	Attrs *vfs.Attributes

	// Verifier is the client's idempotency token for exclusive creates.
	Verifier vfs.Verifier
}

// OpenResult is the success result of Open2.
type OpenResult struct {
	// Handle is the opened object: the receiver for by-handle opens, a
	// new caller-owned handle for by-name opens and creates.
	Handle *Handle

	// Attrs, when non-nil, are the object's attributes as observed
	// during the open.
	Attrs *vfs.Attributes

	// CallerPermCheck tells the caller it still has to apply its own
	// access check. Create paths clear it: creation already exercised
	// the parent's write permission under the caller's credentials.
	CallerPermCheck bool
}

// rollbackStack unwinds partially applied open work when a later step
// fails. Undos run in reverse push order; disarm keeps the result.
type rollbackStack struct {
	undos []func()
}

func (r *rollbackStack) push(undo func()) {
	r.undos = append(r.undos, undo)
}

func (r *rollbackStack) disarm() {
	r.undos = nil
}

func (r *rollbackStack) run() {
	for i := len(r.undos) - 1; i >= 0; i-- {
		r.undos[i]()
	}
	r.undos = nil
}

// toTideOpenFlags maps protocol access and truncate bits onto the store's
// open mode. Deny bits are the adapter's concern; the store never sees
// them.
func toTideOpenFlags(flags vfs.OpenFlags) tide.OpenFlag {
	var out tide.OpenFlag
	switch {
	case flags&vfs.OpenReadWrite == vfs.OpenReadWrite:
		out = tide.OpenReadWrite
	case flags&vfs.OpenWrite != 0:
		out = tide.OpenWrite
	default:
		out = tide.OpenRead
	}
	if flags&vfs.OpenTruncate != 0 {
		out |= tide.OpenTruncate
	}
	return out
}

// Open2 opens, and optionally creates, a regular file.
//
// Four request shapes arrive here:
//   - by handle (Name empty): open this object, stateful or stateless;
//   - by handle with an exclusive CreateMode: an exclusive-create retry,
//     recognized by comparing the embedded verifier after the open;
//   - by name without create: resolve Name under this directory, then
//     open the resolved object;
//   - by name with create: create-or-open Name under this directory.
//
// Stateful opens stake their share reservation before touching the
// backend and revert it if the backend open fails. On the create path
// every acquired resource joins a rollback stack, so a failure after
// creation closes the opened node, releases the new handle and removes
// the created name before the error surfaces.
func (h *Handle) Open2(ctx context.Context, req OpenRequest) (_ OpenResult, err error) {
	defer h.export.observe("open2", time.Now(), &err)

	var attrs *vfs.Attributes
	if req.Attrs != nil {
		private := *req.Attrs
		attrs = &private
	}
	if req.CreateMode.RequiresVerifier() {
		if attrs == nil {
			attrs = &vfs.Attributes{}
		}
		embedVerifier(attrs, req.Verifier)
	}

	if req.Name == "" {
		return h.openByHandle(ctx, req)
	}
	if req.CreateMode == vfs.CreateNone {
		return h.openChild(ctx, req)
	}
	return h.createAndOpen(ctx, req, attrs)
}

// openByHandle opens the receiver's own object.
func (h *Handle) openByHandle(ctx context.Context, req OpenRequest) (OpenResult, error) {
	truncated := req.Flags&vfs.OpenTruncate != 0

	var rb rollbackStack
	if req.State != nil {
		if rerr := h.share.Reserve(vfs.OpenClosed, req.Flags, false); rerr != nil {
			h.export.gateway.metrics.RecordShareConflict("open2")
			return OpenResult{}, rerr
		}
		rb.push(func() { h.share.Update(req.Flags, vfs.OpenClosed) })
	} else {
		// No reservation protects a stateless open, so hold the
		// handle's open lock across the backend call to honor the
		// store's one-open-per-node rule.
		h.openMu.Lock()
		defer h.openMu.Unlock()
	}

	if oerr := h.node.Open(ctx, toTideOpenFlags(req.Flags)); oerr != nil {
		rb.run()
		return OpenResult{}, translateError("open2", oerr)
	}
	rb.push(func() {
		if cerr := h.node.Close(context.Background()); cerr != nil {
			logger.Warn("open2 rollback: close failed: %v", cerr)
		}
	})

	// An exclusive-create retry or a truncating open changed or must
	// prove the object's attributes; refresh them before declaring
	// success.
	var attrs *vfs.Attributes
	if req.CreateMode.RequiresVerifier() || truncated {
		st, gerr := h.node.GetAttr(ctx)
		if gerr != nil {
			rb.run()
			return OpenResult{}, translateError("open2", gerr)
		}
		attrs = statToAttrs(&st)

		if req.CreateMode.ChecksVerifier() && !checkVerifier(attrs, req.Verifier) {
			logger.Debug("open2: verifier mismatch on %s", h.node.Key())
			rb.run()
			return OpenResult{}, vfs.NewStatusError(
				vfs.StatusAlreadyExists, int32(tide.EEXIST))
		}
	}

	h.share.setFlags(req.Flags)
	rb.disarm()
	return OpenResult{Handle: h, Attrs: attrs, CallerPermCheck: true}, nil
}

// openChild resolves req.Name under this directory and opens the result
// by handle. The store has no open-by-name, so this is a lookup plus a
// by-handle open, releasing the looked-up handle if the open fails.
func (h *Handle) openChild(ctx context.Context, req OpenRequest) (OpenResult, error) {
	node, lerr := h.node.Lookup(ctx, req.Name)
	if lerr != nil {
		return OpenResult{}, translateError("open2", lerr)
	}
	st, gerr := node.GetAttr(ctx)
	if gerr != nil {
		node.Release()
		return OpenResult{}, translateError("open2", gerr)
	}
	child, herr := newHandle(h.export, node, &st)
	if herr != nil {
		return OpenResult{}, herr
	}

	res, oerr := child.openByHandle(ctx, req)
	if oerr != nil {
		child.Release()
		return OpenResult{}, oerr
	}
	return res, nil
}

// createAndOpen creates req.Name under this directory (or opens a racing
// creator's survivor for unchecked creates) and opens it.
func (h *Handle) createAndOpen(ctx context.Context, req OpenRequest, attrs *vfs.Attributes) (OpenResult, error) {
	// Even unchecked creates try exclusive first, so attributes are only
	// ever applied to an object this call brought into existence.
	posix := toTideOpenFlags(req.Flags) | tide.OpenCreate
	if req.CreateMode >= vfs.CreateGuarded || attrs != nil {
		posix |= tide.OpenExclusive
	}

	st := tide.Stat{Mode: 0o600}
	if attrs != nil && attrs.Has(vfs.AttrMode) {
		st.Mode = attrs.Mode & tide.ModePermMask &^ h.export.umask
		// Mode is consumed here; the post-create setattr must not
		// apply it again.
		attrs.Clear(vfs.AttrMode)
	}
	creds := CredsFrom(ctx)
	st.UID = creds.UID
	st.GID = creds.GID

	node, cerr := h.node.Create(ctx, req.Name, &st, posix)
	if req.CreateMode == vfs.CreateUnchecked && tide.IsErrno(cerr, tide.EEXIST) {
		// Lost the exclusive attempt to a racing creator. Retry
		// non-exclusively, still creating in case the winner's file
		// vanished in between.
		posix &^= tide.OpenExclusive
		node, cerr = h.node.Create(ctx, req.Name, &st, posix)
	}
	if cerr != nil {
		return OpenResult{}, translateError("open2", cerr)
	}
	created := posix&tide.OpenExclusive != 0

	var rb rollbackStack
	if created {
		rb.push(func() {
			if uerr := h.node.Unlink(context.Background(), req.Name); uerr != nil {
				logger.Warn("open2 rollback: unlink %q failed: %v", req.Name, uerr)
			}
		})
	}

	child, herr := newHandle(h.export, node, &st)
	if herr != nil {
		rb.run()
		return OpenResult{}, herr
	}
	rb.push(child.Release)

	if oerr := child.node.Open(ctx, posix); oerr != nil {
		rb.run()
		return OpenResult{}, translateError("open2", oerr)
	}
	rb.push(func() {
		if cerr := child.node.Close(context.Background()); cerr != nil {
			logger.Warn("open2 rollback: close failed: %v", cerr)
		}
	})

	resultAttrs := statToAttrs(&st)

	if created && attrs != nil && attrs.Valid != 0 {
		if serr := child.SetAttrs2(ctx, false, req.State, attrs); serr != nil {
			rb.run()
			return OpenResult{}, serr
		}
		refreshed, gerr := child.GetAttrs(ctx)
		if gerr != nil {
			rb.run()
			return OpenResult{}, gerr
		}
		resultAttrs = refreshed
	}

	child.share.setFlags(req.Flags)
	if req.State != nil {
		// A just-created object holds no reservations to conflict
		// with; record ours without a check.
		child.share.Update(vfs.OpenClosed, req.Flags)
	}

	rb.disarm()
	return OpenResult{Handle: child, Attrs: resultAttrs, CallerPermCheck: false}, nil
}
