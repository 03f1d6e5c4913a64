package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/tidefs/tidegate/pkg/tide"
	"github.com/tidefs/tidegate/pkg/vfs"
)

// ============================================================================
// Object Handles
// ============================================================================

// Handle binds one protocol-visible object to a pinned backend node.
//
// Handles are constructed by lookup, create, mkdir and wire-key resolution
// and released exactly once no matter how many times Release is called.
// The identity triple (type, fsid, fileid) is derived from the backend stat
// at construction and never changes; all mutable state lives in the share
// record, which tracks reservation counters together with the handle's
// current backend open mode.
type Handle struct {
	export *Export
	node   tide.NodeHandle

	kind   vfs.FileType
	fsid   vfs.FSID
	fileid uint64
	isRoot bool

	share shareState

	// openMu serializes stateless opens. They stake no reservation, so
	// the only way to honor the store's one-open-per-node rule is to
	// keep the conflict window closed across the backend call.
	openMu sync.Mutex

	releaseOnce sync.Once
}

// fileTypeOf maps backend mode type bits to the protocol object type.
func fileTypeOf(mode uint32) vfs.FileType {
	switch mode & tide.ModeTypeMask {
	case tide.ModeRegular:
		return vfs.FileTypeRegular
	case tide.ModeDir:
		return vfs.FileTypeDirectory
	case tide.ModeSymlink:
		return vfs.FileTypeSymlink
	case tide.ModeBlockDev:
		return vfs.FileTypeBlockDevice
	case tide.ModeCharDev:
		return vfs.FileTypeCharDevice
	case tide.ModeSocket:
		return vfs.FileTypeSocket
	case tide.ModeFifo:
		return vfs.FileTypeFifo
	default:
		return vfs.FileTypeNone
	}
}

// newHandle wraps a pinned backend node. On success the Handle owns the
// pin; on error the node is released here so no caller has to remember.
func newHandle(export *Export, node tide.NodeHandle, st *tide.Stat) (*Handle, error) {
	kind := fileTypeOf(st.Mode)
	if kind == vfs.FileTypeNone {
		key := node.Key()
		node.Release()
		return nil, vfs.Errf(vfs.StatusServerFault,
			"node %s reports unrecognized mode %#o", key, st.Mode)
	}

	h := &Handle{
		export: export,
		node:   node,
		kind:   kind,
		fsid:   vfs.FSID{Major: st.Dev},
		fileid: st.Ino,
	}
	export.gateway.handleConstructed()
	return h, nil
}

// Type returns the object type fixed at construction.
func (h *Handle) Type() vfs.FileType {
	return h.kind
}

// FileID returns the per-filesystem object identifier.
func (h *Handle) FileID() uint64 {
	return h.fileid
}

// FSID returns the owning filesystem's identifier.
func (h *Handle) FSID() vfs.FSID {
	return h.fsid
}

// Export returns the export the handle belongs to.
func (h *Handle) Export() *Export {
	return h.export
}

// Key returns the node's stable wire key, the same bytes Digest writes.
func (h *Handle) Key() tide.NodeKey {
	return h.node.Key()
}

// Release unpins the backend node. Extra calls are no-ops. The root
// handle's pin belongs to the export and is only dropped at unmount.
func (h *Handle) Release() {
	if h.isRoot {
		return
	}
	h.releaseOnce.Do(func() {
		h.node.Release()
		h.export.gateway.handleReleased()
	})
}

// Digest writes the fixed-size wire form of the handle's key into buf and
// returns the byte count. Both supported wire flavors share one layout;
// the kind is still checked so an unknown request fails loudly instead of
// leaking a key under the wrong framing.
func (h *Handle) Digest(kind vfs.DigestKind, buf []byte) (int, error) {
	switch kind {
	case vfs.DigestV3, vfs.DigestV4:
	default:
		return 0, vfs.Errf(vfs.StatusServerFault, "unknown digest kind %d", kind)
	}
	if len(buf) < tide.KeySize {
		return 0, vfs.Errf(vfs.StatusTooSmall,
			"digest buffer holds %d bytes, key needs %d", len(buf), tide.KeySize)
	}
	return h.node.Key().Encode(buf), nil
}

// Merge folds dupe's share reservations into h. Two live handles can
// transiently bind the same backend object (a wire key resolved while a
// name lookup's handle is still around); the protocol layer keeps one and
// merges the other into it before releasing the duplicate. Only regular
// files carry reservations, for every other type this is a no-op. On a
// cross conflict neither record changes.
func (h *Handle) Merge(dupe *Handle) error {
	if h.kind != vfs.FileTypeRegular || dupe.kind != vfs.FileTypeRegular {
		return nil
	}
	if err := h.share.Merge(&dupe.share); err != nil {
		h.export.gateway.metrics.RecordShareConflict("merge")
		return err
	}
	return nil
}

// Lookup resolves name under this directory to a fresh Handle and its
// attributes. The caller owns the returned handle.
func (h *Handle) Lookup(ctx context.Context, name string) (_ *Handle, _ *vfs.Attributes, err error) {
	defer h.export.observe("lookup", time.Now(), &err)

	node, lerr := h.node.Lookup(ctx, name)
	if lerr != nil {
		return nil, nil, translateError("lookup", lerr)
	}
	st, gerr := node.GetAttr(ctx)
	if gerr != nil {
		node.Release()
		return nil, nil, translateError("lookup", gerr)
	}
	child, err := newHandle(h.export, node, &st)
	if err != nil {
		return nil, nil, err
	}
	return child, statToAttrs(&st), nil
}

// Create makes an empty regular file under this directory, seeded with
// the caller's identity and the requested mode after the export umask.
// The attributes of the new object come straight from the create-time
// stat. Opens that create go through Open2 instead.
func (h *Handle) Create(ctx context.Context, name string, attrs *vfs.Attributes) (_ *Handle, _ *vfs.Attributes, err error) {
	defer h.export.observe("create", time.Now(), &err)

	st := h.export.seedStat(ctx, attrs)
	node, cerr := h.node.Create(ctx, name, &st, 0)
	if cerr != nil {
		return nil, nil, translateError("create", cerr)
	}
	child, err := newHandle(h.export, node, &st)
	if err != nil {
		return nil, nil, err
	}
	return child, statToAttrs(&st), nil
}

// Mkdir makes a directory under this directory, seeded like Create.
func (h *Handle) Mkdir(ctx context.Context, name string, attrs *vfs.Attributes) (_ *Handle, _ *vfs.Attributes, err error) {
	defer h.export.observe("mkdir", time.Now(), &err)

	st := h.export.seedStat(ctx, attrs)
	node, merr := h.node.Mkdir(ctx, name, &st)
	if merr != nil {
		return nil, nil, translateError("mkdir", merr)
	}
	child, err := newHandle(h.export, node, &st)
	if err != nil {
		return nil, nil, err
	}
	return child, statToAttrs(&st), nil
}

// Unlink removes the named entry from this directory. Directories must be
// empty. A removed object with live handles or opens lingers in the
// backend until the last of them goes away.
func (h *Handle) Unlink(ctx context.Context, name string) (err error) {
	defer h.export.observe("unlink", time.Now(), &err)
	return translateError("unlink", h.node.Unlink(ctx, name))
}
