package adapter

import (
	"context"
	"time"

	"github.com/tidefs/tidegate/internal/logger"
	"github.com/tidefs/tidegate/pkg/tide"
	"github.com/tidefs/tidegate/pkg/vfs"
)

// ============================================================================
// Exports
// ============================================================================

// Export is one mounted backend filesystem as seen by the protocol layer.
// It owns the root handle and the mount; both live until Unmount. Every
// Handle belongs to exactly one Export.
type Export struct {
	gateway *Gateway
	fs      tide.FileSystem
	spec    tide.MountSpec

	root   *Handle
	umask  uint32
	limits vfs.FSLimits
}

// observe records one operation's duration and outcome. Deferred with a
// named error so the value recorded is the one the caller gets.
func (e *Export) observe(op string, start time.Time, errp *error) {
	e.gateway.metrics.RecordOperation(op, time.Since(start), *errp)
}

// Root returns the export's root handle. It is shared, long-lived and
// must not be released by callers.
func (e *Export) Root() *Handle {
	return e.root
}

// Spec returns the mount addressing this export serves.
func (e *Export) Spec() tide.MountSpec {
	return e.spec
}

// Limits returns the export's static capabilities.
func (e *Export) Limits() vfs.FSLimits {
	return e.limits
}

// ExtractKey decodes a wire digest back into a node key. The wire form is
// fixed-size; any other length is a malformed handle from the client.
func (e *Export) ExtractKey(buf []byte) (tide.NodeKey, error) {
	key, err := tide.DecodeNodeKey(buf)
	if err != nil {
		logger.Debug("extract key: %v", err)
		return tide.NodeKey{}, vfs.NewStatusError(
			vfs.StatusInvalidArgument, int32(tide.EINVAL))
	}
	return key, nil
}

// ResolveHandle turns a previously issued wire key back into a live
// Handle. Whatever the backend's reason for not resolving the key, the
// client's handle is stale; the original errno rides along as the minor
// code.
func (e *Export) ResolveHandle(ctx context.Context, key tide.NodeKey) (_ *Handle, err error) {
	defer e.observe("resolve_handle", time.Now(), &err)

	node, lerr := e.fs.LookupHandle(ctx, key)
	if lerr != nil {
		errno, _ := tide.ErrnoOf(lerr)
		logger.Debug("resolve %s: %v", key, lerr)
		return nil, vfs.NewStatusError(vfs.StatusStale, int32(errno))
	}

	st, gerr := node.GetAttr(ctx)
	if gerr != nil {
		node.Release()
		return nil, translateError("resolve_handle", gerr)
	}
	return newHandle(e, node, &st)
}

// LookupPath resolves an absolute path within the export to a fresh
// Handle and its attributes. The caller owns the handle.
func (e *Export) LookupPath(ctx context.Context, path string) (_ *Handle, _ *vfs.Attributes, err error) {
	defer e.observe("lookup_path", time.Now(), &err)

	node, lerr := e.fs.LookupPath(ctx, path)
	if lerr != nil {
		return nil, nil, translateError("lookup_path", lerr)
	}
	st, gerr := node.GetAttr(ctx)
	if gerr != nil {
		node.Release()
		return nil, nil, translateError("lookup_path", gerr)
	}
	h, herr := newHandle(e, node, &st)
	if herr != nil {
		return nil, nil, herr
	}
	return h, statToAttrs(&st), nil
}

// Rename moves oldName under oldDir to newName under newDir, replacing a
// compatible existing target. Both directories must belong to this
// export.
func (e *Export) Rename(ctx context.Context, oldDir *Handle, oldName string, newDir *Handle, newName string) (err error) {
	defer e.observe("rename", time.Now(), &err)
	return translateError("rename",
		e.fs.Rename(ctx, oldDir.node, oldName, newDir.node, newName))
}

// DynamicInfo reports the export's live space and object usage.
func (e *Export) DynamicInfo(ctx context.Context) (_ vfs.DynamicFSInfo, err error) {
	defer e.observe("dynamic_info", time.Now(), &err)

	stat, serr := e.fs.StatFS(ctx)
	if serr != nil {
		return vfs.DynamicFSInfo{}, translateError("dynamic_info", serr)
	}
	return vfs.DynamicFSInfo{
		TotalBytes: stat.TotalBytes,
		FreeBytes:  stat.FreeBytes,
		AvailBytes: stat.AvailBytes,
		TotalFiles: stat.TotalFiles,
		FreeFiles:  stat.FreeFiles,
		AvailFiles: stat.AvailFiles,
		TimeDelta:  time.Second,
	}, nil
}

// Unmount detaches the export. The root's node pin is dropped here, but
// the backend filesystem stays attached until the gateway's final
// teardown: handles the protocol layer still holds keep working against
// the store until each is released.
func (e *Export) Unmount() {
	e.root.releaseOnce.Do(func() {
		e.root.node.Release()
		e.gateway.handleReleased()
	})
	e.gateway.detach(e)
	logger.Info("unmounted %s/%s", e.spec.Pool, e.spec.Volume)
}
