package adapter

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/tidefs/tidegate/internal/logger"
	"github.com/tidefs/tidegate/pkg/tide"
	"github.com/tidefs/tidegate/pkg/vfs"
)

// ============================================================================
// Attribute Mapping
// ============================================================================

// statToAttrs converts a backend stat into a fully populated attribute set.
// SpaceUsed derives from the 512-byte block count; ChgTime tracks ctime.
func statToAttrs(st *tide.Stat) *vfs.Attributes {
	return &vfs.Attributes{
		Valid:     vfs.SupportedAttrs,
		Type:      fileTypeOf(st.Mode),
		Mode:      st.Mode & tide.ModePermMask,
		NumLinks:  st.NLink,
		Owner:     st.UID,
		Group:     st.GID,
		RawDev:    st.RDev,
		ATime:     st.ATime,
		CTime:     st.CTime,
		MTime:     st.MTime,
		ChgTime:   st.CTime,
		Size:      st.Size,
		SpaceUsed: st.Blocks * 512,
		FSID:      vfs.FSID{Major: st.Dev},
		FileID:    st.Ino,
	}
}

// seedStat builds the initial stat for a new object: the caller's identity
// from the request context and the requested permission bits after the
// export umask. Type bits are the store's concern.
func (e *Export) seedStat(ctx context.Context, attrs *vfs.Attributes) tide.Stat {
	creds := CredsFrom(ctx)
	st := tide.Stat{UID: creds.UID, GID: creds.GID}
	if attrs != nil && attrs.Has(vfs.AttrMode) {
		st.Mode = attrs.Mode & tide.ModePermMask &^ e.umask
	}
	return st
}

// toTideSetAttr maps the populated settable fields of attrs (size excluded,
// truncation is not a SetAttr) onto a backend stat and mask. Server-time
// requests resolve against the local clock here; the store writes exactly
// what it is told.
func (e *Export) toTideSetAttr(attrs *vfs.Attributes) (tide.Stat, tide.SetAttrMask) {
	var st tide.Stat
	var mask tide.SetAttrMask

	if attrs.Has(vfs.AttrMode) {
		st.Mode = attrs.Mode & tide.ModePermMask &^ e.umask
		mask |= tide.SetAttrMode
	}
	if attrs.Has(vfs.AttrOwner) {
		st.UID = attrs.Owner
		mask |= tide.SetAttrUID
	}
	if attrs.Has(vfs.AttrGroup) {
		st.GID = attrs.Group
		mask |= tide.SetAttrGID
	}

	now := time.Now()
	if attrs.Has(vfs.AttrATimeServer) {
		st.ATime = now
		mask |= tide.SetAttrATime
	} else if attrs.Has(vfs.AttrATime) {
		st.ATime = attrs.ATime
		mask |= tide.SetAttrATime
	}
	if attrs.Has(vfs.AttrMTimeServer) {
		st.MTime = now
		mask |= tide.SetAttrMTime
	} else if attrs.Has(vfs.AttrMTime) {
		st.MTime = attrs.MTime
		mask |= tide.SetAttrMTime
	}
	if attrs.Has(vfs.AttrCTime) {
		st.CTime = attrs.CTime
		mask |= tide.SetAttrCTime
	}

	return st, mask
}

// embedVerifier stores the create verifier where an exclusive-create retry
// will look for it: the high word in the access time's seconds, the low
// word in the modification time's.
func embedVerifier(attrs *vfs.Attributes, verifier vfs.Verifier) {
	hi := binary.BigEndian.Uint32(verifier[0:4])
	lo := binary.BigEndian.Uint32(verifier[4:8])
	attrs.SetATime(time.Unix(int64(hi), 0))
	attrs.SetMTime(time.Unix(int64(lo), 0))
}

// checkVerifier reports whether the object's timestamps carry the given
// verifier, meaning an earlier exclusive create of it already succeeded.
func checkVerifier(attrs *vfs.Attributes, verifier vfs.Verifier) bool {
	hi := binary.BigEndian.Uint32(verifier[0:4])
	lo := binary.BigEndian.Uint32(verifier[4:8])
	return attrs.ATime.Unix() == int64(hi) && attrs.MTime.Unix() == int64(lo)
}

// GetAttrs fetches the object's current attributes.
func (h *Handle) GetAttrs(ctx context.Context) (_ *vfs.Attributes, err error) {
	defer h.export.observe("getattrs", time.Now(), &err)

	st, gerr := h.node.GetAttr(ctx)
	if gerr != nil {
		return nil, translateError("getattrs", gerr)
	}
	return statToAttrs(&st), nil
}

// SetAttrs2 applies the populated fields of attrs to the object.
//
// A size change is a truncate: only regular files accept one, and when no
// open state is supplied the reservation counters are consulted as if a
// stateless writer were opening, honoring bypass the same way. The
// remaining fields funnel into a single backend SetAttr.
func (h *Handle) SetAttrs2(ctx context.Context, bypass bool, state *vfs.OpenState, attrs *vfs.Attributes) (err error) {
	defer h.export.observe("setattr2", time.Now(), &err)

	if unsupported := attrs.Valid &^ vfs.SettableAttrs; unsupported != 0 {
		return vfs.Errf(vfs.StatusInvalidArgument,
			"attributes %s are not settable", unsupported)
	}

	if attrs.Has(vfs.AttrSize) {
		if h.kind != vfs.FileTypeRegular {
			logger.Debug("setattr2: size change on %s object", h.kind)
			return vfs.NewStatusError(vfs.StatusInvalidArgument, int32(tide.EINVAL))
		}
		if state == nil {
			if cerr := h.share.CheckConflict(vfs.OpenReadWrite, bypass); cerr != nil {
				h.export.gateway.metrics.RecordShareConflict("setattr2")
				return cerr
			}
		}
		if terr := h.node.Truncate(ctx, attrs.Size); terr != nil {
			return translateError("setattr2", terr)
		}
	}

	rest := *attrs
	rest.Clear(vfs.AttrSize)
	st, mask := h.export.toTideSetAttr(&rest)
	if mask == 0 {
		return nil
	}
	return translateError("setattr2", h.node.SetAttr(ctx, &st, mask))
}
