package adapter

import (
	"context"
	"time"

	"github.com/tidefs/tidegate/pkg/vfs"
)

// ============================================================================
// Directory Enumeration
// ============================================================================

// ReadDirCallback receives one directory entry per call: the entry's name,
// a fresh handle to it, its attributes filtered to the requested mask, and
// the cookie that resumes enumeration after it. The callback owns the
// handle and must release it. Returning false stops the enumeration.
type ReadDirCallback func(name string, h *Handle, attrs *vfs.Attributes, cookie vfs.Cookie) bool

// ReadDir enumerates the directory from whence (nil means the start),
// invoking cb per entry. The backend pages its listing and a short page
// does not imply the end, so the loop keeps asking until the backend
// itself reports eof. eof is false when the callback stopped early.
//
// Each entry is resolved to a live handle before the callback sees it, so
// a name racing with an unlink surfaces as an error, not a ghost entry.
func (h *Handle) ReadDir(ctx context.Context, whence *vfs.Cookie, mask vfs.AttrMask, cb ReadDirCallback) (eof bool, err error) {
	defer h.export.observe("readdir", time.Now(), &err)

	var cookie uint64
	if whence != nil {
		cookie = uint64(*whence)
	}

	for {
		entries, next, done, rerr := h.node.ReadDir(ctx, cookie)
		if rerr != nil {
			return false, translateError("readdir", rerr)
		}

		for _, entry := range entries {
			child, attrs, lerr := h.Lookup(ctx, entry.Name)
			if lerr != nil {
				return false, lerr
			}
			attrs.Valid &= mask

			if !cb(entry.Name, child, attrs, vfs.Cookie(entry.Cookie)) {
				return false, nil
			}
		}

		if done {
			return true, nil
		}
		cookie = next
	}
}
