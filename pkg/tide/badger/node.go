package badger

import (
	"context"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/tidefs/tidegate/internal/logger"
	"github.com/tidefs/tidegate/pkg/tide"
)

// nodeHandle is a pinned reference to one node record. The record itself
// is read fresh from the database on every operation; the handle only
// carries the identity and keeps the pin.
type nodeHandle struct {
	fs  *FileSystem
	ino uint64
	gen uint64

	released bool
}

var _ tide.NodeHandle = (*nodeHandle)(nil)

// Key returns the stable wire identity of the node.
func (h *nodeHandle) Key() tide.NodeKey {
	return tide.NodeKey{Volume: h.fs.volume, Ino: h.ino, Gen: h.gen}
}

// Release drops the pin. The handle must not be used afterwards.
func (h *nodeHandle) Release() {
	h.fs.mu.Lock()
	if h.released {
		h.fs.mu.Unlock()
		return
	}
	h.released = true
	h.fs.pins[h.ino]--
	if h.fs.pins[h.ino] <= 0 {
		delete(h.fs.pins, h.ino)
	}
	_, open := h.fs.opens[h.ino]
	busy := open || h.fs.pins[h.ino] > 0
	h.fs.mu.Unlock()

	if busy {
		return
	}
	if h.fs.unlinkedNode(h.ino, h.gen) {
		h.fs.reapNode(context.Background(), h.ino, h.gen)
	}
}

// loadOwn reads this handle's record, checking generation liveness.
func (h *nodeHandle) loadOwn(txn *badger.Txn) (*nodeRecord, error) {
	rec, err := h.fs.loadNode(txn, h.ino)
	if err != nil {
		return nil, err
	}
	if rec.Gen != h.gen {
		return nil, &tide.StoreError{Errno: tide.ESTALE, Op: "load-node", Path: h.Key().String()}
	}
	return rec, nil
}

// GetAttr snapshots the node's attributes.
func (h *nodeHandle) GetAttr(ctx context.Context) (_ tide.Stat, err error) {
	defer h.fs.observe("getattr", time.Now(), &err)
	if err = ctx.Err(); err != nil {
		return tide.Stat{}, err
	}

	var st tide.Stat
	err = h.fs.store.db.View(func(txn *badger.Txn) error {
		rec, err := h.loadOwn(txn)
		if err != nil {
			return err
		}
		st = rec.stat(h.fs.dev)
		return nil
	})
	if err != nil {
		return tide.Stat{}, err
	}
	return st, nil
}

// SetAttr applies the masked fields of st to the node.
func (h *nodeHandle) SetAttr(ctx context.Context, st *tide.Stat, mask tide.SetAttrMask) (err error) {
	defer h.fs.observe("setattr", time.Now(), &err)
	if err = ctx.Err(); err != nil {
		return err
	}

	return h.fs.update("setattr", func(txn *badger.Txn) error {
		rec, err := h.loadOwn(txn)
		if err != nil {
			return err
		}
		if mask&tide.SetAttrMode != 0 {
			rec.Mode = rec.Mode&tide.ModeTypeMask | st.Mode&tide.ModePermMask
		}
		if mask&tide.SetAttrUID != 0 {
			rec.UID = st.UID
		}
		if mask&tide.SetAttrGID != 0 {
			rec.GID = st.GID
		}
		if mask&tide.SetAttrATime != 0 {
			rec.ATime = st.ATime
		}
		if mask&tide.SetAttrMTime != 0 {
			rec.MTime = st.MTime
		}
		if mask&tide.SetAttrCTime != 0 {
			rec.CTime = st.CTime
		} else if mask != 0 {
			rec.CTime = time.Now()
		}
		return h.fs.storeNode(txn, rec)
	})
}

// Lookup resolves name under this directory. "." and ".." resolve to the
// node itself and its parent.
func (h *nodeHandle) Lookup(ctx context.Context, name string) (_ tide.NodeHandle, err error) {
	defer h.fs.observe("lookup", time.Now(), &err)
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	var ino, gen uint64
	err = h.fs.store.db.View(func(txn *badger.Txn) error {
		dir, err := h.loadOwn(txn)
		if err != nil {
			return err
		}
		if !dir.isDir() {
			return &tide.StoreError{Errno: tide.ENOTDIR, Op: "lookup", Path: name}
		}

		switch name {
		case ".":
			ino, gen = dir.Ino, dir.Gen
			return nil
		case "..":
			parent, err := h.fs.loadNode(txn, dir.Parent)
			if err != nil {
				return err
			}
			ino, gen = parent.Ino, parent.Gen
			return nil
		}

		childIno, err := h.fs.getDirent(txn, h.ino, name)
		if err != nil {
			return err
		}
		child, err := h.fs.loadNode(txn, childIno)
		if err != nil {
			return err
		}
		ino, gen = child.Ino, child.Gen
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h.fs.pin(ino, gen), nil
}

// Create makes (or opens) a regular file named name under this directory.
// Without OpenExclusive an existing entry is returned as is; with it the
// call fails EEXIST. st supplies initial mode and ownership and receives
// the resulting attributes.
func (h *nodeHandle) Create(ctx context.Context, name string, st *tide.Stat, flags tide.OpenFlag) (_ tide.NodeHandle, err error) {
	defer h.fs.observe("create", time.Now(), &err)
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	var out tide.Stat
	var ino, gen uint64
	err = h.fs.update("create", func(txn *badger.Txn) error {
		dir, err := h.loadOwn(txn)
		if err != nil {
			return err
		}
		if !dir.isDir() {
			return &tide.StoreError{Errno: tide.ENOTDIR, Op: "create", Path: name}
		}
		if name == "" || name == "." || name == ".." {
			return &tide.StoreError{Errno: tide.EINVAL, Op: "create", Path: name}
		}

		existingIno, lerr := h.fs.getDirent(txn, h.ino, name)
		switch {
		case lerr == nil:
			if flags&tide.OpenExclusive != 0 {
				return &tide.StoreError{Errno: tide.EEXIST, Op: "create", Path: name}
			}
			existing, err := h.fs.loadNode(txn, existingIno)
			if err != nil {
				return err
			}
			if existing.isDir() {
				return &tide.StoreError{Errno: tide.EISDIR, Op: "create", Path: name}
			}
			out = existing.stat(h.fs.dev)
			ino, gen = existing.Ino, existing.Gen
			return nil
		case !tide.IsErrno(lerr, tide.ENOENT):
			return lerr
		}

		newIno, err := h.fs.allocIno()
		if err != nil {
			return err
		}
		newGen, err := h.fs.allocGen()
		if err != nil {
			return err
		}

		now := time.Now()
		rec := &nodeRecord{
			Ino:    newIno,
			Gen:    newGen,
			Mode:   tide.ModeRegular | st.Mode&tide.ModePermMask,
			NLink:  1,
			UID:    st.UID,
			GID:    st.GID,
			Parent: dir.Ino,
			ATime:  now,
			MTime:  now,
			CTime:  now,
		}
		if err := h.fs.storeNode(txn, rec); err != nil {
			return err
		}
		if err := txn.Set(keyDirent(h.fs.volume, h.ino, name), encodeUint64(newIno)); err != nil {
			return err
		}
		if err := h.fs.addCounter(txn, counterFiles, 1); err != nil {
			return err
		}
		dir.MTime, dir.CTime = now, now
		if err := h.fs.storeNode(txn, dir); err != nil {
			return err
		}

		out = rec.stat(h.fs.dev)
		ino, gen = newIno, newGen
		return nil
	})
	if err != nil {
		return nil, err
	}
	*st = out
	return h.fs.pin(ino, gen), nil
}

// Mkdir makes a directory named name under this directory.
func (h *nodeHandle) Mkdir(ctx context.Context, name string, st *tide.Stat) (_ tide.NodeHandle, err error) {
	defer h.fs.observe("mkdir", time.Now(), &err)
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	var out tide.Stat
	var ino, gen uint64
	err = h.fs.update("mkdir", func(txn *badger.Txn) error {
		dir, err := h.loadOwn(txn)
		if err != nil {
			return err
		}
		if !dir.isDir() {
			return &tide.StoreError{Errno: tide.ENOTDIR, Op: "mkdir", Path: name}
		}
		if name == "" || name == "." || name == ".." {
			return &tide.StoreError{Errno: tide.EINVAL, Op: "mkdir", Path: name}
		}

		if _, lerr := h.fs.getDirent(txn, h.ino, name); lerr == nil {
			return &tide.StoreError{Errno: tide.EEXIST, Op: "mkdir", Path: name}
		} else if !tide.IsErrno(lerr, tide.ENOENT) {
			return lerr
		}

		newIno, err := h.fs.allocIno()
		if err != nil {
			return err
		}
		newGen, err := h.fs.allocGen()
		if err != nil {
			return err
		}

		now := time.Now()
		rec := &nodeRecord{
			Ino:    newIno,
			Gen:    newGen,
			Mode:   tide.ModeDir | st.Mode&tide.ModePermMask,
			NLink:  2,
			UID:    st.UID,
			GID:    st.GID,
			Parent: dir.Ino,
			ATime:  now,
			MTime:  now,
			CTime:  now,
		}
		if err := h.fs.storeNode(txn, rec); err != nil {
			return err
		}
		if err := txn.Set(keyDirent(h.fs.volume, h.ino, name), encodeUint64(newIno)); err != nil {
			return err
		}
		if err := h.fs.addCounter(txn, counterFiles, 1); err != nil {
			return err
		}
		dir.NLink++
		dir.MTime, dir.CTime = now, now
		if err := h.fs.storeNode(txn, dir); err != nil {
			return err
		}

		out = rec.stat(h.fs.dev)
		ino, gen = newIno, newGen
		return nil
	})
	if err != nil {
		return nil, err
	}
	*st = out
	return h.fs.pin(ino, gen), nil
}

// Unlink removes name from this directory. Directories must be empty.
// A removed node that is still open or pinned lingers anonymously until
// the last close/release.
func (h *nodeHandle) Unlink(ctx context.Context, name string) (err error) {
	defer h.fs.observe("unlink", time.Now(), &err)
	if err = ctx.Err(); err != nil {
		return err
	}

	var reap *reapTarget
	err = h.fs.update("unlink", func(txn *badger.Txn) error {
		reap = nil

		dir, err := h.loadOwn(txn)
		if err != nil {
			return err
		}
		if !dir.isDir() {
			return &tide.StoreError{Errno: tide.ENOTDIR, Op: "unlink", Path: name}
		}

		ino, err := h.fs.getDirent(txn, h.ino, name)
		if err != nil {
			if tide.IsErrno(err, tide.ENOENT) {
				return &tide.StoreError{Errno: tide.ENOENT, Op: "unlink", Path: name}
			}
			return err
		}
		node, err := h.fs.loadNode(txn, ino)
		if err != nil {
			return err
		}
		if node.isDir() && h.fs.hasDirents(txn, ino) {
			return &tide.StoreError{Errno: tide.ENOTEMPTY, Op: "unlink", Path: name}
		}

		if reap, err = h.fs.detachNode(txn, dir, name, node); err != nil {
			return err
		}
		now := time.Now()
		dir.MTime, dir.CTime = now, now
		return h.fs.storeNode(txn, dir)
	})
	if err != nil {
		return err
	}
	if reap != nil {
		h.fs.reapNode(ctx, reap.ino, reap.gen)
	}
	return nil
}

// ReadDir returns one page of entries starting after cookie. Cookie zero
// starts from the beginning; the returned next cookie resumes the scan.
// Entries come back in byte order of their names, which is also the key
// order of the dirent namespace, so paging needs no in-memory sort.
func (h *nodeHandle) ReadDir(ctx context.Context, cookie uint64) (_ []tide.DirEntry, _ uint64, _ bool, err error) {
	defer h.fs.observe("readdir", time.Now(), &err)
	if err = ctx.Err(); err != nil {
		return nil, 0, false, err
	}

	pageSize := h.fs.store.cfg.PageSize
	var entries []tide.DirEntry
	var eof bool
	err = h.fs.store.db.View(func(txn *badger.Txn) error {
		entries, eof = nil, false

		dir, err := h.loadOwn(txn)
		if err != nil {
			return err
		}
		if !dir.isDir() {
			return &tide.StoreError{Errno: tide.ENOTDIR, Op: "readdir"}
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyDirentPrefix(h.fs.volume, h.ino)
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixLen := len(opts.Prefix)
		var ord uint64
		for it.Rewind(); it.Valid(); it.Next() {
			ord++
			if ord <= cookie {
				continue
			}
			if len(entries) >= pageSize {
				// At least one entry follows the page.
				return nil
			}
			item := it.Item()
			name := string(item.Key()[prefixLen:])
			var childIno uint64
			verr := item.Value(func(val []byte) error {
				v, derr := decodeUint64(val)
				if derr != nil {
					return derr
				}
				childIno = v
				return nil
			})
			if verr != nil {
				return verr
			}
			entries = append(entries, tide.DirEntry{Name: name, Ino: childIno, Cookie: ord})
		}
		eof = true
		return nil
	})
	if err != nil {
		return nil, 0, false, err
	}
	return entries, cookie + uint64(len(entries)), eof, nil
}

// unlinkedNode reports whether the node still exists only as an unlinked
// orphan awaiting reap.
func (fs *FileSystem) unlinkedNode(ino, gen uint64) bool {
	unlinked := false
	err := fs.store.db.View(func(txn *badger.Txn) error {
		rec, err := fs.loadNode(txn, ino)
		if err != nil {
			if tide.IsErrno(err, tide.ESTALE) {
				return nil
			}
			return err
		}
		unlinked = rec.Unlinked && rec.Gen == gen
		return nil
	})
	if err != nil {
		logger.Warn("orphan check of node %016x failed: %v", ino, err)
		return false
	}
	return unlinked
}
