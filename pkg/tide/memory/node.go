package memory

import (
	"context"
	"sort"
	"time"

	"github.com/tidefs/tidegate/pkg/tide"
)

// fsNode is the in-memory object record. All fields are guarded by the
// owning FileSystem's mutex.
type fsNode struct {
	ino uint64
	gen uint64

	mode  uint32
	uid   uint32
	gid   uint32
	rdev  uint64
	nlink uint32

	size    uint64
	content []byte

	atime time.Time
	mtime time.Time
	ctime time.Time

	// children maps entry name to ino for directories.
	children map[string]uint64
	parent   uint64

	// open reflects the single-open-per-node contract.
	open      bool
	openFlags tide.OpenFlag

	pins     int
	unlinked bool
}

func (n *fsNode) isDir() bool {
	return n.mode&tide.ModeTypeMask == tide.ModeDir
}

func (n *fsNode) isRegular() bool {
	return n.mode&tide.ModeTypeMask == tide.ModeRegular
}

func (n *fsNode) stat(dev uint64) tide.Stat {
	return tide.Stat{
		Dev:    dev,
		Ino:    n.ino,
		Mode:   n.mode,
		NLink:  n.nlink,
		UID:    n.uid,
		GID:    n.gid,
		RDev:   n.rdev,
		Size:   n.size,
		Blocks: (uint64(len(n.content)) + 511) / 512,
		ATime:  n.atime,
		MTime:  n.mtime,
		CTime:  n.ctime,
	}
}

// nodeHandle is a pinned reference to one fsNode.
type nodeHandle struct {
	fs       *FileSystem
	node     *fsNode
	released bool
}

var _ tide.NodeHandle = (*nodeHandle)(nil)

// Key returns the stable wire identity of the node.
func (h *nodeHandle) Key() tide.NodeKey {
	return tide.NodeKey{Volume: h.fs.volume, Ino: h.node.ino, Gen: h.node.gen}
}

// Release drops the pin. The handle must not be used afterwards.
func (h *nodeHandle) Release() {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.node.pins--
	h.fs.reapLocked(h.node)
}

// GetAttr snapshots the node's attributes.
func (h *nodeHandle) GetAttr(ctx context.Context) (tide.Stat, error) {
	if err := ctx.Err(); err != nil {
		return tide.Stat{}, err
	}

	h.fs.mu.RLock()
	defer h.fs.mu.RUnlock()
	return h.node.stat(h.fs.dev), nil
}

// SetAttr applies the masked fields of st to the node.
func (h *nodeHandle) SetAttr(ctx context.Context, st *tide.Stat, mask tide.SetAttrMask) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	n := h.node
	if mask&tide.SetAttrMode != 0 {
		n.mode = n.mode&tide.ModeTypeMask | st.Mode&tide.ModePermMask
	}
	if mask&tide.SetAttrUID != 0 {
		n.uid = st.UID
	}
	if mask&tide.SetAttrGID != 0 {
		n.gid = st.GID
	}
	if mask&tide.SetAttrATime != 0 {
		n.atime = st.ATime
	}
	if mask&tide.SetAttrMTime != 0 {
		n.mtime = st.MTime
	}
	if mask&tide.SetAttrCTime != 0 {
		n.ctime = st.CTime
	} else if mask != 0 {
		n.ctime = time.Now()
	}
	return nil
}

// Lookup resolves name under this directory. "." and ".." resolve to the
// node itself and its parent.
func (h *nodeHandle) Lookup(ctx context.Context, name string) (tide.NodeHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	n := h.node
	if !n.isDir() {
		return nil, &tide.StoreError{Errno: tide.ENOTDIR, Op: "lookup", Path: name}
	}

	switch name {
	case ".":
		return h.fs.pinLocked(n), nil
	case "..":
		return h.fs.pinLocked(h.fs.nodes[n.parent]), nil
	}

	childIno, ok := n.children[name]
	if !ok {
		return nil, &tide.StoreError{Errno: tide.ENOENT, Op: "lookup", Path: name}
	}
	return h.fs.pinLocked(h.fs.nodes[childIno]), nil
}

// Create makes (or opens) a regular file named name under this directory.
// Without OpenExclusive an existing entry is returned as is; with it the
// call fails EEXIST. st supplies initial mode and ownership and receives
// the resulting attributes.
func (h *nodeHandle) Create(ctx context.Context, name string, st *tide.Stat, flags tide.OpenFlag) (tide.NodeHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	dir := h.node
	if !dir.isDir() {
		return nil, &tide.StoreError{Errno: tide.ENOTDIR, Op: "create", Path: name}
	}
	if name == "" || name == "." || name == ".." {
		return nil, &tide.StoreError{Errno: tide.EINVAL, Op: "create", Path: name}
	}

	if existingIno, ok := dir.children[name]; ok {
		if flags&tide.OpenExclusive != 0 {
			return nil, &tide.StoreError{Errno: tide.EEXIST, Op: "create", Path: name}
		}
		existing := h.fs.nodes[existingIno]
		if existing.isDir() {
			return nil, &tide.StoreError{Errno: tide.EISDIR, Op: "create", Path: name}
		}
		*st = existing.stat(h.fs.dev)
		return h.fs.pinLocked(existing), nil
	}

	now := time.Now()
	node := &fsNode{
		ino:    h.fs.allocInoLocked(),
		gen:    h.fs.allocGenLocked(),
		mode:   tide.ModeRegular | st.Mode&tide.ModePermMask,
		uid:    st.UID,
		gid:    st.GID,
		nlink:  1,
		parent: dir.ino,
		atime:  now,
		mtime:  now,
		ctime:  now,
	}
	h.fs.nodes[node.ino] = node
	dir.children[name] = node.ino
	dir.mtime = now
	dir.ctime = now

	*st = node.stat(h.fs.dev)
	return h.fs.pinLocked(node), nil
}

// Mkdir makes a directory named name under this directory.
func (h *nodeHandle) Mkdir(ctx context.Context, name string, st *tide.Stat) (tide.NodeHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	dir := h.node
	if !dir.isDir() {
		return nil, &tide.StoreError{Errno: tide.ENOTDIR, Op: "mkdir", Path: name}
	}
	if name == "" || name == "." || name == ".." {
		return nil, &tide.StoreError{Errno: tide.EINVAL, Op: "mkdir", Path: name}
	}
	if _, ok := dir.children[name]; ok {
		return nil, &tide.StoreError{Errno: tide.EEXIST, Op: "mkdir", Path: name}
	}

	now := time.Now()
	node := &fsNode{
		ino:      h.fs.allocInoLocked(),
		gen:      h.fs.allocGenLocked(),
		mode:     tide.ModeDir | st.Mode&tide.ModePermMask,
		uid:      st.UID,
		gid:      st.GID,
		nlink:    2,
		parent:   dir.ino,
		children: make(map[string]uint64),
		atime:    now,
		mtime:    now,
		ctime:    now,
	}
	h.fs.nodes[node.ino] = node
	dir.children[name] = node.ino
	dir.nlink++
	dir.mtime = now
	dir.ctime = now

	*st = node.stat(h.fs.dev)
	return h.fs.pinLocked(node), nil
}

// Unlink removes name from this directory. Directories must be empty.
// A removed node that is still open or pinned lingers anonymously until
// the last close/release.
func (h *nodeHandle) Unlink(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	dir := h.node
	if !dir.isDir() {
		return &tide.StoreError{Errno: tide.ENOTDIR, Op: "unlink", Path: name}
	}
	ino, ok := dir.children[name]
	if !ok {
		return &tide.StoreError{Errno: tide.ENOENT, Op: "unlink", Path: name}
	}
	node := h.fs.nodes[ino]
	if node.isDir() && len(node.children) > 0 {
		return &tide.StoreError{Errno: tide.ENOTEMPTY, Op: "unlink", Path: name}
	}

	h.fs.removeNodeLocked(dir, name, node)
	now := time.Now()
	dir.mtime = now
	dir.ctime = now
	return nil
}

// ReadDir returns one page of entries starting after cookie. Cookie zero
// starts from the beginning; the returned next cookie resumes the scan.
func (h *nodeHandle) ReadDir(ctx context.Context, cookie uint64) ([]tide.DirEntry, uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, false, err
	}

	h.fs.mu.RLock()
	defer h.fs.mu.RUnlock()

	dir := h.node
	if !dir.isDir() {
		return nil, 0, false, &tide.StoreError{Errno: tide.ENOTDIR, Op: "readdir"}
	}

	names := make([]string, 0, len(dir.children))
	for name := range dir.children {
		names = append(names, name)
	}
	sort.Strings(names)

	if cookie >= uint64(len(names)) {
		return nil, cookie, true, nil
	}

	end := cookie + uint64(h.fs.opts.PageSize)
	if end > uint64(len(names)) {
		end = uint64(len(names))
	}

	entries := make([]tide.DirEntry, 0, end-cookie)
	for i := cookie; i < end; i++ {
		entries = append(entries, tide.DirEntry{
			Name:   names[i],
			Ino:    dir.children[names[i]],
			Cookie: i + 1,
		})
	}
	return entries, end, end == uint64(len(names)), nil
}
