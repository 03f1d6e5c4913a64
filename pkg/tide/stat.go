package tide

import "time"

// File mode bits in Stat.Mode. The type bits use the conventional POSIX
// octal layout; permission bits occupy the low 12 bits as usual.
const (
	ModeTypeMask uint32 = 0o170000
	ModeSocket   uint32 = 0o140000
	ModeSymlink  uint32 = 0o120000
	ModeRegular  uint32 = 0o100000
	ModeBlockDev uint32 = 0o060000
	ModeDir      uint32 = 0o040000
	ModeCharDev  uint32 = 0o020000
	ModeFifo     uint32 = 0o010000

	ModePermMask uint32 = 0o007777
)

// Stat is the store's per-node attribute record.
type Stat struct {
	// Dev identifies the filesystem instance (derives the protocol
	// fsid).
	Dev uint64

	// Ino is the node's object identifier within the filesystem.
	Ino uint64

	// Mode carries type and permission bits.
	Mode uint32

	// NLink is the link count; always 1 for files and 2+n for
	// directories on this store (hard links are unsupported).
	NLink uint32

	UID uint32
	GID uint32

	// RDev is the raw device number of block/char special nodes.
	RDev uint64

	// Size is the object length in bytes.
	Size uint64

	// Blocks is the allocated space in 512-byte units.
	Blocks uint64

	ATime time.Time
	MTime time.Time
	CTime time.Time
}

// IsDir reports whether the mode carries the directory type.
func (st *Stat) IsDir() bool {
	return st.Mode&ModeTypeMask == ModeDir
}

// IsRegular reports whether the mode carries the regular-file type.
func (st *Stat) IsRegular() bool {
	return st.Mode&ModeTypeMask == ModeRegular
}

// SetAttrMask selects Stat fields in a SetAttr call. Size is deliberately
// absent: size changes go through Truncate.
type SetAttrMask uint32

const (
	// SetAttrMode writes the permission bits (type bits are immutable).
	SetAttrMode SetAttrMask = 1 << iota

	// SetAttrUID writes the owner.
	SetAttrUID

	// SetAttrGID writes the group.
	SetAttrGID

	// SetAttrATime writes the access time.
	SetAttrATime

	// SetAttrMTime writes the modification time.
	SetAttrMTime

	// SetAttrCTime writes the change time.
	SetAttrCTime
)

// OpenFlag carries the store-level open and create options. The access
// mode is a two-bit field in the POSIX style, not a bitmask: extract it
// with AccessMode before comparing.
type OpenFlag uint32

const (
	// OpenRead opens for reading. It is the zero access mode.
	OpenRead OpenFlag = 0x0

	// OpenWrite opens for writing.
	OpenWrite OpenFlag = 0x1

	// OpenReadWrite opens for both.
	OpenReadWrite OpenFlag = 0x2

	// OpenAccessMask extracts the access-mode field.
	OpenAccessMask OpenFlag = 0x3

	// OpenCreate creates the object if it does not exist (Create calls
	// imply it).
	OpenCreate OpenFlag = 0x40

	// OpenExclusive makes creation fail with EEXIST when the name
	// already exists.
	OpenExclusive OpenFlag = 0x80

	// OpenTruncate truncates the object at open.
	OpenTruncate OpenFlag = 0x200
)

// AccessMode returns the access-mode field of the flags.
func (f OpenFlag) AccessMode() OpenFlag {
	return f & OpenAccessMask
}

// WantsWrite reports whether the access mode allows writing.
func (f OpenFlag) WantsWrite() bool {
	mode := f.AccessMode()
	return mode == OpenWrite || mode == OpenReadWrite
}

// WantsRead reports whether the access mode allows reading.
func (f OpenFlag) WantsRead() bool {
	mode := f.AccessMode()
	return mode == OpenRead || mode == OpenReadWrite
}
