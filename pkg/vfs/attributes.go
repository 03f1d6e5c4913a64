package vfs

import (
	"strings"
	"time"
)

// FileType classifies a filesystem object.
type FileType uint32

const (
	// FileTypeNone is the zero value; no object has this type.
	FileTypeNone FileType = iota

	// FileTypeRegular is an ordinary file.
	FileTypeRegular

	// FileTypeDirectory is a directory.
	FileTypeDirectory

	// FileTypeBlockDevice is a block special device.
	FileTypeBlockDevice

	// FileTypeCharDevice is a character special device.
	FileTypeCharDevice

	// FileTypeSymlink is a symbolic link.
	FileTypeSymlink

	// FileTypeSocket is a unix domain socket.
	FileTypeSocket

	// FileTypeFifo is a named pipe.
	FileTypeFifo
)

// String returns the lowercase name of the file type.
func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "regular"
	case FileTypeDirectory:
		return "directory"
	case FileTypeBlockDevice:
		return "block-device"
	case FileTypeCharDevice:
		return "char-device"
	case FileTypeSymlink:
		return "symlink"
	case FileTypeSocket:
		return "socket"
	case FileTypeFifo:
		return "fifo"
	default:
		return "none"
	}
}

// FSID identifies the filesystem an object belongs to.
type FSID struct {
	Major uint64
	Minor uint64
}

// AttrMask selects attributes in an Attributes set. Bits mirror the
// protocol server's generic attribute vocabulary.
type AttrMask uint32

const (
	// AttrType selects the object type.
	AttrType AttrMask = 1 << iota

	// AttrMode selects the permission bits.
	AttrMode

	// AttrNumLinks selects the hard-link count.
	AttrNumLinks

	// AttrOwner selects the owner uid.
	AttrOwner

	// AttrGroup selects the group gid.
	AttrGroup

	// AttrRawDev selects the raw device number of special files.
	AttrRawDev

	// AttrATime selects the access timestamp.
	AttrATime

	// AttrCTime selects the attribute-change timestamp.
	AttrCTime

	// AttrMTime selects the modification timestamp.
	AttrMTime

	// AttrChgTime selects the change-visibility timestamp reported to
	// clients (tracks ctime on this backend).
	AttrChgTime

	// AttrSize selects the file size in bytes.
	AttrSize

	// AttrSpaceUsed selects the allocated-space figure.
	AttrSpaceUsed

	// AttrFSID selects the filesystem identifier.
	AttrFSID

	// AttrFileID selects the per-filesystem object identifier.
	AttrFileID

	// AttrATimeServer requests the access time be set to the server's
	// current clock rather than a caller-supplied value.
	AttrATimeServer

	// AttrMTimeServer requests the modification time be set to the
	// server's current clock rather than a caller-supplied value.
	AttrMTimeServer
)

// SupportedAttrs is the set of attributes this adapter can report.
const SupportedAttrs = AttrType | AttrSize | AttrFSID | AttrFileID |
	AttrMode | AttrNumLinks | AttrOwner | AttrGroup | AttrATime |
	AttrRawDev | AttrCTime | AttrMTime | AttrSpaceUsed | AttrChgTime

// SettableAttrs is the set of attributes this adapter can change. Size is
// included but handled as a truncate, not a plain attribute write.
const SettableAttrs = AttrMode | AttrOwner | AttrGroup | AttrATime |
	AttrCTime | AttrMTime | AttrSize | AttrATimeServer | AttrMTimeServer

var attrMaskNames = []struct {
	bit  AttrMask
	name string
}{
	{AttrType, "type"},
	{AttrMode, "mode"},
	{AttrNumLinks, "numlinks"},
	{AttrOwner, "owner"},
	{AttrGroup, "group"},
	{AttrRawDev, "rawdev"},
	{AttrATime, "atime"},
	{AttrCTime, "ctime"},
	{AttrMTime, "mtime"},
	{AttrChgTime, "chgtime"},
	{AttrSize, "size"},
	{AttrSpaceUsed, "spaceused"},
	{AttrFSID, "fsid"},
	{AttrFileID, "fileid"},
	{AttrATimeServer, "atime-server"},
	{AttrMTimeServer, "mtime-server"},
}

// String renders the mask as a +-joined list of attribute names.
func (m AttrMask) String() string {
	if m == 0 {
		return "none"
	}
	parts := make([]string, 0, 4)
	for _, entry := range attrMaskNames {
		if m&entry.bit != 0 {
			parts = append(parts, entry.name)
		}
	}
	return strings.Join(parts, "+")
}

// Has reports whether every bit of want is present in the mask.
func (m AttrMask) Has(want AttrMask) bool {
	return m&want == want
}

// Attributes is a generic attribute set. Valid records which fields carry
// meaningful values; fields whose bit is clear must be ignored.
//
// The Set* helpers keep field and mask in sync; direct field writes are
// fine as long as Valid is maintained alongside.
type Attributes struct {
	// Valid is the mask of populated fields.
	Valid AttrMask

	Type      FileType
	Mode      uint32
	NumLinks  uint32
	Owner     uint32
	Group     uint32
	RawDev    uint64
	ATime     time.Time
	CTime     time.Time
	MTime     time.Time
	ChgTime   time.Time
	Size      uint64
	SpaceUsed uint64
	FSID      FSID
	FileID    uint64
}

// Has reports whether the attribute bit is populated.
func (a *Attributes) Has(bit AttrMask) bool {
	return a.Valid&bit != 0
}

// Clear removes bits from the valid mask without touching field values.
func (a *Attributes) Clear(bits AttrMask) {
	a.Valid &^= bits
}

// SetMode populates the permission bits.
func (a *Attributes) SetMode(mode uint32) *Attributes {
	a.Mode = mode
	a.Valid |= AttrMode
	return a
}

// SetOwner populates the owner uid.
func (a *Attributes) SetOwner(uid uint32) *Attributes {
	a.Owner = uid
	a.Valid |= AttrOwner
	return a
}

// SetGroup populates the group gid.
func (a *Attributes) SetGroup(gid uint32) *Attributes {
	a.Group = gid
	a.Valid |= AttrGroup
	return a
}

// SetSize populates the file size.
func (a *Attributes) SetSize(size uint64) *Attributes {
	a.Size = size
	a.Valid |= AttrSize
	return a
}

// SetATime populates the access time with a caller-supplied value.
func (a *Attributes) SetATime(t time.Time) *Attributes {
	a.ATime = t
	a.Valid |= AttrATime
	return a
}

// SetMTime populates the modification time with a caller-supplied value.
func (a *Attributes) SetMTime(t time.Time) *Attributes {
	a.MTime = t
	a.Valid |= AttrMTime
	return a
}

// SetCTime populates the change time with a caller-supplied value.
func (a *Attributes) SetCTime(t time.Time) *Attributes {
	a.CTime = t
	a.Valid |= AttrCTime
	return a
}
