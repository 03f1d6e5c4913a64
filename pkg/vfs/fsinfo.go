package vfs

import "time"

// Cookie is the opaque directory-enumeration resume position. Zero means
// "start of directory"; any other value is meaningful only to the backend
// that issued it.
type Cookie uint64

// FSLimits are the static capabilities and limits of one exported
// filesystem, reported once at mount time.
type FSLimits struct {
	MaxFileSize     uint64
	MaxLinkCount    uint32
	MaxNameLen      uint32
	MaxPathLen      uint32
	MaxReadSize     uint64
	MaxWriteSize    uint64
	LeaseTime       time.Duration
	NoTruncate      bool
	ChownRestricted bool
	CaseInsensitive bool
	CasePreserving  bool
	LinkSupport     bool
	SymlinkSupport  bool
	LockSupport     bool
	UniqueHandles   bool
	CanSetTime      bool
}

// DefaultFSLimits returns the limits every Tide export reports. The
// backend imposes no file-size ceiling of its own, names and paths cap at
// 1024 bytes, and hard links, symlinks and byte-range locks are not
// supported by the store.
func DefaultFSLimits() FSLimits {
	return FSLimits{
		MaxFileSize:     ^uint64(0),
		MaxLinkCount:    8,
		MaxNameLen:      1024,
		MaxPathLen:      1024,
		MaxReadSize:     0x400000,
		MaxWriteSize:    0x400000,
		LeaseTime:       10 * time.Second,
		NoTruncate:      true,
		ChownRestricted: false,
		CaseInsensitive: false,
		CasePreserving:  true,
		LinkSupport:     false,
		SymlinkSupport:  false,
		LockSupport:     false,
		UniqueHandles:   true,
		CanSetTime:      true,
	}
}

// DynamicFSInfo is the live space/object usage of one exported filesystem.
type DynamicFSInfo struct {
	TotalBytes uint64
	FreeBytes  uint64
	AvailBytes uint64
	TotalFiles uint64
	FreeFiles  uint64
	AvailFiles uint64
	TimeDelta  time.Duration
}
