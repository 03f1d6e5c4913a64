package badger

import (
	"fmt"

	"github.com/google/uuid"
)

// Key namespaces. BadgerDB is a flat key-value store, so every record
// type gets a prefix, and every key carries the volume identity so one
// database can hold many volumes.
//
// Type            Key format                       Value
// =====================================================================
// Volume record   v:<volume>                       volumeRecord (JSON)
// Node record     n:<volume>:<ino>                 nodeRecord (JSON)
// Dirent          d:<volume>:<ino>:<name>          child ino (8 bytes BE)
// Counter         c:<volume>:used|files            uint64 (8 bytes BE)
// Sequence        q:<volume>:ino|gen               badger.Sequence state
//
// Inos are fixed-width lowercase hex so dirent prefixes scan cleanly and
// keys stay printable in badger tooling. Dirents sort by name within a
// directory, which ReadDir relies on for stable paging.
const (
	prefixVolume   = "v:"
	prefixNode     = "n:"
	prefixDirent   = "d:"
	prefixCounter  = "c:"
	prefixSequence = "q:"

	counterUsed  = "used"
	counterFiles = "files"
)

func keyVolume(volume uuid.UUID) []byte {
	return []byte(prefixVolume + volume.String())
}

func keyNode(volume uuid.UUID, ino uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%016x", prefixNode, volume, ino))
}

// keyNodePrefix scans all node records of one volume.
func keyNodePrefix(volume uuid.UUID) []byte {
	return []byte(prefixNode + volume.String() + ":")
}

func keyDirent(volume uuid.UUID, dir uint64, name string) []byte {
	return []byte(fmt.Sprintf("%s%s:%016x:%s", prefixDirent, volume, dir, name))
}

// keyDirentPrefix scans all entries of one directory.
func keyDirentPrefix(volume uuid.UUID, dir uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%016x:", prefixDirent, volume, dir))
}

func keyCounter(volume uuid.UUID, name string) []byte {
	return []byte(prefixCounter + volume.String() + ":" + name)
}

func keySequence(volume uuid.UUID, name string) []byte {
	return []byte(prefixSequence + volume.String() + ":" + name)
}
