package vfs

import "strings"

// OpenFlags describes the access and deny modes of one open. Access bits
// and deny bits combine; the zero value means "closed".
//
// Deny bits implement share-reservation semantics: a holder of OpenDenyRead
// blocks other readers, a holder of OpenDenyWrite blocks other writers
// unless they bypass (stateless opens may), and OpenDenyWriteMandatory
// blocks other writers even through a bypass.
type OpenFlags uint16

const (
	// OpenClosed is the no-open state.
	OpenClosed OpenFlags = 0

	// OpenRead requests read access.
	OpenRead OpenFlags = 0x01

	// OpenWrite requests write access.
	OpenWrite OpenFlags = 0x02

	// OpenReadWrite requests both.
	OpenReadWrite OpenFlags = OpenRead | OpenWrite

	// OpenTruncate truncates the object to zero length at open.
	OpenTruncate OpenFlags = 0x04

	// OpenDenyRead denies read access to other openers.
	OpenDenyRead OpenFlags = 0x10

	// OpenDenyWrite denies write access to other openers, except those
	// that open with bypass semantics.
	OpenDenyWrite OpenFlags = 0x20

	// OpenDenyWriteMandatory denies write access to other openers and
	// cannot be bypassed.
	OpenDenyWriteMandatory OpenFlags = 0x40
)

// IsClosed reports whether no access bits are set.
func (f OpenFlags) IsClosed() bool {
	return f&OpenReadWrite == 0
}

// String renders the flags for logs.
func (f OpenFlags) String() string {
	if f == OpenClosed {
		return "closed"
	}
	parts := make([]string, 0, 4)
	if f&OpenRead != 0 {
		parts = append(parts, "read")
	}
	if f&OpenWrite != 0 {
		parts = append(parts, "write")
	}
	if f&OpenTruncate != 0 {
		parts = append(parts, "trunc")
	}
	if f&OpenDenyRead != 0 {
		parts = append(parts, "deny-read")
	}
	if f&OpenDenyWrite != 0 {
		parts = append(parts, "deny-write")
	}
	if f&OpenDenyWriteMandatory != 0 {
		parts = append(parts, "deny-write-mand")
	}
	return strings.Join(parts, "|")
}

// CreateMode selects the create semantics of an open request.
type CreateMode uint8

const (
	// CreateNone opens an existing object and never creates one.
	CreateNone CreateMode = iota

	// CreateUnchecked creates the object if missing and opens it whether
	// or not it already existed.
	CreateUnchecked

	// CreateGuarded creates the object and fails if it already exists.
	CreateGuarded

	// CreateExclusive creates the object, embedding a caller verifier so
	// a retried create of the same object is recognized as idempotent.
	CreateExclusive

	// CreateExclusiveNoVerify embeds the verifier like CreateExclusive
	// but leaves the comparison to the caller.
	CreateExclusiveNoVerify
)

// RequiresVerifier reports whether the mode embeds a create verifier in
// the object's attributes.
func (m CreateMode) RequiresVerifier() bool {
	return m >= CreateExclusive
}

// ChecksVerifier reports whether the adapter itself compares the embedded
// verifier after open.
func (m CreateMode) ChecksVerifier() bool {
	return m == CreateExclusive
}

// String returns the lowercase name of the create mode.
func (m CreateMode) String() string {
	switch m {
	case CreateNone:
		return "none"
	case CreateUnchecked:
		return "unchecked"
	case CreateGuarded:
		return "guarded"
	case CreateExclusive:
		return "exclusive"
	case CreateExclusiveNoVerify:
		return "exclusive-noverify"
	default:
		return "unknown"
	}
}
