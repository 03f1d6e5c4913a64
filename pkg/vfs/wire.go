package vfs

// DigestKind selects the wire flavor a handle digest is produced for.
// Both protocol generations use the same fixed-size key image here, but
// the request still names its flavor so unknown kinds can be rejected.
type DigestKind uint8

const (
	DigestV3 DigestKind = iota
	DigestV4
)

func (k DigestKind) String() string {
	switch k {
	case DigestV3:
		return "v3"
	case DigestV4:
		return "v4"
	default:
		return "unknown"
	}
}
