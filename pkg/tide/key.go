package tide

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// KeySize is the exact wire size of an encoded NodeKey. Digest encoding
// and decoding enforce it strictly; there is no variable-length form.
const KeySize = 32

// NodeKey is the stable identity of one filesystem object: the volume it
// lives in, its object identifier and a generation number that changes
// when an identifier is reused. The encoded form is used verbatim both as
// the protocol wire digest and as a map key inside the adapter.
type NodeKey struct {
	Volume uuid.UUID
	Ino    uint64
	Gen    uint64
}

// Encode writes the key's 32-byte wire form into buf, which must be at
// least KeySize long, and returns the number of bytes written.
func (k NodeKey) Encode(buf []byte) int {
	copy(buf[0:16], k.Volume[:])
	binary.BigEndian.PutUint64(buf[16:24], k.Ino)
	binary.BigEndian.PutUint64(buf[24:32], k.Gen)
	return KeySize
}

// Bytes returns the key's wire form as a fresh slice.
func (k NodeKey) Bytes() []byte {
	buf := make([]byte, KeySize)
	k.Encode(buf)
	return buf
}

// DecodeNodeKey parses a wire-form key. The input length must be exactly
// KeySize.
func DecodeNodeKey(buf []byte) (NodeKey, error) {
	if len(buf) != KeySize {
		return NodeKey{}, &StoreError{Errno: EINVAL, Op: "decode-key",
			Path: fmt.Sprintf("%d bytes", len(buf))}
	}
	var k NodeKey
	copy(k.Volume[:], buf[0:16])
	k.Ino = binary.BigEndian.Uint64(buf[16:24])
	k.Gen = binary.BigEndian.Uint64(buf[24:32])
	return k, nil
}

// String renders the key for logs.
func (k NodeKey) String() string {
	return fmt.Sprintf("%s/%d.%d", k.Volume, k.Ino, k.Gen)
}
